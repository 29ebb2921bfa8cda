package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-identity/pkg/logging"
)

// defaultMaxTokens bounds classifier replies, which are small JSON objects.
const defaultMaxTokens = 1024

// Config holds configuration for creating an LLM client.
type Config struct {
	Endpoint string // OpenAI-compatible base URL. Ignored by Anthropic.
	Model    string
	APIKey   string // Optional for local endpoints

	// MaxTokens caps the completion length. Zero means defaultMaxTokens.
	MaxTokens int
	// JSONMode asks OpenAI-compatible servers for a JSON object reply.
	// Some local servers reject response_format, so it can be turned off.
	JSONMode bool
}

func (c *Config) maxTokens() int {
	if c.MaxTokens <= 0 {
		return defaultMaxTokens
	}
	return c.MaxTokens
}

// Client talks to OpenAI-compatible chat completion endpoints.
type Client struct {
	client    *openai.Client
	endpoint  string
	model     string
	maxTokens int
	jsonMode  bool
	logger    *zap.Logger
}

// NewClient creates a client for an OpenAI-compatible endpoint.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	endpoint := strings.TrimSuffix(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	sdkConfig := openai.DefaultConfig(cfg.APIKey)
	sdkConfig.BaseURL = endpoint

	return &Client{
		client:    openai.NewClientWithConfig(sdkConfig),
		endpoint:  endpoint,
		model:     cfg.Model,
		maxTokens: cfg.maxTokens(),
		jsonMode:  cfg.JSONMode,
		logger:    logger.Named("llm.openai"),
	}, nil
}

func (c *Client) request(prompt, systemMessage string, temperature float64) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemMessage},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(temperature),
		MaxTokens:   c.maxTokens,
	}
	if c.jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return req
}

// GenerateResponse runs one chat completion and returns the first choice.
func (c *Client) GenerateResponse(
	ctx context.Context,
	prompt string,
	systemMessage string,
	temperature float64,
) (*GenerateResponseResult, error) {
	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, c.request(prompt, systemMessage, temperature))
	if err != nil {
		llmErr := ClassifyError(err)
		llmErr.Model = c.model
		llmErr.Endpoint = c.endpoint
		c.logger.Warn("Completion failed",
			zap.String("model", c.model),
			zap.String("type", string(llmErr.Type)),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, llmErr
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, NewError(ErrorTypeUnknown, "empty completion", false, nil)
	}
	if resp.Choices[0].FinishReason == openai.FinishReasonLength {
		c.logger.Warn("Completion truncated at max tokens",
			zap.String("model", c.model),
			zap.Int("max_tokens", c.maxTokens))
	}

	c.logger.Debug("Completion finished",
		zap.String("model", c.model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &GenerateResponseResult{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

func (c *Client) GetModel() string {
	return c.model
}

func (c *Client) GetEndpoint() string {
	return c.endpoint
}
