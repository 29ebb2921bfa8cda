package services

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-identity/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-identity/pkg/jsonutil"
	"github.com/ekaya-inc/ekaya-identity/pkg/llm"
	"github.com/ekaya-inc/ekaya-identity/pkg/logging"
	"github.com/ekaya-inc/ekaya-identity/pkg/models"
	"github.com/ekaya-inc/ekaya-identity/pkg/prompts"
	"github.com/ekaya-inc/ekaya-identity/pkg/retry"
)

// Classifier places free text into an identity's tree and suggests categories.
// Implementations return errors wrapping ErrClassifierUnavailable when the
// collaborator fails or times out.
type Classifier interface {
	Categorize(ctx context.Context, req *models.CategorizeRequest) (*models.CategorizeResult, error)
	Suggest(ctx context.Context, req *models.SuggestRequest) (*models.SuggestResult, error)
}

// classifierTemperature keeps placement deterministic enough to be predictable.
const classifierTemperature = 0.2

// LLMClassifier asks a language model through an llm.LLMClient.
type LLMClassifier struct {
	client  llm.LLMClient
	timeout time.Duration
	logger  *zap.Logger
}

// NewLLMClassifier creates a classifier bounded by timeout per call.
func NewLLMClassifier(client llm.LLMClient, timeout time.Duration, logger *zap.Logger) *LLMClassifier {
	return &LLMClassifier{
		client:  client,
		timeout: timeout,
		logger:  logger.Named("classifier"),
	}
}

var _ Classifier = (*LLMClassifier)(nil)

// categorizeReply tolerates "", "null" or a malformed id from the model, and
// scalars of the wrong JSON type.
type categorizeReply struct {
	Category      json.RawMessage `json:"category"`
	CategoryID    json.RawMessage `json:"categoryId"`
	IsNew         json.RawMessage `json:"isNew"`
	SuggestedType json.RawMessage `json:"suggestedType"`
}

func (c *LLMClassifier) Categorize(ctx context.Context, req *models.CategorizeRequest) (*models.CategorizeResult, error) {
	content, err := c.generate(ctx, prompts.BuildCategorizePrompt(req))
	if err != nil {
		return nil, err
	}

	reply, err := llm.ParseJSONResponse[categorizeReply](content)
	if err != nil {
		c.logger.Warn("Unparseable categorize reply", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", apperrors.ErrClassifierUnavailable, err)
	}

	isNew, _ := jsonutil.FlexibleBool(reply.IsNew)
	result := &models.CategorizeResult{
		Category:      strings.TrimSpace(jsonutil.FlexibleStringValue(reply.Category)),
		IsNew:         isNew,
		SuggestedType: strings.TrimSpace(jsonutil.FlexibleStringValue(reply.SuggestedType)),
	}
	if id, err := uuid.Parse(strings.TrimSpace(jsonutil.FlexibleStringValue(reply.CategoryID))); err == nil {
		result.CategoryID = &id
	}
	if result.CategoryID == nil {
		result.IsNew = true
	}
	if result.Category == "" {
		return nil, fmt.Errorf("%w: empty category in reply", apperrors.ErrClassifierUnavailable)
	}

	return result, nil
}

func (c *LLMClassifier) Suggest(ctx context.Context, req *models.SuggestRequest) (*models.SuggestResult, error) {
	content, err := c.generate(ctx, prompts.BuildSuggestPrompt(req))
	if err != nil {
		return nil, err
	}

	result, err := llm.ParseJSONResponse[models.SuggestResult](content)
	if err != nil {
		c.logger.Warn("Unparseable suggest reply", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", apperrors.ErrClassifierUnavailable, err)
	}
	return &result, nil
}

func (c *LLMClassifier) generate(ctx context.Context, prompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	// A single attempt: failures go back to the caller, who owns retry policy.
	start := time.Now()
	resp, err := c.client.GenerateResponse(ctx, prompt, prompts.ClassifierSystemMessage, classifierTemperature)
	if err != nil {
		c.logger.Warn("Classifier call failed",
			zap.String("model", c.client.GetModel()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("error_type", string(llm.GetErrorType(err))),
			zap.Bool("retryable", retry.IsRetryable(err)),
			zap.String("error", logging.SanitizeError(err)))
		return "", fmt.Errorf("%w: %w", apperrors.ErrClassifierUnavailable, err)
	}

	c.logger.Debug("Classifier call completed",
		zap.String("model", c.client.GetModel()),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("prompt_tokens", resp.PromptTokens),
		zap.Int("completion_tokens", resp.CompletionTokens))

	return resp.Content, nil
}

// StubClassifier is a deterministic classifier that matches by name. It is
// used in tests and when no model is configured.
type StubClassifier struct {
	// Rules maps a lower-case keyword found in the text to a category name.
	Rules map[string]string
	// Fallback names the new root category proposed when nothing matches.
	Fallback string
	// Suggestions are offered by lower-case parent name; the "" entry is used
	// for roots and unknown parents. Nil means the built-in table.
	Suggestions map[string][]models.CategorySuggestion
}

// NewStubClassifier returns a stub with a small built-in keyword table.
func NewStubClassifier() *StubClassifier {
	return &StubClassifier{
		Rules: map[string]string{
			"band":       "Music",
			"album":      "Music",
			"song":       "Music",
			"jazz":       "Music",
			"restaurant": "Food",
			"cuisine":    "Food",
			"recipe":     "Food",
			"brand":      "Shopping",
			"store":      "Shopping",
			"podcast":    "News",
			"newspaper":  "News",
		},
		Fallback: "Interests",
	}
}

var _ Classifier = (*StubClassifier)(nil)

func (s *StubClassifier) Categorize(ctx context.Context, req *models.CategorizeRequest) (*models.CategorizeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrClassifierUnavailable, err)
	}
	text := strings.ToLower(strings.TrimSpace(req.Text))

	// An existing category named in the text wins, the most specific (longest path) first.
	var best *models.CategoryOption
	for i := range req.Categories {
		c := &req.Categories[i]
		if text != "" && strings.Contains(text, nameKey(c.Name)) {
			if best == nil || len(c.Path) > len(best.Path) {
				best = c
			}
		}
	}
	if best != nil {
		return existingResult(best), nil
	}

	for _, keyword := range slices.Sorted(maps.Keys(s.Rules)) {
		name := s.Rules[keyword]
		if !strings.Contains(text, keyword) {
			continue
		}
		if c := optionByName(req.Categories, name); c != nil {
			return existingResult(c), nil
		}
		return &models.CategorizeResult{Category: name, IsNew: true, SuggestedType: strings.ToLower(name)}, nil
	}

	if req.SourceCategoryHint != "" {
		if c := optionByName(req.Categories, req.SourceCategoryHint); c != nil {
			return existingResult(c), nil
		}
	}

	fallback := s.Fallback
	if fallback == "" {
		fallback = "Interests"
	}
	if c := optionByName(req.Categories, fallback); c != nil {
		return existingResult(c), nil
	}
	return &models.CategorizeResult{Category: fallback, IsNew: true, SuggestedType: models.DefaultCategoryType}, nil
}

// stubSuggestions are offered by category type; unknown types get the root list.
var stubSuggestions = map[string][]models.CategorySuggestion{
	"": {
		{Name: "Music", Reason: "Most people have favourite artists", Type: "music"},
		{Name: "Food", Reason: "Cuisines and restaurants you enjoy", Type: "food"},
		{Name: "Shopping", Reason: "Brands and stores you trust", Type: "shopping"},
		{Name: "News", Reason: "Sources and topics you follow", Type: "news"},
	},
	"music": {
		{Name: "Jazz", Reason: "A common music subgenre", Type: "music"},
		{Name: "Rock", Reason: "A common music subgenre", Type: "music"},
		{Name: "Electronic", Reason: "A common music subgenre", Type: "music"},
	},
	"food": {
		{Name: "Italian", Reason: "A popular cuisine", Type: "food"},
		{Name: "Japanese", Reason: "A popular cuisine", Type: "food"},
		{Name: "Desserts", Reason: "Sweet preferences", Type: "food"},
	},
}

func (s *StubClassifier) Suggest(ctx context.Context, req *models.SuggestRequest) (*models.SuggestResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrClassifierUnavailable, err)
	}

	table := s.Suggestions
	if table == nil {
		table = stubSuggestions
	}

	key := ""
	if req.ParentCategoryID != nil {
		key = strings.ToLower(req.ParentCategoryName)
		if _, ok := table[key]; !ok {
			key = ""
		}
	}
	return &models.SuggestResult{
		Suggestions: append([]models.CategorySuggestion(nil), table[key]...),
	}, nil
}

func existingResult(c *models.CategoryOption) *models.CategorizeResult {
	id := c.ID
	return &models.CategorizeResult{Category: c.Name, CategoryID: &id, SuggestedType: c.Type}
}

// nameKey folds case and plurals so "Restaurants" and "restaurant" compare equal.
func nameKey(name string) string {
	return inflection.Singular(strings.ToLower(strings.TrimSpace(name)))
}

func optionByName(options []models.CategoryOption, name string) *models.CategoryOption {
	key := nameKey(name)
	for i := range options {
		if nameKey(options[i].Name) == key {
			return &options[i]
		}
	}
	return nil
}
