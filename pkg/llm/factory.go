package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-identity/pkg/config"
)

// NewClassifierClient builds the client for the configured classifier provider,
// wrapped in a circuit breaker. It returns nil for the stub provider, which
// needs no model.
func NewClassifierClient(cfg *config.ClassifierConfig, logger *zap.Logger) (LLMClient, error) {
	clientCfg := &Config{
		Endpoint:  cfg.Endpoint,
		Model:     cfg.Model,
		APIKey:    cfg.APIKey,
		MaxTokens: cfg.MaxTokens,
		JSONMode:  !cfg.DisableJSONMode,
	}

	var (
		inner LLMClient
		err   error
	)
	switch cfg.Provider {
	case config.ProviderStub:
		return nil, nil
	case config.ProviderOpenAI:
		inner, err = NewClient(clientCfg, logger)
	case config.ProviderAnthropic:
		inner, err = NewAnthropicClient(clientCfg, logger)
	default:
		return nil, fmt.Errorf("unknown classifier provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", cfg.Provider, err)
	}

	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		Threshold:  cfg.CircuitThreshold,
		ResetAfter: cfg.CircuitReset(),
	})

	logger.Info("Classifier client configured",
		zap.String("provider", cfg.Provider),
		zap.String("model", inner.GetModel()))

	return NewGuardedClient(inner, breaker, logger), nil
}
