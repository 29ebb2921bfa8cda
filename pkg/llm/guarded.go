package llm

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-identity/pkg/logging"
)

// GuardedClient puts a circuit breaker in front of another client so an
// unreachable provider fails fast instead of holding requests for the full timeout.
type GuardedClient struct {
	inner   LLMClient
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewGuardedClient wraps inner with breaker.
func NewGuardedClient(inner LLMClient, breaker *CircuitBreaker, logger *zap.Logger) *GuardedClient {
	return &GuardedClient{
		inner:   inner,
		breaker: breaker,
		logger:  logger.Named("llm.breaker"),
	}
}

// GenerateResponse forwards to the wrapped client unless the circuit is open.
func (g *GuardedClient) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error) {
	if ok, err := g.breaker.Allow(); !ok {
		return nil, NewErrorWithContext(ErrorTypeEndpoint, "provider unavailable", true, err,
			g.inner.GetModel(), g.inner.GetEndpoint(), 0)
	}

	result, err := g.inner.GenerateResponse(ctx, prompt, systemMessage, temperature)
	if err != nil {
		// A caller abandoning the request says nothing about provider health.
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		if g.breaker.RecordFailure() {
			g.logger.Warn("Classifier provider circuit opened",
				zap.String("model", g.inner.GetModel()),
				zap.Int("consecutive_failures", g.breaker.ConsecutiveFailures()),
				zap.String("error", logging.SanitizeError(err)))
		}
		return nil, err
	}

	if g.breaker.RecordSuccess() {
		g.logger.Info("Classifier provider circuit closed", zap.String("model", g.inner.GetModel()))
	}
	return result, nil
}

// GetModel returns the wrapped client's model.
func (g *GuardedClient) GetModel() string {
	return g.inner.GetModel()
}

// GetEndpoint returns the wrapped client's endpoint.
func (g *GuardedClient) GetEndpoint() string {
	return g.inner.GetEndpoint()
}

// Breaker exposes the breaker for health reporting.
func (g *GuardedClient) Breaker() *CircuitBreaker {
	return g.breaker
}
