package llm

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	pipelineerrors "github.com/opsmail/emailpipeline/pkg/shared/errors"
)

// CircuitBreakingClient wraps a Client with a gobreaker state machine so a
// provider restart trips the breaker instead of stacking up blocked
// retries, per spec.md §6 ("the core must tolerate provider restarts and
// transient 5xx").
type CircuitBreakingClient struct {
	inner   Client
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreakingClient wraps inner with a breaker named after its
// model ID, opening after 5 consecutive failures and probing again after
// 30s in the half-open state.
func NewCircuitBreakingClient(inner Client) *CircuitBreakingClient {
	settings := gobreaker.Settings{
		Name:        "llm-" + inner.ModelID(),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &CircuitBreakingClient{inner: inner, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (c *CircuitBreakingClient) ModelID() string { return c.inner.ModelID() }

// Generate routes the call through the breaker, translating an open-breaker
// rejection into a retryable error so the orchestrator's backoff applies.
func (c *CircuitBreakingClient) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.inner.Generate(ctx, prompt, opts)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return "", pipelineerrors.NetworkError("generate", c.inner.ModelID(), pipelineerrors.FailedTo("reach model provider: circuit open, service unavailable", err))
		}
		return "", err
	}
	return result.(string), nil
}
