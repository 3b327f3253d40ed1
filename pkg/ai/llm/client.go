// Package llm defines the text-generation model contract consumed by the
// Phase-2 Analyst and Phase-3 Strategist, per spec.md §6, plus the two
// concrete backends (Anthropic, AWS Bedrock) that exercise it.
package llm

import (
	"context"
	"time"
)

// Options bounds a single Generate call. An explicit struct is used
// instead of a free-form parameter map, per spec.md §9's design notes.
type Options struct {
	MaxTokens   int
	Temperature float64
	Stop        []string
	Timeout     time.Duration
}

// Client is the narrow text-generation contract the core depends on.
// Implementations must tolerate provider restarts and transient 5xx
// responses (spec.md §6); pkg/ai/llm.CircuitBreakingClient wraps any Client to
// satisfy that requirement uniformly.
type Client interface {
	// Generate produces a single completion for prompt.
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
	// ModelID returns the identifier this client was constructed for,
	// recorded on PhaseResult.ModelID.
	ModelID() string
}
