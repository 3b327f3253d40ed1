package llm

import (
	"context"
	"errors"
	"testing"
)

func TestCircuitBreakingClient_PassesThroughSuccess(t *testing.T) {
	fake := NewFakeClient("test-model", "hello")
	cb := NewCircuitBreakingClient(fake)

	got, err := cb.Generate(context.Background(), "prompt", Options{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "hello" {
		t.Errorf("Generate() = %q, want %q", got, "hello")
	}
	if cb.ModelID() != "test-model" {
		t.Errorf("ModelID() = %q, want test-model", cb.ModelID())
	}
}

func TestCircuitBreakingClient_TripsAfterConsecutiveFailures(t *testing.T) {
	fake := NewFakeClient("test-model")
	fake.SetError(errors.New("provider unavailable"))
	cb := NewCircuitBreakingClient(fake)

	var lastErr error
	for i := 0; i < 6; i++ {
		_, lastErr = cb.Generate(context.Background(), "prompt", Options{})
	}
	if lastErr == nil {
		t.Fatal("expected an error after repeated failures")
	}

	// Breaker should now be open: the underlying fake is not called again.
	callsBeforeOpen := fake.CallCount()
	_, err := cb.Generate(context.Background(), "prompt", Options{})
	if err == nil {
		t.Fatal("expected breaker-open error")
	}
	if fake.CallCount() != callsBeforeOpen {
		t.Errorf("expected no additional call to inner client while breaker is open, calls went from %d to %d", callsBeforeOpen, fake.CallCount())
	}
}

func TestFakeClient_CyclesThroughResponses(t *testing.T) {
	fake := NewFakeClient("m", "first", "second")

	got1, _ := fake.Generate(context.Background(), "p1", Options{})
	got2, _ := fake.Generate(context.Background(), "p2", Options{})
	got3, _ := fake.Generate(context.Background(), "p3", Options{})

	if got1 != "first" || got2 != "second" || got3 != "second" {
		t.Errorf("responses = %q, %q, %q; want first, second, second", got1, got2, got3)
	}
	if fake.CallCount() != 3 {
		t.Errorf("CallCount() = %d, want 3", fake.CallCount())
	}
	if len(fake.Prompts) != 3 || fake.Prompts[1] != "p2" {
		t.Errorf("Prompts = %v", fake.Prompts)
	}
}
