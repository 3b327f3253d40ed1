package llm

import (
	"context"
	"sync"
)

// FakeClient is a deterministic, in-memory Client for unit and orchestrator
// tests — no network calls, scriptable responses and failures, matching
// the teacher's MockSLMClient pattern (a test double living alongside the
// production client rather than a generated mock).
type FakeClient struct {
	mu        sync.Mutex
	modelID   string
	responses []string
	err       error
	calls     int
	Prompts   []string
}

// NewFakeClient builds a FakeClient for modelID that returns responses in
// order, repeating the last one once exhausted.
func NewFakeClient(modelID string, responses ...string) *FakeClient {
	return &FakeClient{modelID: modelID, responses: responses}
}

func (f *FakeClient) ModelID() string { return f.modelID }

// SetError makes every subsequent Generate call return err.
func (f *FakeClient) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// CallCount returns how many times Generate has been invoked.
func (f *FakeClient) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeClient) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.Prompts = append(f.Prompts, prompt)

	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", nil
	}
	idx := f.calls - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return f.responses[idx], nil
}
