package llm

import (
	"context"
	"sync"
)

// MockClient replays scripted responses. Used in tests and when the
// backend runs with provider "mock".
type MockClient struct {
	mu        sync.Mutex
	responses []string
	calls     []CompletionRequest
	err       error
}

// NewMockClient creates a mock that cycles through responses in order,
// repeating the last one when exhausted.
func NewMockClient(responses ...string) *MockClient {
	return &MockClient{responses: responses}
}

// FailWith makes every call return err.
func (m *MockClient) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the requests seen so far.
func (m *MockClient) Calls() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompletionRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// Complete implements the Client interface.
func (m *MockClient) Complete(_ context.Context, in CompletionRequest) (CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, in)
	if m.err != nil {
		return CompletionResponse{}, m.err
	}
	if len(m.responses) == 0 {
		return CompletionResponse{Content: "", StopReason: "end_turn"}, nil
	}

	idx := len(m.calls) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return CompletionResponse{Content: m.responses[idx], StopReason: "end_turn"}, nil
}

// Stream implements the Client interface.
func (m *MockClient) Stream(ctx context.Context, in CompletionRequest) (<-chan StreamChunk, error) {
	return streamViaComplete(ctx, m, in)
}

// ModelName returns a fixed mock identifier.
func (m *MockClient) ModelName() string {
	return "mock"
}
