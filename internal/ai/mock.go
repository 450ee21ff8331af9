package ai

import (
	"context"
	"sync"
)

// MockProvider is a test double for AI providers.
type MockProvider struct {
	Response  string
	Err       error
	ID        string // reported by Name, default "mock"
	Truncated bool

	mu          sync.Mutex
	lastRequest *CompletionRequest
	calls       int
}

// NewMockProvider creates a MockProvider that returns the given response.
func NewMockProvider(response string) *MockProvider {
	return &MockProvider{Response: response}
}

func (m *MockProvider) Name() string {
	if m.ID == "" {
		return "mock"
	}
	return m.ID
}

func (m *MockProvider) Complete(_ context.Context, req CompletionRequest) (CompletionResponse, error) {
	m.mu.Lock()
	m.lastRequest = &req
	m.calls++
	m.mu.Unlock()

	if m.Err != nil {
		return CompletionResponse{}, m.Err
	}
	return CompletionResponse{
		Content:      m.Response,
		Model:        "mock",
		InputTokens:  10,
		OutputTokens: len(m.Response),
		Truncated:    m.Truncated,
	}, nil
}

func (m *MockProvider) HealthCheck(_ context.Context) error {
	return m.Err
}

// LastRequest returns the last request received, or nil.
func (m *MockProvider) LastRequest() *CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRequest
}

// Calls returns the number of Complete calls.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
