package services

import (
	"context"
	"sync"
)

// MockLLM is a mock implementation of LLMService for testing
type MockLLM struct {
	CompleteFunc func(ctx context.Context, req CompletionRequest) (string, error)

	// Track calls for testing
	CompleteCalls []CompletionRequest

	mu sync.Mutex // protects all fields above
}

var _ LLMService = (*MockLLM)(nil)

// NewMockLLM creates a new mock LLM service
func NewMockLLM() *MockLLM {
	return &MockLLM{
		CompleteCalls: make([]CompletionRequest, 0),
	}
}

func (m *MockLLM) Name() string {
	return "mock"
}

// Complete records the request and delegates to CompleteFunc
func (m *MockLLM) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	m.mu.Lock()
	m.CompleteCalls = append(m.CompleteCalls, req)
	fn := m.CompleteFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return "Mock response", nil
}

// SetResponse makes every call return text
func (m *MockLLM) SetResponse(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteFunc = func(ctx context.Context, req CompletionRequest) (string, error) {
		return text, nil
	}
}

// SetError makes every call fail with err
func (m *MockLLM) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteFunc = func(ctx context.Context, req CompletionRequest) (string, error) {
		return "", err
	}
}

// SetProfileResponses answers by profile. Profiles without an entry get
// "Mock response".
func (m *MockLLM) SetProfileResponses(responses map[Profile]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteFunc = func(ctx context.Context, req CompletionRequest) (string, error) {
		if text, ok := responses[req.Profile]; ok {
			return text, nil
		}
		return "Mock response", nil
	}
}

// GetCalls returns a copy of the recorded requests
func (m *MockLLM) GetCalls() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]CompletionRequest, len(m.CompleteCalls))
	copy(calls, m.CompleteCalls)
	return calls
}

// CallsFor returns the recorded requests for one profile
func (m *MockLLM) CallsFor(p Profile) []CompletionRequest {
	var out []CompletionRequest
	for _, c := range m.GetCalls() {
		if c.Profile == p {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears all call tracking
func (m *MockLLM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteCalls = make([]CompletionRequest, 0)
}
