// Package mocks provides test doubles for the model service layer.
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentmesh/llm"
	"github.com/BaSui01/agentmesh/types"
)

// MockProvider is a configurable llm.Provider test double. Builder methods
// return the receiver so setups chain; all methods are safe for concurrent
// use.
type MockProvider struct {
	mu sync.RWMutex

	name         string
	models       []string
	credentialed bool

	response         string
	streamChunks     []string
	err              error
	promptTokens     int
	completionTokens int
	cost             float64
	delay            time.Duration
	failAfter        int

	completionFunc func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
	streamFunc     func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error)

	callCount int
	calls     []*llm.ChatRequest
}

// NewMockProvider creates a provider that answers "Mock response" to
// everything.
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		name:             name,
		models:           []string{"mock-model"},
		credentialed:     true,
		response:         "Mock response",
		promptTokens:     10,
		completionTokens: 20,
	}
}

// WithResponse sets the fixed completion content.
func (m *MockProvider) WithResponse(response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithError makes every call fail with err.
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithStreamChunks sets the chunk sequence Stream emits.
func (m *MockProvider) WithStreamChunks(chunks ...string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamChunks = chunks
	return m
}

// WithModels sets the advertised model list.
func (m *MockProvider) WithModels(models ...string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models = models
	return m
}

// WithCredentials controls HasCredentials.
func (m *MockProvider) WithCredentials(has bool) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentialed = has
	return m
}

// WithTokenUsage sets the reported token counts.
func (m *MockProvider) WithTokenUsage(prompt, completion int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promptTokens = prompt
	m.completionTokens = completion
	return m
}

// WithCost sets the reported cost per completion.
func (m *MockProvider) WithCost(usd float64) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cost = usd
	return m
}

// WithDelay makes every call sleep before answering.
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithFailAfter makes calls fail once n calls have succeeded.
func (m *MockProvider) WithFailAfter(n int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	return m
}

// WithCompletionFunc overrides Completion entirely.
func (m *MockProvider) WithCompletionFunc(fn func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completionFunc = fn
	return m
}

// WithStreamFunc overrides Stream entirely.
func (m *MockProvider) WithStreamFunc(fn func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamFunc = fn
	return m
}

// CallCount reports how many chat calls were made.
func (m *MockProvider) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callCount
}

// Calls returns the recorded requests in call order.
func (m *MockProvider) Calls() []*llm.ChatRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*llm.ChatRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockProvider) begin(req *llm.ChatRequest) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.calls = append(m.calls, req)
	if m.err != nil {
		return 0, m.err
	}
	if m.failAfter > 0 && m.callCount > m.failAfter {
		return 0, types.NewError(types.ErrUpstreamError, "mock provider failure injected")
	}
	return m.delay, nil
}

// Completion implements llm.Provider.
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.RLock()
	fn := m.completionFunc
	m.mu.RUnlock()
	if fn != nil {
		return fn(ctx, req)
	}

	delay, err := m.begin(req)
	if err != nil {
		return nil, err
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return &llm.ChatResponse{
		Provider: m.name,
		Model:    req.Model,
		Content:  m.response,
		Usage: llm.ChatUsage{
			PromptTokens:     m.promptTokens,
			CompletionTokens: m.completionTokens,
			TotalTokens:      m.promptTokens + m.completionTokens,
			Cost:             m.cost,
		},
		CreatedAt: time.Now(),
	}, nil
}

// Stream implements llm.Provider. Without configured chunks, the fixed
// response is emitted as a single chunk.
func (m *MockProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	m.mu.RLock()
	fn := m.streamFunc
	m.mu.RUnlock()
	if fn != nil {
		return fn(ctx, req)
	}

	delay, err := m.begin(req)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	chunks := m.streamChunks
	if len(chunks) == 0 {
		chunks = []string{m.response}
	}
	usage := llm.ChatUsage{
		PromptTokens:     m.promptTokens,
		CompletionTokens: m.completionTokens,
		TotalTokens:      m.promptTokens + m.completionTokens,
		Cost:             m.cost,
	}
	m.mu.RUnlock()

	out := make(chan llm.StreamChunk, len(chunks)+1)
	go func() {
		defer close(out)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
		for _, c := range chunks {
			select {
			case out <- llm.StreamChunk{Content: c}:
			case <-ctx.Done():
				return
			}
		}
		out <- llm.StreamChunk{FinishReason: "stop", Usage: &usage}
	}()
	return out, nil
}

// HealthCheck implements llm.Provider.
func (m *MockProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	return &llm.HealthStatus{Healthy: true, Latency: time.Millisecond}, nil
}

// Name implements llm.Provider.
func (m *MockProvider) Name() string { return m.name }

// Models implements llm.Provider.
func (m *MockProvider) Models() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.models))
	copy(out, m.models)
	return out
}

// HasCredentials implements llm.Provider.
func (m *MockProvider) HasCredentials() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.credentialed
}
