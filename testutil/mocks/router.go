package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/agentmesh/llm/router"
)

// MockRouter is a router.TaskRouter test double returning a fixed result, a
// fixed error, or per-text results keyed on the segment.
type MockRouter struct {
	mu     sync.Mutex
	result *router.Result
	err    error
	byText map[string]*router.Result
	routed []string
}

// NewMockRouter answers every segment with the given result.
func NewMockRouter(result *router.Result) *MockRouter {
	return &MockRouter{result: result, byText: make(map[string]*router.Result)}
}

// WithError makes Route fail.
func (m *MockRouter) WithError(err error) *MockRouter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithTextResult overrides the result for one exact segment.
func (m *MockRouter) WithTextResult(text string, result *router.Result) *MockRouter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byText[text] = result
	return m
}

// Routed returns the segments Route was called with, in order.
func (m *MockRouter) Routed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.routed))
	copy(out, m.routed)
	return out
}

// Route implements router.TaskRouter.
func (m *MockRouter) Route(ctx context.Context, req *router.Request) (*router.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routed = append(m.routed, req.Text)
	if m.err != nil {
		return nil, m.err
	}
	if res, ok := m.byText[req.Text]; ok {
		return res, nil
	}
	return m.result, nil
}
