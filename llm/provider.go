// Package llm defines the seam between the mesh and the model service layer.
// The mesh only calls Provider; per-backend protocols live behind it.
package llm

import (
	"context"
	"time"

	"github.com/BaSui01/agentmesh/types"
)

// ChatRequest is a chat completion request routed to one provider/model.
type ChatRequest struct {
	Model       string          `json:"model"`
	Messages    []types.Message `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float32         `json:"temperature,omitempty"`
	Timeout     time.Duration   `json:"timeout,omitempty"`
}

// ChatUsage reports token consumption and cost for one completion.
type ChatUsage struct {
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	TotalTokens      int     `json:"total_tokens,omitempty"`
	Cost             float64 `json:"cost,omitempty"` // USD
}

// ChatResponse is a complete (non-streaming) completion.
type ChatResponse struct {
	ID        string    `json:"id,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Model     string    `json:"model"`
	Content   string    `json:"content"`
	Usage     ChatUsage `json:"usage,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// StreamChunk is one increment of a streaming completion. The final chunk
// carries FinishReason and, when available, Usage. Err terminates the stream.
type StreamChunk struct {
	Content      string       `json:"content,omitempty"`
	FinishReason string       `json:"finish_reason,omitempty"`
	Usage        *ChatUsage   `json:"usage,omitempty"`
	Err          *types.Error `json:"error,omitempty"`
}

// HealthStatus is the result of a provider liveness probe.
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
}

// Provider is the unified model-backend adapter interface.
type Provider interface {
	// Completion issues a synchronous chat request and returns the full response.
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Stream issues a streaming chat request. The returned channel is closed
	// after the final chunk; an Err chunk ends the stream early.
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)

	// HealthCheck performs a lightweight availability probe.
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Name returns the provider's unique identifier.
	Name() string

	// Models returns the model identifiers this provider can serve.
	Models() []string

	// HasCredentials reports whether the provider is configured with usable
	// credentials. Delegation only considers credentialed providers.
	HasCredentials() bool
}
