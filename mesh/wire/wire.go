// Package wire defines the JSON shapes both sides of the mesh protocol
// speak. Field names here are a compatibility contract: this node's server
// must interoperate with other nodes' clients and vice versa, including
// across independent implementations of the protocol.
package wire

import "github.com/BaSui01/agentmesh/types"

// DoneSentinel is the literal SSE line terminating a chat stream.
const DoneSentinel = "[DONE]"

// Stream and WebSocket frame types.
const (
	FrameChunk    = "chunk"
	FrameComplete = "complete"
	FrameError    = "error"
	FrameChat     = "chat"
)

// WebSocket close codes in the application range.
const (
	CloseUnauthorized = 4001 // bearer token missing or wrong
	CloseSessionLimit = 4002 // activeSessions reached maxSessions
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string                    `json:"status"` // healthy | unhealthy
	UptimeSeconds float64                   `json:"uptimeSeconds"`
	Version       string                    `json:"version"`
	Providers     map[string]ProviderHealth `json:"providers"`
}

// ProviderHealth is one provider's availability in a health response.
type ProviderHealth struct {
	Available bool `json:"available"`
}

// InfoResponse is the body of GET /info.
type InfoResponse struct {
	Name           string              `json:"name"`
	Version        string              `json:"version"`
	Mode           string              `json:"mode"`
	Providers      []string            `json:"providers"`
	Models         map[string][]string `json:"models"`
	MaxSessions    int                 `json:"maxSessions"`
	ActiveSessions int                 `json:"activeSessions"`
}

// ChatRequest is the body of POST /chat and POST /chat/stream.
type ChatRequest struct {
	Messages       []types.Message `json:"messages"`
	Provider       string          `json:"provider,omitempty"`
	Model          string          `json:"model,omitempty"`
	Temperature    float32         `json:"temperature,omitempty"`
	ConversationID string          `json:"conversationId,omitempty"`
}

// ChatMetadata accompanies a completed chat exchange.
type ChatMetadata struct {
	Provider  string  `json:"provider,omitempty"`
	Model     string  `json:"model,omitempty"`
	Tokens    int     `json:"tokens,omitempty"`
	Cost      float64 `json:"cost,omitempty"`
	LatencyMs int64   `json:"latencyMs,omitempty"`
}

// ChatResponse is the body of a successful (or failed) POST /chat.
type ChatResponse struct {
	Success bool    `json:"success"`
	Content string  `json:"content,omitempty"`
	Error   string  `json:"error,omitempty"`
	Tokens  int     `json:"tokens,omitempty"`
	Cost    float64 `json:"cost,omitempty"`
}

// StreamFrame is one SSE `data:` payload on /chat/stream.
type StreamFrame struct {
	Type     string        `json:"type"` // chunk | complete | error
	Content  string        `json:"content,omitempty"`
	Metadata *ChatMetadata `json:"metadata,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// WSRequest is an inbound WebSocket frame on /ws.
type WSRequest struct {
	Type        string          `json:"type"` // chat
	RequestID   string          `json:"requestId"`
	Messages    []types.Message `json:"messages"`
	Provider    string          `json:"provider,omitempty"`
	Model       string          `json:"model,omitempty"`
	Temperature float32         `json:"temperature,omitempty"`
}

// WSResponse is an outbound WebSocket frame. RequestID always echoes the
// caller's id so one socket can carry many in-flight exchanges.
type WSResponse struct {
	RequestID string        `json:"requestId"`
	Type      string        `json:"type"` // chunk | complete | error
	Content   string        `json:"content,omitempty"`
	Metadata  *ChatMetadata `json:"metadata,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// ErrorResponse is the generic error body for 4xx/5xx.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
