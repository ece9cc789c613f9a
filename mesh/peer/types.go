// Package peer maintains the set of known remote nodes and exchanges chat
// traffic with them over HTTP, SSE, and WebSocket.
package peer

import (
	"time"

	"github.com/BaSui01/agentmesh/mesh/wire"
)

// Status is the cached reachability of a remote peer. It changes only as a
// result of explicit health or info calls, never by inference.
type Status string

const (
	StatusOnline     Status = "online"
	StatusOffline    Status = "offline"
	StatusConnecting Status = "connecting"
	StatusUnknown    Status = "unknown"
)

// RemotePeer describes one remote node. Identity key is ID: derived from
// host:port for discovered peers, operator-chosen for manually added ones.
type RemotePeer struct {
	ID              string     `json:"id"`
	DisplayName     string     `json:"displayName"`
	BaseURL         string     `json:"baseUrl"`
	APIKey          string     `json:"apiKey,omitempty"`
	Status          Status     `json:"status"`
	LastConnectedAt *time.Time `json:"lastConnectedAt,omitempty"`
	LatencyMs       int64      `json:"latencyMs,omitempty"`
	AvailableModels []string   `json:"availableModels,omitempty"`
	PeerVersion     string     `json:"peerVersion,omitempty"`
}

// SendResult is the outcome of one chat exchange with a peer. Transport
// failures land in Error with Success false; they are never raised.
type SendResult struct {
	Success  bool               `json:"success"`
	Content  string             `json:"content,omitempty"`
	Error    string             `json:"error,omitempty"`
	Metadata *wire.ChatMetadata `json:"metadata,omitempty"`
}

// DiscoveredServer is one host that answered a discovery probe.
type DiscoveredServer struct {
	Host    string            `json:"host"`
	Port    int               `json:"port"`
	BaseURL string            `json:"baseUrl"`
	Info    wire.InfoResponse `json:"info"`
}
