package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/internal/metrics"
	"github.com/BaSui01/agentmesh/mesh/wire"
	"github.com/BaSui01/agentmesh/types"
)

// Config tunes the client's per-call bounds.
type Config struct {
	HealthTimeout time.Duration // health and info probes
	ChatTimeout   time.Duration // chat calls; model generation is slow
	ProbeTimeout  time.Duration // discovery probes
	DiscoveryPort int           // well-known server port probed during discovery
}

// DefaultConfig returns the documented call bounds.
func DefaultConfig() Config {
	return Config{
		HealthTimeout: 5 * time.Second,
		ChatTimeout:   120 * time.Second,
		ProbeTimeout:  2 * time.Second,
		DiscoveryPort: 3939,
	}
}

// Client maintains the peer table and talks to remote nodes. All mutations of
// the table are single-step under the mutex; no lock is held across I/O.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *metrics.Collector // optional

	mu      sync.RWMutex
	peers   map[string]*RemotePeer
	sockets map[string]*peerSocket
}

// NewClient creates a Client. collector may be nil.
func NewClient(config Config, collector *metrics.Collector, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.HealthTimeout == 0 {
		config.HealthTimeout = 5 * time.Second
	}
	if config.ChatTimeout == 0 {
		config.ChatTimeout = 120 * time.Second
	}
	if config.ProbeTimeout == 0 {
		config.ProbeTimeout = 2 * time.Second
	}
	if config.DiscoveryPort == 0 {
		config.DiscoveryPort = 3939
	}
	return &Client{
		config: config,
		// Timeouts are enforced per call through contexts, not globally:
		// one client serves 2s probes and 120s chat calls alike.
		httpClient: &http.Client{},
		logger:     logger.With(zap.String("component", "peer_client")),
		metrics:    collector,
		peers:      make(map[string]*RemotePeer),
		sockets:    make(map[string]*peerSocket),
	}
}

// AddPeer registers a peer. An existing peer with the same id is replaced.
// Status starts unknown until an explicit health or info call.
func (c *Client) AddPeer(p RemotePeer) {
	if p.Status == "" {
		p.Status = StatusUnknown
	}
	c.mu.Lock()
	c.peers[p.ID] = &p
	c.mu.Unlock()
	c.logger.Info("peer added", zap.String("peer_id", p.ID), zap.String("base_url", p.BaseURL))
}

// RemovePeer drops a peer and releases any socket held for it.
func (c *Client) RemovePeer(id string) error {
	c.mu.Lock()
	_, ok := c.peers[id]
	delete(c.peers, id)
	sock := c.sockets[id]
	delete(c.sockets, id)
	c.mu.Unlock()

	if sock != nil {
		sock.close(fmt.Errorf("peer removed"))
	}
	if !ok {
		return types.NewError(types.ErrPeerNotFound, fmt.Sprintf("unknown peer %q", id))
	}
	c.logger.Info("peer removed", zap.String("peer_id", id))
	return nil
}

// GetPeers returns a stable-ordered snapshot of the peer table.
func (c *Client) GetPeers() []RemotePeer {
	c.mu.RLock()
	out := make([]RemotePeer, 0, len(c.peers))
	for _, p := range c.peers {
		out = append(out, *p)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetPeer returns a snapshot of one peer.
func (c *Client) GetPeer(id string) (RemotePeer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.peers[id]
	if !ok {
		return RemotePeer{}, false
	}
	return *p, true
}

// CheckHealth probes GET /health on the peer. It only updates the cached peer
// entry: online with latency on success, offline on any failure or timeout.
// It never returns an error to the caller.
func (c *Client) CheckHealth(ctx context.Context, id string) {
	p, ok := c.GetPeer(id)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.HealthTimeout)
	defer cancel()

	start := time.Now()
	var health wire.HealthResponse
	err := c.getJSON(ctx, &p, "/health", &health)
	latency := time.Since(start)
	c.recordPeerCall(id, "health", err, latency)

	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.peers[id]
	if !ok {
		return
	}
	if err != nil || health.Status != "healthy" {
		cur.Status = StatusOffline
		c.logger.Debug("peer health check failed", zap.String("peer_id", id), zap.Error(err))
		return
	}
	now := time.Now()
	cur.Status = StatusOnline
	cur.LastConnectedAt = &now
	cur.LatencyMs = latency.Milliseconds()
}

// GetServerInfo fetches GET /info and caches the peer's flattened model list
// and version. On failure the peer is marked offline and an error returned.
func (c *Client) GetServerInfo(ctx context.Context, id string) (*wire.InfoResponse, error) {
	p, ok := c.GetPeer(id)
	if !ok {
		return nil, types.NewError(types.ErrPeerNotFound, fmt.Sprintf("unknown peer %q", id))
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.HealthTimeout)
	defer cancel()

	start := time.Now()
	var info wire.InfoResponse
	err := c.getJSON(ctx, &p, "/info", &info)
	c.recordPeerCall(id, "info", err, time.Since(start))

	c.mu.Lock()
	cur, stillKnown := c.peers[id]
	if stillKnown {
		if err != nil {
			cur.Status = StatusOffline
		} else {
			now := time.Now()
			cur.Status = StatusOnline
			cur.LastConnectedAt = &now
			cur.PeerVersion = info.Version
			cur.AvailableModels = flattenModels(info.Models)
		}
	}
	c.mu.Unlock()

	if err != nil {
		return nil, types.NewError(types.ErrPeerOffline, fmt.Sprintf("info fetch from %q failed", id)).WithCause(err)
	}
	return &info, nil
}

// SendMessage posts a chat request to the peer. Network and timeout failures
// are captured in the result, never raised.
func (c *Client) SendMessage(ctx context.Context, id string, req wire.ChatRequest) *SendResult {
	p, ok := c.GetPeer(id)
	if !ok {
		return &SendResult{Success: false, Error: fmt.Sprintf("unknown peer %q", id)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.ChatTimeout)
	defer cancel()

	start := time.Now()
	body, err := json.Marshal(req)
	if err != nil {
		return &SendResult{Success: false, Error: fmt.Sprintf("encode request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return &SendResult{Success: false, Error: fmt.Sprintf("build request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	setPeerAuth(httpReq, &p)

	resp, err := c.httpClient.Do(httpReq)
	latency := time.Since(start)
	c.recordPeerCall(id, "chat", err, latency)
	if err != nil {
		return &SendResult{Success: false, Error: fmt.Sprintf("chat request to %s failed: %v", id, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &SendResult{Success: false, Error: fmt.Sprintf("read response: %v", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return &SendResult{Success: false, Error: fmt.Sprintf("peer returned status %d: %s", resp.StatusCode, truncate(string(raw), 200))}
	}

	var chat wire.ChatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		return &SendResult{Success: false, Error: fmt.Sprintf("malformed response: %v", err)}
	}
	if !chat.Success {
		return &SendResult{Success: false, Error: chat.Error}
	}

	return &SendResult{
		Success: true,
		Content: chat.Content,
		Metadata: &wire.ChatMetadata{
			Tokens:    chat.Tokens,
			Cost:      chat.Cost,
			LatencyMs: latency.Milliseconds(),
		},
	}
}

// Close releases every peer socket. The peer table itself is retained so the
// coordinator can persist it during shutdown.
func (c *Client) Close() {
	c.mu.Lock()
	sockets := c.sockets
	c.sockets = make(map[string]*peerSocket)
	c.mu.Unlock()

	for _, s := range sockets {
		s.close(fmt.Errorf("client closed"))
	}
}

func (c *Client) getJSON(ctx context.Context, p *RemotePeer, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+path, nil)
	if err != nil {
		return err
	}
	setPeerAuth(req, p)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d from %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func (c *Client) recordPeerCall(id, operation string, err error, latency time.Duration) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordPeerRequest(id, operation, status, latency)
}

func setPeerAuth(req *http.Request, p *RemotePeer) {
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}
}

func flattenModels(models map[string][]string) []string {
	var out []string
	for _, list := range models {
		out = append(out, list...)
	}
	sort.Strings(out)
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
