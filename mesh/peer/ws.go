package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/internal/channel"
	"github.com/BaSui01/agentmesh/mesh/wire"
)

// peerSocket is one long-lived WebSocket to a peer. Replies are correlated to
// pending calls purely by requestId; there is no ordering guarantee across
// different requestIds.
type peerSocket struct {
	peerID string
	conn   *websocket.Conn
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]*channel.Stream[wire.WSResponse]
	closed  bool

	writeMu sync.Mutex // WebSocket writes are not concurrency-safe
	cancel  context.CancelFunc
}

// SendMessageWS sends a chat request over the peer's WebSocket and returns
// the reply stream for that requestId (one or more chunk frames, then a
// terminal complete or error frame). A second call with an id already in
// flight is a caller error. Socket loss fails every pending call explicitly;
// callers never hang.
func (c *Client) SendMessageWS(ctx context.Context, id string, req wire.WSRequest) (*channel.Stream[wire.WSResponse], error) {
	if req.RequestID == "" {
		return nil, fmt.Errorf("requestId is required")
	}
	if req.Type == "" {
		req.Type = wire.FrameChat
	}

	sock, err := c.ensureSocket(ctx, id)
	if err != nil {
		c.markOffline(id)
		return nil, fmt.Errorf("websocket to peer %s: %w", id, err)
	}

	stream, err := sock.register(req.RequestID)
	if err != nil {
		return nil, err
	}

	if err := sock.writeJSON(ctx, req); err != nil {
		sock.unregister(req.RequestID)
		c.dropSocket(id, sock, err)
		return nil, fmt.Errorf("websocket write to peer %s: %w", id, err)
	}
	return stream, nil
}

// ensureSocket returns the open socket for the peer, dialing one if needed.
func (c *Client) ensureSocket(ctx context.Context, id string) (*peerSocket, error) {
	c.mu.Lock()
	if sock, ok := c.sockets[id]; ok {
		c.mu.Unlock()
		return sock, nil
	}
	p, ok := c.peers[id]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("unknown peer %q", id)
	}
	baseURL := p.BaseURL
	apiKey := p.APIKey
	p.Status = StatusConnecting
	c.mu.Unlock()

	wsURL := toWebSocketURL(baseURL) + "/ws"
	opts := &websocket.DialOptions{}
	if apiKey != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + apiKey}}
	}

	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return nil, err
	}

	readCtx, cancel := context.WithCancel(context.Background())
	sock := &peerSocket{
		peerID:  id,
		conn:    conn,
		logger:  c.logger.With(zap.String("peer_id", id)),
		pending: make(map[string]*channel.Stream[wire.WSResponse]),
		cancel:  cancel,
	}

	c.mu.Lock()
	// Another caller may have raced us; keep the first socket.
	if existing, ok := c.sockets[id]; ok {
		if pp, ok := c.peers[id]; ok {
			pp.Status = StatusOnline
		}
		c.mu.Unlock()
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "duplicate")
		return existing, nil
	}
	c.sockets[id] = sock
	if pp, ok := c.peers[id]; ok {
		pp.Status = StatusOnline
		now := time.Now()
		pp.LastConnectedAt = &now
	}
	c.mu.Unlock()

	go func() {
		err := sock.readLoop(readCtx)
		c.dropSocket(id, sock, err)
	}()
	return sock, nil
}

// dropSocket removes the socket from the table, marks the peer offline, and
// fails all calls pending on it.
func (c *Client) dropSocket(id string, sock *peerSocket, cause error) {
	c.mu.Lock()
	if c.sockets[id] == sock {
		delete(c.sockets, id)
	}
	c.mu.Unlock()

	c.markOffline(id)
	sock.close(cause)
}

func (c *Client) markOffline(id string) {
	c.mu.Lock()
	if p, ok := c.peers[id]; ok {
		p.Status = StatusOffline
	}
	c.mu.Unlock()
}

func (s *peerSocket) register(requestID string) (*channel.Stream[wire.WSResponse], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("socket closed")
	}
	if _, exists := s.pending[requestID]; exists {
		return nil, fmt.Errorf("requestId %q already in flight", requestID)
	}
	stream := channel.New[wire.WSResponse](16, nil)
	s.pending[requestID] = stream
	return stream, nil
}

func (s *peerSocket) unregister(requestID string) {
	s.mu.Lock()
	delete(s.pending, requestID)
	s.mu.Unlock()
}

func (s *peerSocket) writeJSON(ctx context.Context, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(ctx, websocket.MessageText, body)
}

// readLoop dispatches inbound frames to their pending streams. Frames for a
// given requestId are delivered in the order the peer sent them.
func (s *peerSocket) readLoop(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}

		var resp wire.WSResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			s.logger.Warn("dropping malformed websocket frame", zap.Error(err))
			continue
		}

		s.mu.Lock()
		stream := s.pending[resp.RequestID]
		terminal := resp.Type == wire.FrameComplete || resp.Type == wire.FrameError
		if terminal {
			delete(s.pending, resp.RequestID)
		}
		s.mu.Unlock()

		if stream == nil {
			s.logger.Debug("frame for unknown requestId", zap.String("request_id", resp.RequestID))
			continue
		}
		_ = stream.Send(ctx, resp)
		if terminal {
			stream.Close()
		}
	}
}

// close tears down the socket and fails every pending call with an explicit
// error frame so no caller hangs on a dead connection.
func (s *peerSocket) close(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.pending
	s.pending = make(map[string]*channel.Stream[wire.WSResponse])
	s.mu.Unlock()

	s.cancel()
	_ = s.conn.Close(websocket.StatusNormalClosure, "closing")

	msg := "connection closed"
	if cause != nil {
		msg = cause.Error()
	}
	// Bounded so a consumer that stopped reading cannot wedge teardown.
	sendCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for requestID, stream := range pending {
		_ = stream.Send(sendCtx, wire.WSResponse{
			RequestID: requestID,
			Type:      wire.FrameError,
			Error:     msg,
		})
		stream.Close()
	}
}

func toWebSocketURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return baseURL
	}
}
