package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/mesh/wire"
)

// handleWS upgrades the connection and serves a multiplexed chat session.
// Auth and the session cap are enforced after the upgrade with application
// close codes so clients can tell the rejection reasons apart.
func (s *NetworkServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Cross-origin peers are the whole point of the mesh.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	if s.config.RequireAuth && !s.wsAuthorized(r) {
		conn.Close(websocket.StatusCode(wire.CloseUnauthorized), "unauthorized")
		return
	}

	if n := s.activeSessions.Add(1); s.config.MaxSessions > 0 && n > int64(s.config.MaxSessions) {
		s.activeSessions.Add(-1)
		if s.metrics != nil {
			s.metrics.SessionRejected()
		}
		conn.Close(websocket.StatusCode(wire.CloseSessionLimit), "session limit reached")
		return
	}
	if s.metrics != nil {
		s.metrics.SessionOpened()
	}
	defer func() {
		s.activeSessions.Add(-1)
		if s.metrics != nil {
			s.metrics.SessionClosed()
		}
	}()

	s.serveSession(r.Context(), conn, r.RemoteAddr)
}

func (s *NetworkServer) wsAuthorized(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.config.APIKey)) == 1
}

// wsSession serializes writes: requests run concurrently but frames for the
// shared socket go out one at a time.
type wsSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (sess *wsSession) send(ctx context.Context, resp wire.WSResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	return sess.conn.Write(ctx, websocket.MessageText, payload)
}

func (s *NetworkServer) serveSession(ctx context.Context, conn *websocket.Conn, remote string) {
	defer conn.Close(websocket.StatusNormalClosure, "")

	sess := &wsSession{conn: conn}
	log := s.logger.With(zap.String("remote", remote))
	log.Info("websocket session opened")

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			log.Debug("websocket session closed", zap.Error(err))
			return
		}

		var req wire.WSRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			_ = sess.send(ctx, wire.WSResponse{
				Type:  wire.FrameError,
				Error: "invalid JSON frame",
			})
			continue
		}
		if req.Type != wire.FrameChat {
			_ = sess.send(ctx, wire.WSResponse{
				RequestID: req.RequestID,
				Type:      wire.FrameError,
				Error:     "unsupported frame type " + req.Type,
			})
			continue
		}
		if req.RequestID == "" {
			_ = sess.send(ctx, wire.WSResponse{
				Type:  wire.FrameError,
				Error: "requestId is required",
			})
			continue
		}

		wg.Add(1)
		go func(req wire.WSRequest) {
			defer wg.Done()
			s.serveWSChat(ctx, sess, req)
		}(req)
	}
}

// serveWSChat streams one chat exchange back over the shared socket, tagging
// every frame with the caller's requestId.
func (s *NetworkServer) serveWSChat(ctx context.Context, sess *wsSession, req wire.WSRequest) {
	fail := func(msg string) {
		_ = sess.send(ctx, wire.WSResponse{
			RequestID: req.RequestID,
			Type:      wire.FrameError,
			Error:     msg,
		})
	}

	provider, llmReq, verr := s.resolveChat(&wire.ChatRequest{
		Messages:    req.Messages,
		Provider:    req.Provider,
		Model:       req.Model,
		Temperature: req.Temperature,
	})
	if verr != nil {
		fail(verr.Message)
		return
	}

	start := time.Now()
	stream, err := provider.Stream(ctx, llmReq)
	if err != nil {
		fail(err.Error())
		return
	}

	tokens := 0
	cost := 0.0
	for chunk := range stream {
		if chunk.Err != nil {
			fail(chunk.Err.Message)
			return
		}
		if chunk.Usage != nil {
			tokens = chunk.Usage.TotalTokens
			cost = chunk.Usage.Cost
		}
		if chunk.Content == "" {
			continue
		}
		err := sess.send(ctx, wire.WSResponse{
			RequestID: req.RequestID,
			Type:      wire.FrameChunk,
			Content:   chunk.Content,
		})
		if err != nil {
			return
		}
	}

	_ = sess.send(ctx, wire.WSResponse{
		RequestID: req.RequestID,
		Type:      wire.FrameComplete,
		Metadata: &wire.ChatMetadata{
			Provider:  provider.Name(),
			Model:     llmReq.Model,
			Tokens:    tokens,
			Cost:      cost,
			LatencyMs: time.Since(start).Milliseconds(),
		},
	})
}
