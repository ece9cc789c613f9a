package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/llm"
	"github.com/BaSui01/agentmesh/mesh/wire"
	"github.com/BaSui01/agentmesh/store"
	"github.com/BaSui01/agentmesh/types"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeWireError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, wire.ErrorResponse{Error: code, Message: message})
}

func (s *NetworkServer) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeWireError(w, http.StatusNotFound, "NOT_FOUND", "no route for "+r.Method+" "+r.URL.Path)
}

func (s *NetworkServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	providers := make(map[string]wire.ProviderHealth)
	status := "healthy"

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for _, id := range s.registry.List() {
		p, ok := s.registry.Get(id)
		if !ok {
			continue
		}
		health, err := p.HealthCheck(ctx)
		available := err == nil && health != nil && health.Healthy
		providers[id] = wire.ProviderHealth{Available: available}
	}
	if len(providers) == 0 {
		status = "unhealthy"
	}

	writeJSON(w, http.StatusOK, wire.HealthResponse{
		Status:        status,
		UptimeSeconds: s.uptime().Seconds(),
		Version:       s.version,
		Providers:     providers,
	})
}

func (s *NetworkServer) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, wire.InfoResponse{
		Name:           s.config.ServerName,
		Version:        s.version,
		Mode:           s.mode(),
		Providers:      s.registry.List(),
		Models:         s.registry.ModelMap(),
		MaxSessions:    s.config.MaxSessions,
		ActiveSessions: s.ActiveSessions(),
	})
}

func (s *NetworkServer) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"providers": s.registry.List()})
}

// resolveChat picks the provider and builds the model-layer request.
func (s *NetworkServer) resolveChat(req *wire.ChatRequest) (llm.Provider, *llm.ChatRequest, *types.Error) {
	if len(req.Messages) == 0 {
		return nil, nil, types.NewError(types.ErrInvalidRequest, "messages cannot be empty").
			WithHTTPStatus(http.StatusBadRequest)
	}

	var provider llm.Provider
	if req.Provider != "" {
		p, ok := s.registry.Get(req.Provider)
		if !ok {
			return nil, nil, types.NewError(types.ErrProviderUnavailable,
				"unknown provider "+req.Provider).WithHTTPStatus(http.StatusBadRequest)
		}
		provider = p
	} else {
		p, err := s.registry.Default()
		if err != nil {
			return nil, nil, types.NewError(types.ErrProviderUnavailable, "no provider available").
				WithHTTPStatus(http.StatusServiceUnavailable).WithCause(err)
		}
		provider = p
	}

	return provider, &llm.ChatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
	}, nil
}

func (s *NetworkServer) handleChat(w http.ResponseWriter, r *http.Request) {
	var req wire.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeWireError(w, http.StatusBadRequest, string(types.ErrInvalidRequest), "invalid JSON body")
		return
	}

	provider, llmReq, verr := s.resolveChat(&req)
	if verr != nil {
		writeWireError(w, verr.HTTPStatus, string(verr.Code), verr.Message)
		return
	}

	start := time.Now()
	resp, err := provider.Completion(r.Context(), llmReq)
	if err != nil {
		// Chat-path failures are inspectable result objects, not transport
		// errors: the peer on the other end decides how to handle them.
		writeJSON(w, http.StatusOK, wire.ChatResponse{Success: false, Error: err.Error()})
		return
	}

	s.logger.Info("chat completion",
		zap.String("provider", provider.Name()),
		zap.String("model", resp.Model),
		zap.Int("tokens", resp.Usage.TotalTokens),
		zap.Duration("duration", time.Since(start)),
	)
	writeJSON(w, http.StatusOK, wire.ChatResponse{
		Success: true,
		Content: resp.Content,
		Tokens:  resp.Usage.TotalTokens,
		Cost:    resp.Usage.Cost,
	})
}

func (s *NetworkServer) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req wire.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeWireError(w, http.StatusBadRequest, string(types.ErrInvalidRequest), "invalid JSON body")
		return
	}

	provider, llmReq, verr := s.resolveChat(&req)
	if verr != nil {
		writeWireError(w, verr.HTTPStatus, string(verr.Code), verr.Message)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeWireError(w, http.StatusInternalServerError, string(types.ErrInternalError), "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	writeFrame := func(frame wire.StreamFrame) bool {
		payload, err := json.Marshal(frame)
		if err != nil {
			return false
		}
		if _, err := w.Write([]byte("data: ")); err != nil {
			return false
		}
		if _, err := w.Write(payload); err != nil {
			return false
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	start := time.Now()
	stream, err := provider.Stream(r.Context(), llmReq)
	if err != nil {
		writeFrame(wire.StreamFrame{Type: wire.FrameError, Error: err.Error()})
		return
	}

	tokens := 0
	cost := 0.0
	for chunk := range stream {
		if chunk.Err != nil {
			// Error frame ends the stream with no [DONE].
			writeFrame(wire.StreamFrame{Type: wire.FrameError, Error: chunk.Err.Message})
			return
		}
		if chunk.Usage != nil {
			tokens = chunk.Usage.TotalTokens
			cost = chunk.Usage.Cost
		}
		if chunk.Content != "" {
			if !writeFrame(wire.StreamFrame{Type: wire.FrameChunk, Content: chunk.Content}) {
				return
			}
		}
	}

	writeFrame(wire.StreamFrame{
		Type: wire.FrameComplete,
		Metadata: &wire.ChatMetadata{
			Provider:  provider.Name(),
			Model:     llmReq.Model,
			Tokens:    tokens,
			Cost:      cost,
			LatencyMs: time.Since(start).Milliseconds(),
		},
	})
	w.Write([]byte("data: " + wire.DoneSentinel + "\n\n"))
	flusher.Flush()
}

func (s *NetworkServer) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if s.conversations == nil {
		writeWireError(w, http.StatusServiceUnavailable, string(types.ErrServiceUnavailable), "conversation store not configured")
		return
	}
	list, err := s.conversations.List(r.Context())
	if err != nil {
		writeWireError(w, http.StatusInternalServerError, string(types.ErrInternalError), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": list})
}

func (s *NetworkServer) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	if s.conversations == nil {
		writeWireError(w, http.StatusServiceUnavailable, string(types.ErrServiceUnavailable), "conversation store not configured")
		return
	}
	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeWireError(w, http.StatusBadRequest, string(types.ErrInvalidRequest), "invalid JSON body")
		return
	}
	conv, err := s.conversations.Create(r.Context(), body.Title)
	if err != nil {
		writeWireError(w, http.StatusInternalServerError, string(types.ErrInternalError), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *NetworkServer) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	if s.conversations == nil {
		writeWireError(w, http.StatusServiceUnavailable, string(types.ErrServiceUnavailable), "conversation store not configured")
		return
	}
	conv, err := s.conversations.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrConversationNotFound) {
		writeWireError(w, http.StatusNotFound, string(types.ErrNotFound), "conversation not found")
		return
	}
	if err != nil {
		writeWireError(w, http.StatusInternalServerError, string(types.ErrInternalError), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, conv)
}
