// Package server exposes the local model pool to peers and local tools over
// HTTP, SSE, and WebSocket.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/internal/metrics"
	internalserver "github.com/BaSui01/agentmesh/internal/server"
	"github.com/BaSui01/agentmesh/llm"
	"github.com/BaSui01/agentmesh/store"
)

// Config is the network server configuration. It is immutable once a server
// instance is running; changing it requires stop + start.
type Config struct {
	Port             int      `json:"port" yaml:"port"`
	BindHost         string   `json:"bindHost" yaml:"bind_host"`
	RequireAuth      bool     `json:"requireAuth" yaml:"require_auth"`
	APIKey           string   `json:"apiKey,omitempty" yaml:"api_key"`
	EnableWebSocket  bool     `json:"enableStreamingTransport" yaml:"enable_websocket"`
	MaxSessions      int      `json:"maxSessions" yaml:"max_sessions"`
	CORSOrigins      []string `json:"corsOrigins,omitempty" yaml:"cors_origins"`
	DiscoveryEnabled bool     `json:"discoveryEnabled" yaml:"discovery_enabled"`
	ServerName       string   `json:"serverName" yaml:"server_name"`
	RateLimitRPS     float64  `json:"rateLimitRps,omitempty" yaml:"rate_limit_rps"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Port:             3939,
		BindHost:         "0.0.0.0",
		EnableWebSocket:  true,
		MaxSessions:      32,
		DiscoveryEnabled: true,
		ServerName:       "agentmesh-node",
	}
}

// Deps are the collaborators a NetworkServer needs. Everything is injected;
// the server holds no global state.
type Deps struct {
	Registry      *llm.ProviderRegistry
	Conversations *store.ConversationStore // optional
	Metrics       *metrics.Collector       // optional
	Logger        *zap.Logger
	Mode          func() string // reports the coordinator's current mode
	Version       string
}

// NetworkServer terminates inbound connections, enforces auth and CORS, and
// routes chat traffic to the local model pool.
type NetworkServer struct {
	config        Config
	registry      *llm.ProviderRegistry
	conversations *store.ConversationStore
	metrics       *metrics.Collector
	logger        *zap.Logger
	mode          func() string
	version       string

	manager        *internalserver.Manager
	startTime      time.Time
	activeSessions atomic.Int64
}

// New constructs a NetworkServer from config and dependencies.
func New(config Config, deps Deps) *NetworkServer {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	mode := deps.Mode
	if mode == nil {
		mode = func() string { return "server" }
	}
	if config.MaxSessions <= 0 {
		config.MaxSessions = 32
	}

	s := &NetworkServer{
		config:        config,
		registry:      deps.Registry,
		conversations: deps.Conversations,
		metrics:       deps.Metrics,
		logger:        logger.With(zap.String("component", "network_server")),
		mode:          mode,
		version:       deps.Version,
	}

	// CORS is outermost: its headers go on every response, including 401s
	// and 429s, and OPTIONS short-circuits before auth ever runs.
	handler := Chain(s.routes(),
		CORS(config.CORSOrigins),
		Recovery(s.logger),
		RequestLogger(s.logger, s.metrics),
		RateLimit(config.RateLimitRPS),
		BearerAuth(config.RequireAuth, config.APIKey, config.EnableWebSocket),
	)

	managerCfg := internalserver.DefaultConfig()
	managerCfg.Addr = fmt.Sprintf("%s:%d", config.BindHost, config.Port)
	s.manager = internalserver.NewManager(handler, managerCfg, logger)
	return s
}

// Start binds the listener. Bind failures (e.g. port already in use) are
// returned synchronously.
func (s *NetworkServer) Start() error {
	if err := s.manager.Start(); err != nil {
		return err
	}
	s.startTime = time.Now()
	s.logger.Info("network server started",
		zap.String("addr", s.manager.Addr()),
		zap.Bool("auth", s.config.RequireAuth),
		zap.Bool("websocket", s.config.EnableWebSocket),
	)
	return nil
}

// Stop drains and shuts the server down. Idempotent.
func (s *NetworkServer) Stop(ctx context.Context) error {
	return s.manager.Shutdown(ctx)
}

// Addr returns the actual listen address.
func (s *NetworkServer) Addr() string {
	return s.manager.Addr()
}

// IsRunning reports whether the server is accepting connections.
func (s *NetworkServer) IsRunning() bool {
	return s.manager.IsRunning()
}

// Config returns the immutable running configuration.
func (s *NetworkServer) Config() Config {
	return s.config
}

// ActiveSessions returns the current WebSocket session count.
func (s *NetworkServer) ActiveSessions() int {
	return int(s.activeSessions.Load())
}

// Errors surfaces asynchronous serve failures.
func (s *NetworkServer) Errors() <-chan error {
	return s.manager.Errors()
}

func (s *NetworkServer) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /info", s.handleInfo)
	mux.HandleFunc("GET /providers", s.handleProviders)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /chat/stream", s.handleChatStream)
	mux.HandleFunc("GET /conversations", s.handleListConversations)
	mux.HandleFunc("POST /conversations", s.handleCreateConversation)
	mux.HandleFunc("GET /conversations/{id}", s.handleGetConversation)

	if s.config.EnableWebSocket {
		mux.HandleFunc("/ws", s.handleWS)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	// Everything unroutable lands here with a JSON 404.
	mux.HandleFunc("/", s.handleNotFound)

	// The mux would answer a method mismatch with a plain-text 405; the wire
	// contract wants a JSON 404 for every unroutable method+path combination.
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, pattern := mux.Handler(r)
		if pattern == "" {
			s.handleNotFound(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func (s *NetworkServer) uptime() time.Duration {
	if s.startTime.IsZero() {
		return 0
	}
	return time.Since(s.startTime)
}
