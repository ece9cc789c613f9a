// Package deploy owns the process-wide operating mode and lifecycles the
// network server and the remote-peer client around it.
package deploy

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/internal/metrics"
	"github.com/BaSui01/agentmesh/llm"
	"github.com/BaSui01/agentmesh/mesh/peer"
	"github.com/BaSui01/agentmesh/mesh/server"
	"github.com/BaSui01/agentmesh/store"
	"github.com/BaSui01/agentmesh/types"
)

// Mode is the process's deployment role. Exactly one is active at a time.
type Mode string

const (
	// ModeStandalone serves only local requests.
	ModeStandalone Mode = "standalone"
	// ModeServer exposes the local model pool to peers.
	ModeServer Mode = "server"
	// ModeHybrid both serves peers and consumes remote ones.
	ModeHybrid Mode = "hybrid"
)

// ConfigPatch is a partial update merged into the persisted configuration.
// Nil fields are left untouched. Mode can only change while the server is
// stopped; start/stop are the mode transitions for a running server.
type ConfigPatch struct {
	Mode             *Mode     `json:"mode,omitempty"`
	Port             *int      `json:"port,omitempty"`
	BindHost         *string   `json:"bindHost,omitempty"`
	RequireAuth      *bool     `json:"requireAuth,omitempty"`
	APIKey           *string   `json:"apiKey,omitempty"`
	EnableWebSocket  *bool     `json:"enableStreamingTransport,omitempty"`
	MaxSessions      *int      `json:"maxSessions,omitempty"`
	CORSOrigins      *[]string `json:"corsOrigins,omitempty"`
	DiscoveryEnabled *bool     `json:"discoveryEnabled,omitempty"`
	ServerName       *string   `json:"serverName,omitempty"`
	RateLimitRPS     *float64  `json:"rateLimitRps,omitempty"`
}

// Options wire the coordinator's collaborators. Registry and Logger are
// required; the rest are optional.
type Options struct {
	DataDir       string
	Registry      *llm.ProviderRegistry
	Conversations *store.ConversationStore
	Metrics       *metrics.Collector
	Logger        *zap.Logger
	Version       string
	PeerConfig    peer.Config
}

// Coordinator persists the deployment state and starts and stops the network
// server. All methods are safe for concurrent use.
type Coordinator struct {
	dataDir       string
	registry      *llm.ProviderRegistry
	conversations *store.ConversationStore
	metrics       *metrics.Collector
	logger        *zap.Logger
	version       string
	peers         *peer.Client

	mu    sync.Mutex
	state State
	srv   *server.NetworkServer
	done  bool
}

// NewCoordinator builds a coordinator over the persisted state in opts.DataDir.
// Call Initialize to restore peers and resume the persisted role.
func NewCoordinator(opts Options) (*Coordinator, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	state, err := loadState(opts.DataDir)
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		dataDir:       opts.DataDir,
		registry:      opts.Registry,
		conversations: opts.Conversations,
		metrics:       opts.Metrics,
		logger:        log.With(zap.String("component", "deploy")),
		version:       opts.Version,
		peers:         peer.NewClient(opts.PeerConfig, opts.Metrics, log),
		state:         state,
	}, nil
}

// Mode reports the current deployment mode.
func (c *Coordinator) Mode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.state.Mode)
}

// GetConfig returns a snapshot of the persisted server configuration.
func (c *Coordinator) GetConfig() server.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Server
}

// Peers exposes the remote-peer client for chat and streaming calls.
func (c *Coordinator) Peers() *peer.Client {
	return c.peers
}

// IsServerRunning reports whether a network server instance exists.
func (c *Coordinator) IsServerRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.srv != nil
}

// UpdateConfig merges patch into the persisted configuration. The running
// server, if any, keeps its current config until the next stop + start.
func (c *Coordinator) UpdateConfig(patch ConfigPatch) (server.Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if patch.Mode != nil {
		if c.srv != nil {
			return c.state.Server, types.NewError(types.ErrInvalidRequest,
				"cannot change mode while the server is running; use stop/start").
				WithHTTPStatus(http.StatusConflict)
		}
		switch *patch.Mode {
		case ModeStandalone, ModeServer, ModeHybrid:
			c.state.Mode = *patch.Mode
		default:
			return c.state.Server, types.NewError(types.ErrInvalidRequest,
				"unknown mode "+string(*patch.Mode)).WithHTTPStatus(http.StatusBadRequest)
		}
	}

	cfg := &c.state.Server
	if patch.Port != nil {
		cfg.Port = *patch.Port
	}
	if patch.BindHost != nil {
		cfg.BindHost = *patch.BindHost
	}
	if patch.RequireAuth != nil {
		cfg.RequireAuth = *patch.RequireAuth
	}
	if patch.APIKey != nil {
		cfg.APIKey = *patch.APIKey
	}
	if patch.EnableWebSocket != nil {
		cfg.EnableWebSocket = *patch.EnableWebSocket
	}
	if patch.MaxSessions != nil {
		cfg.MaxSessions = *patch.MaxSessions
	}
	if patch.CORSOrigins != nil {
		cfg.CORSOrigins = *patch.CORSOrigins
	}
	if patch.DiscoveryEnabled != nil {
		cfg.DiscoveryEnabled = *patch.DiscoveryEnabled
	}
	if patch.ServerName != nil {
		cfg.ServerName = *patch.ServerName
	}
	if patch.RateLimitRPS != nil {
		cfg.RateLimitRPS = *patch.RateLimitRPS
	}

	if err := saveState(c.dataDir, c.state); err != nil {
		return c.state.Server, err
	}
	return c.state.Server, nil
}

// StartServer constructs and starts the network server, then persists the
// mode change. Startup failures come back as structured errors with the mode
// unchanged. A non-nil override replaces the persisted server configuration.
func (c *Coordinator) StartServer(ctx context.Context, override *server.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.srv != nil {
		return types.NewError(types.ErrAlreadyRunning, "server is already running").
			WithHTTPStatus(http.StatusConflict)
	}

	if override != nil {
		c.state.Server = *override
	}

	srv := server.New(c.state.Server, server.Deps{
		Registry:      c.registry,
		Conversations: c.conversations,
		Metrics:       c.metrics,
		Logger:        c.logger,
		Mode:          c.Mode,
		Version:       c.version,
	})
	if err := srv.Start(); err != nil {
		return types.NewError(types.ErrServiceUnavailable, "server startup failed").
			WithHTTPStatus(http.StatusServiceUnavailable).WithCause(err)
	}

	c.srv = srv
	if c.state.Mode != ModeHybrid {
		c.state.Mode = ModeServer
	}
	if err := saveState(c.dataDir, c.state); err != nil {
		c.logger.Warn("persisting deployment state failed", zap.Error(err))
	}
	c.logger.Info("network server started",
		zap.String("addr", srv.Addr()),
		zap.String("mode", string(c.state.Mode)),
	)
	return nil
}

// StopServer shuts the network server down. Mode reverts to standalone only
// from server; a hybrid node keeps consuming its remote peers.
func (c *Coordinator) StopServer(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopServerLocked(ctx)
}

func (c *Coordinator) stopServerLocked(ctx context.Context) error {
	if c.srv == nil {
		return types.NewError(types.ErrNotRunning, "server is not running").
			WithHTTPStatus(http.StatusConflict)
	}
	if err := c.srv.Stop(ctx); err != nil {
		c.logger.Warn("server shutdown reported error", zap.Error(err))
	}
	c.srv = nil
	if c.state.Mode == ModeServer {
		c.state.Mode = ModeStandalone
	}
	if err := saveState(c.dataDir, c.state); err != nil {
		c.logger.Warn("persisting deployment state failed", zap.Error(err))
	}
	c.logger.Info("network server stopped", zap.String("mode", string(c.state.Mode)))
	return nil
}

// AddRemoteServer registers a peer and mirrors the peer set into the
// persisted state so it survives restarts.
func (c *Coordinator) AddRemoteServer(p peer.RemotePeer) error {
	c.peers.AddPeer(p)
	return c.persistPeers()
}

// RemoveRemoteServer removes a peer and mirrors the peer set into the
// persisted state.
func (c *Coordinator) RemoveRemoteServer(id string) error {
	if err := c.peers.RemovePeer(id); err != nil {
		return err
	}
	return c.persistPeers()
}

// GetRemoteServers lists the configured peers.
func (c *Coordinator) GetRemoteServers() []peer.RemotePeer {
	return c.peers.GetPeers()
}

// DiscoverServers scans the local network for other nodes. Results are
// reported, never auto-added; registering a discovered peer is an explicit
// operator action.
func (c *Coordinator) DiscoverServers(ctx context.Context, rangeSize int) []peer.DiscoveredServer {
	return c.peers.DiscoverServers(ctx, rangeSize)
}

func (c *Coordinator) persistPeers() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Peers = c.peers.GetPeers()
	return saveState(c.dataDir, c.state)
}

// Initialize restores the persisted role: peers go back into the peer client,
// a persisted server mode auto-starts the network server, and a hybrid node
// probes its peers in the background. Auto-start failures are logged, not
// fatal; the process still comes up in standalone service.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.mu.Lock()
	mode := c.state.Mode
	restored := make([]peer.RemotePeer, len(c.state.Peers))
	copy(restored, c.state.Peers)
	c.mu.Unlock()

	for _, p := range restored {
		c.peers.AddPeer(p)
	}
	if len(restored) > 0 {
		c.logger.Info("restored peers", zap.Int("count", len(restored)))
	}

	if mode == ModeServer {
		if err := c.StartServer(ctx, nil); err != nil {
			c.logger.Error("auto-start failed, continuing in standalone service",
				zap.Error(err))
		}
	}

	if mode == ModeHybrid {
		for _, p := range restored {
			go func(id string) {
				probeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				c.peers.CheckHealth(probeCtx, id)
			}(p.ID)
		}
	}
	return nil
}

// Shutdown stops the server if running and releases all peer connections.
// Safe to call more than once.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	if c.srv != nil {
		_ = c.stopServerLockedQuiet(ctx)
	}
	c.mu.Unlock()

	c.peers.Close()
	c.logger.Info("deployment coordinator shut down")
}

func (c *Coordinator) stopServerLockedQuiet(ctx context.Context) error {
	err := c.stopServerLocked(ctx)
	if types.GetErrorCode(err) == types.ErrNotRunning {
		return nil
	}
	return err
}
