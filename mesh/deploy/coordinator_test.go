package deploy

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/llm"
	"github.com/BaSui01/agentmesh/mesh/peer"
	"github.com/BaSui01/agentmesh/mesh/server"
	"github.com/BaSui01/agentmesh/testutil/mocks"
	"github.com/BaSui01/agentmesh/types"
)

func newTestCoordinator(t *testing.T, dataDir string) *Coordinator {
	t.Helper()
	registry := llm.NewProviderRegistry()
	registry.Register("mock", mocks.NewMockProvider("mock"))

	c, err := NewCoordinator(Options{
		DataDir:  dataDir,
		Registry: registry,
		Logger:   zap.NewNop(),
		Version:  "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		c.Shutdown(ctx)
	})
	return c
}

func loopbackConfig() *server.Config {
	cfg := server.DefaultConfig()
	cfg.BindHost = "127.0.0.1"
	cfg.Port = 0
	return &cfg
}

func TestStartServerSetsModeAndPersists(t *testing.T) {
	dir := t.TempDir()
	c := newTestCoordinator(t, dir)
	ctx := context.Background()

	assert.Equal(t, string(ModeStandalone), c.Mode())
	require.NoError(t, c.StartServer(ctx, loopbackConfig()))
	assert.Equal(t, string(ModeServer), c.Mode())
	assert.True(t, c.IsServerRunning())

	data, err := os.ReadFile(filepath.Join(dir, stateFileName))
	require.NoError(t, err)
	var state State
	require.NoError(t, json.Unmarshal(data, &state))
	assert.Equal(t, ModeServer, state.Mode)
}

func TestStartServerAlreadyRunning(t *testing.T) {
	c := newTestCoordinator(t, t.TempDir())
	ctx := context.Background()

	require.NoError(t, c.StartServer(ctx, loopbackConfig()))
	err := c.StartServer(ctx, loopbackConfig())
	assert.Equal(t, types.ErrAlreadyRunning, types.GetErrorCode(err))
}

// occupyPort grabs a loopback port so binds to it fail.
func occupyPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().(*net.TCPAddr).Port
}

func TestStartServerBindFailureIsStructured(t *testing.T) {
	c := newTestCoordinator(t, t.TempDir())

	cfg := loopbackConfig()
	cfg.Port = occupyPort(t)

	err := c.StartServer(context.Background(), cfg)
	require.Error(t, err)
	assert.Equal(t, types.ErrServiceUnavailable, types.GetErrorCode(err))
	assert.Equal(t, string(ModeStandalone), c.Mode(), "mode unchanged on startup failure")
}

func TestStopServerNotRunning(t *testing.T) {
	c := newTestCoordinator(t, t.TempDir())
	err := c.StopServer(context.Background())
	assert.Equal(t, types.ErrNotRunning, types.GetErrorCode(err))
}

func TestStopServerRevertsToStandalone(t *testing.T) {
	c := newTestCoordinator(t, t.TempDir())
	ctx := context.Background()

	require.NoError(t, c.StartServer(ctx, loopbackConfig()))
	require.NoError(t, c.StopServer(ctx))
	assert.Equal(t, string(ModeStandalone), c.Mode())
	assert.False(t, c.IsServerRunning())
}

func TestStopServerPreservesHybrid(t *testing.T) {
	c := newTestCoordinator(t, t.TempDir())
	ctx := context.Background()

	hybrid := ModeHybrid
	_, err := c.UpdateConfig(ConfigPatch{Mode: &hybrid})
	require.NoError(t, err)

	require.NoError(t, c.StartServer(ctx, loopbackConfig()))
	assert.Equal(t, string(ModeHybrid), c.Mode())

	require.NoError(t, c.StopServer(ctx))
	assert.Equal(t, string(ModeHybrid), c.Mode(), "hybrid keeps consuming peers after stop")
}

func TestUpdateConfigMergesAndPersists(t *testing.T) {
	dir := t.TempDir()
	c := newTestCoordinator(t, dir)

	port := 4242
	name := "renamed-node"
	cfg, err := c.UpdateConfig(ConfigPatch{Port: &port, ServerName: &name})
	require.NoError(t, err)
	assert.Equal(t, 4242, cfg.Port)
	assert.Equal(t, "renamed-node", cfg.ServerName)
	assert.Equal(t, "0.0.0.0", cfg.BindHost, "untouched fields keep defaults")

	state, err := loadState(dir)
	require.NoError(t, err)
	assert.Equal(t, 4242, state.Server.Port)
}

func TestUpdateConfigModeRejectedWhileRunning(t *testing.T) {
	c := newTestCoordinator(t, t.TempDir())
	require.NoError(t, c.StartServer(context.Background(), loopbackConfig()))

	hybrid := ModeHybrid
	_, err := c.UpdateConfig(ConfigPatch{Mode: &hybrid})
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestPeerMutationsPersist(t *testing.T) {
	dir := t.TempDir()
	c := newTestCoordinator(t, dir)

	require.NoError(t, c.AddRemoteServer(peer.RemotePeer{ID: "p1", BaseURL: "http://p1:3939"}))
	require.NoError(t, c.AddRemoteServer(peer.RemotePeer{ID: "p2", BaseURL: "http://p2:3939"}))

	state, err := loadState(dir)
	require.NoError(t, err)
	require.Len(t, state.Peers, 2)

	require.NoError(t, c.RemoveRemoteServer("p1"))
	state, err = loadState(dir)
	require.NoError(t, err)
	require.Len(t, state.Peers, 1)
	assert.Equal(t, "p2", state.Peers[0].ID)

	err = c.RemoveRemoteServer("ghost")
	assert.Equal(t, types.ErrPeerNotFound, types.GetErrorCode(err))
}

func TestInitializeRestoresPeersAndAutoStarts(t *testing.T) {
	dir := t.TempDir()

	state := defaultState()
	state.Mode = ModeServer
	state.Server.BindHost = "127.0.0.1"
	state.Server.Port = 0
	state.Peers = []peer.RemotePeer{{ID: "p1", BaseURL: "http://p1:3939"}}
	require.NoError(t, saveState(dir, state))

	c := newTestCoordinator(t, dir)
	require.NoError(t, c.Initialize(context.Background()))

	assert.True(t, c.IsServerRunning(), "persisted server mode auto-starts")
	peers := c.GetRemoteServers()
	require.Len(t, peers, 1)
	assert.Equal(t, "p1", peers[0].ID)
}

func TestInitializeAutoStartFailureNotFatal(t *testing.T) {
	dir := t.TempDir()
	state := defaultState()
	state.Mode = ModeServer
	state.Server.BindHost = "127.0.0.1"
	state.Server.Port = occupyPort(t)
	require.NoError(t, saveState(dir, state))

	c := newTestCoordinator(t, dir)
	require.NoError(t, c.Initialize(context.Background()), "auto-start failure is logged, not fatal")
	assert.False(t, c.IsServerRunning())
}

func TestShutdownIdempotent(t *testing.T) {
	c := newTestCoordinator(t, t.TempDir())
	require.NoError(t, c.StartServer(context.Background(), loopbackConfig()))

	ctx := context.Background()
	c.Shutdown(ctx)
	c.Shutdown(ctx)
	assert.False(t, c.IsServerRunning())
}

func TestLoadStateMissingFileGivesDefaults(t *testing.T) {
	state, err := loadState(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, ModeStandalone, state.Mode)
	assert.Equal(t, 3939, state.Server.Port)
}
