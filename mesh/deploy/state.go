package deploy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BaSui01/agentmesh/mesh/peer"
	"github.com/BaSui01/agentmesh/mesh/server"
)

const stateFileName = "deployment.json"

// State is the persisted deployment configuration. It survives restarts so
// that a node comes back up in the role the operator left it in, with the
// same peer set.
type State struct {
	Mode   Mode              `json:"mode"`
	Server server.Config     `json:"server"`
	Peers  []peer.RemotePeer `json:"peers,omitempty"`
}

func defaultState() State {
	return State{
		Mode:   ModeStandalone,
		Server: server.DefaultConfig(),
	}
}

// loadState reads the persisted state, returning defaults when no state file
// exists yet.
func loadState(dataDir string) (State, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, stateFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return defaultState(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read deployment state: %w", err)
	}
	state := defaultState()
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("parse deployment state: %w", err)
	}
	return state, nil
}

// saveState writes the state atomically: a torn write must not be able to
// corrupt the node's persisted role.
func saveState(dataDir string, state State) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode deployment state: %w", err)
	}
	path := filepath.Join(dataDir, stateFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write deployment state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit deployment state: %w", err)
	}
	return nil
}
