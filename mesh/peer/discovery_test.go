package peer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentmesh/mesh/wire"
)

func TestSweepIsolatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(t, w, wire.InfoResponse{Name: "survivor", Version: "1.0.0"})
	}))
	defer srv.Close()

	// One reachable node among many refusals: exactly one result, no panic.
	baseURLs := []string{srv.URL}
	for i := 0; i < 25; i++ {
		baseURLs = append(baseURLs, fmt.Sprintf("http://127.0.0.1:%d", 1+i))
	}

	c := newTestClient(t)
	found := c.sweep(context.Background(), baseURLs)

	require.Len(t, found, 1)
	assert.Equal(t, srv.URL, found[0].BaseURL)
	assert.Equal(t, "survivor", found[0].Info.Name)
}

func TestSweepAllUnreachable(t *testing.T) {
	var baseURLs []string
	for i := 0; i < 10; i++ {
		baseURLs = append(baseURLs, fmt.Sprintf("http://127.0.0.1:%d", 1+i))
	}

	c := newTestClient(t)
	found := c.sweep(context.Background(), baseURLs)
	assert.Empty(t, found)
}

func TestSweepIgnoresNonNodeResponses(t *testing.T) {
	notANode := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer notANode.Close()

	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(t, w, wire.InfoResponse{Name: "real"})
	}))
	defer node.Close()

	c := newTestClient(t)
	found := c.sweep(context.Background(), []string{notANode.URL, node.URL})

	require.Len(t, found, 1)
	assert.Equal(t, "real", found[0].Info.Name)
}

func TestSweepDoesNotMutatePeerTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(t, w, wire.InfoResponse{Name: "found"})
	}))
	defer srv.Close()

	c := newTestClient(t)
	found := c.sweep(context.Background(), []string{srv.URL})

	require.Len(t, found, 1)
	assert.Empty(t, c.GetPeers(), "discovery must not auto-add peers")
}

func TestSplitHostPort(t *testing.T) {
	host, port := splitHostPort("http://192.168.1.7:3939", 3939)
	assert.Equal(t, "192.168.1.7", host)
	assert.Equal(t, 3939, port)

	host, port = splitHostPort("http://example.local", 4000)
	assert.Equal(t, "example.local", host)
	assert.Equal(t, 4000, port)
}
