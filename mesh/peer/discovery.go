package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentmesh/mesh/wire"
)

// DiscoverServers probes localhost plus rangeSize numeric neighbors on the
// local /24 for nodes answering GET /info on the well-known port. Probes run
// concurrently and each failure is isolated: an unreachable host never aborts
// the sweep. Discovery does not mutate the peer table; results are handed to
// the operator for explicit add.
func (c *Client) DiscoverServers(ctx context.Context, rangeSize int) []DiscoveredServer {
	if rangeSize <= 0 {
		rangeSize = 20
	}

	hosts := []string{"127.0.0.1"}
	if base, selfLast, ok := localSubnetBase(); ok {
		for i := 1; i <= rangeSize; i++ {
			if i == selfLast {
				continue
			}
			hosts = append(hosts, fmt.Sprintf("%s.%d", base, i))
		}
	}

	baseURLs := make([]string, len(hosts))
	for i, host := range hosts {
		baseURLs[i] = fmt.Sprintf("http://%s:%d", host, c.config.DiscoveryPort)
	}

	found := c.sweep(ctx, baseURLs)
	c.logger.Info("discovery sweep finished",
		zap.Int("hosts_probed", len(hosts)),
		zap.Int("servers_found", len(found)),
	)
	return found
}

// sweep probes every base URL concurrently and collects the ones that answer.
func (c *Client) sweep(ctx context.Context, baseURLs []string) []DiscoveredServer {
	var (
		mu    sync.Mutex
		found []DiscoveredServer
	)

	// Probes always return nil: the group is a completion barrier here, not
	// a fail-fast gate.
	g, probeCtx := errgroup.WithContext(ctx)
	g.SetLimit(32)
	for _, baseURL := range baseURLs {
		g.Go(func() error {
			info, ok := c.probe(probeCtx, baseURL)
			if !ok {
				return nil
			}
			host, port := splitHostPort(baseURL, c.config.DiscoveryPort)
			mu.Lock()
			found = append(found, DiscoveredServer{
				Host:    host,
				Port:    port,
				BaseURL: baseURL,
				Info:    *info,
			})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(found, func(i, j int) bool { return found[i].BaseURL < found[j].BaseURL })
	return found
}

// probe issues one bounded /info request. Any failure means "not a server".
func (c *Client) probe(ctx context.Context, baseURL string) (*wire.InfoResponse, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/info", nil)
	if err != nil {
		return nil, false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false
	}
	var info wire.InfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, false
	}
	return &info, true
}

func splitHostPort(baseURL string, defaultPort int) (string, int) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL, defaultPort
	}
	host := u.Hostname()
	port := defaultPort
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	return host, port
}

// localSubnetBase returns the first three octets of the machine's primary
// IPv4 address and its own last octet, so discovery can skip probing itself.
func localSubnetBase() (base string, selfLast int, ok bool) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", 0, false
	}
	for _, addr := range addrs {
		ipNet, isIPNet := addr.(*net.IPNet)
		if !isIPNet || ipNet.IP.IsLoopback() {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		return fmt.Sprintf("%d.%d.%d", ip4[0], ip4[1], ip4[2]), int(ip4[3]), true
	}
	return "", 0, false
}
