// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector aggregates prometheus metrics for one mesh node. Each Collector
// owns its registry so tests can construct them freely.
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	wsSessionsActive   prometheus.Gauge
	wsSessionsRejected prometheus.Counter

	peerRequestsTotal *prometheus.CounterVec
	peerLatency       *prometheus.HistogramVec

	delegationProposals *prometheus.CounterVec
	delegationCost      prometheus.Counter

	logger *zap.Logger
}

// NewCollector creates a Collector in the given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	c := &Collector{
		registry: registry,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.wsSessionsActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_sessions_active",
			Help:      "Currently open WebSocket sessions",
		},
	)
	c.wsSessionsRejected = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_sessions_rejected_total",
			Help:      "WebSocket sessions rejected by the session cap",
		},
	)

	c.peerRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_requests_total",
			Help:      "Outbound requests to remote peers",
		},
		[]string{"peer", "operation", "status"},
	)
	c.peerLatency = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "peer_request_duration_seconds",
			Help:      "Outbound peer request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"peer", "operation"},
	)

	c.delegationProposals = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegation_proposals_total",
			Help:      "Delegation proposals by terminal status",
		},
		[]string{"status"},
	)
	c.delegationCost = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegation_estimated_cost_usd_total",
			Help:      "Cumulative estimated cost of executed delegations",
		},
	)

	return c
}

// Handler returns the /metrics HTTP handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SessionOpened increments the active WebSocket session gauge.
func (c *Collector) SessionOpened() { c.wsSessionsActive.Inc() }

// SessionClosed decrements the active WebSocket session gauge.
func (c *Collector) SessionClosed() { c.wsSessionsActive.Dec() }

// SessionRejected counts a session refused by the capacity limit.
func (c *Collector) SessionRejected() { c.wsSessionsRejected.Inc() }

// RecordPeerRequest records one outbound peer call.
func (c *Collector) RecordPeerRequest(peer, operation, status string, duration time.Duration) {
	c.peerRequestsTotal.WithLabelValues(peer, operation, status).Inc()
	c.peerLatency.WithLabelValues(peer, operation).Observe(duration.Seconds())
}

// RecordProposal counts a proposal reaching a terminal status.
func (c *Collector) RecordProposal(status string) {
	c.delegationProposals.WithLabelValues(status).Inc()
}

// RecordDelegationCost accumulates estimated delegation spend.
func (c *Collector) RecordDelegationCost(usd float64) {
	if usd > 0 {
		c.delegationCost.Add(usd)
	}
}
