// Package stats exposes the runtime's operational counters as prometheus
// collectors.
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the collector set of one runtime. Registered on a dedicated
// registry so several runtimes can coexist in one process (tests, brokers).
type Metrics struct {
	registry *prometheus.Registry

	DroppedFrames   *prometheus.CounterVec
	RoutedMessages  prometheus.Counter
	QueryReplies    prometheus.Counter
	SessionsOpen    prometheus.Gauge
	LeaseExpiration prometheus.Counter
}

// New builds and registers the collector set.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.DroppedFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zenoh_dropped_frames_total",
		Help: "Frames discarded by the Drop congestion-control policy.",
	}, []string{"channel"})
	m.RoutedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zenoh_routed_messages_total",
		Help: "Data messages forwarded by the routing tables.",
	})
	m.QueryReplies = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zenoh_query_replies_total",
		Help: "Query replies surfaced after consolidation.",
	})
	m.SessionsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "zenoh_sessions_open",
		Help: "Sessions currently established.",
	})
	m.LeaseExpiration = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zenoh_lease_expirations_total",
		Help: "Sessions torn down by keep-alive loss.",
	})
	m.registry.MustRegister(
		m.DroppedFrames, m.RoutedMessages, m.QueryReplies,
		m.SessionsOpen, m.LeaseExpiration,
	)
	return m
}

// Registry returns the prometheus registry backing the collectors, ready to
// be mounted on an HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
