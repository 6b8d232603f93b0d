// Package metrics exports the Prometheus series the core needs for
// observability: an invariant-violation counter (spec.md §7) plus queue
// depth, trade and reject counters. Grounded on perp-dex's
// metrics.Collector, trimmed to this project's smaller surface.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector holds every metric this module exports. One Collector is
// shared across all sessions; every series is labeled by session_id so
// cross-session parallelism (spec.md §5) doesn't collide in one registry.
type Collector struct {
	InvariantViolations *prometheus.CounterVec
	QueueDepth          *prometheus.GaugeVec
	TradesTotal         *prometheus.CounterVec
	OrdersRejectedTotal *prometheus.CounterVec
	OpenPositions       *prometheus.GaugeVec
}

// New registers and returns a Collector against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry across parallel test packages.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		InvariantViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange",
			Name:      "invariant_violations_total",
			Help:      "Count of detected invariant violations, by session and invariant id.",
		}, []string{"session_id", "invariant"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "exchange",
			Name:      "submission_queue_depth",
			Help:      "Current depth of a session's matching-engine submission queue.",
		}, []string{"session_id"}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange",
			Name:      "trades_total",
			Help:      "Count of trades executed, by session and security.",
		}, []string{"session_id", "security_id"}),
		OrdersRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange",
			Name:      "orders_rejected_total",
			Help:      "Count of rejected order submissions, by session and reject reason.",
		}, []string{"session_id", "reason"}),
		OpenPositions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "exchange",
			Name:      "open_positions",
			Help:      "Count of non-flat positions, by session.",
		}, []string{"session_id"}),
	}

	reg.MustRegister(
		c.InvariantViolations,
		c.QueueDepth,
		c.TradesTotal,
		c.OrdersRejectedTotal,
		c.OpenPositions,
	)
	return c
}
