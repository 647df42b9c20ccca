// Package observability exposes Prometheus metrics for the sync core.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the counters and gauges the service and hub report.
type Metrics struct {
	ElementsCreated prometheus.Counter
	ElementsUpdated prometheus.Counter
	ElementsDeleted prometheus.Counter
	FullSyncs       prometheus.Counter

	BroadcastsSent   prometheus.Counter
	BroadcastsFailed prometheus.Counter

	ActiveConnections prometheus.Gauge
}

// NewMetrics registers the metric set against reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ElementsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "canvas_elements_created_total",
			Help: "Elements created through the mutation API.",
		}),
		ElementsUpdated: factory.NewCounter(prometheus.CounterOpts{
			Name: "canvas_elements_updated_total",
			Help: "Elements updated through the mutation API.",
		}),
		ElementsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "canvas_elements_deleted_total",
			Help: "Elements deleted through the mutation API.",
		}),
		FullSyncs: factory.NewCounter(prometheus.CounterOpts{
			Name: "canvas_full_syncs_total",
			Help: "Completed full-sync overwrites.",
		}),
		BroadcastsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "canvas_ws_broadcasts_sent_total",
			Help: "Messages delivered to live connections.",
		}),
		BroadcastsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "canvas_ws_broadcasts_failed_total",
			Help: "Messages dropped because a connection could not accept them.",
		}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "canvas_ws_active_connections",
			Help: "Currently registered live connections.",
		}),
	}
}

// NopMetrics returns a metric set bound to a throwaway registry.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
