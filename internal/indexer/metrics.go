package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "ff_agent_market"

// Metrics holds the indexer's Prometheus collectors
type Metrics struct {
	eventsApplied  *prometheus.CounterVec
	eventsSkipped  *prometheus.CounterVec
	degradedSales  prometheus.Counter
	lateEvents     prometheus.Counter
	staleTransfers prometheus.Counter
	applyDuration  *prometheus.HistogramVec
	bufferedEvents prometheus.Gauge
}

// NewMetrics registers the indexer collectors with reg.
// A nil registerer uses the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		eventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "indexer",
			Name:      "events_applied_total",
			Help:      "Ledger events projected into the store",
		}, []string{"event_type"}),
		eventsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "indexer",
			Name:      "events_skipped_total",
			Help:      "Ledger events that changed nothing, by reason (duplicate, noop)",
		}, []string{"event_type", "reason"}),
		degradedSales: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "indexer",
			Name:      "degraded_sales_total",
			Help:      "Sales recorded without a known listing (token id unknown)",
		}),
		lateEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "indexer",
			Name:      "late_events_total",
			Help:      "Events applied behind the projection cursor",
		}),
		staleTransfers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "indexer",
			Name:      "stale_transfers_total",
			Help:      "Transfers older than the known ownership",
		}),
		applyDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "indexer",
			Name:      "apply_duration_seconds",
			Help:      "Time to project one event",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"event_type"}),
		bufferedEvents: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "indexer",
			Name:      "reorder_buffer_events",
			Help:      "Events held by the reorder buffer",
		}),
	}
}
