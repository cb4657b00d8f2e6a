package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the dispatcher's counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	runs       *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics registers the dispatcher metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nudge_dispatch_runs_total", Help: "Dispatcher invocations by type and outcome",
		}, []string{"type", "outcome"}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nudge_push_deliveries_total", Help: "Push delivery attempts by type and result",
		}, []string{"type", "result"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "nudge_dispatch_duration_seconds", Help: "Dispatcher invocation duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
	}
}

func (m *Metrics) Run(notifType, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(notifType, outcome).Inc()
	m.duration.WithLabelValues(notifType).Observe(seconds)
}

// Delivery records one attempt; result is "sent", "failed" or "gone".
func (m *Metrics) Delivery(notifType, result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(notifType, result).Inc()
}
