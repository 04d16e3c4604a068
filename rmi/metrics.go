package rmi

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records server-side call counts and latencies. A nil *Metrics records nothing.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "enginermi",
				Subsystem: "rmi",
				Name:      "calls_total",
				Help:      "Total number of served calls",
			},
			[]string{"method", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "enginermi",
				Subsystem: "rmi",
				Name:      "call_duration_seconds",
				Help:      "Duration of served calls in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"method"},
		),
		inflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "enginermi",
				Subsystem: "rmi",
				Name:      "inflight_calls",
				Help:      "Calls currently being served",
			},
			[]string{"method"},
		),
	}
	reg.MustRegister(m.calls, m.duration, m.inflight)
	return m
}

func (m *Metrics) begin(method string) {
	if m == nil {
		return
	}
	m.inflight.WithLabelValues(method).Inc()
}

func (m *Metrics) end(method, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.inflight.WithLabelValues(method).Dec()
	m.calls.WithLabelValues(method, code).Inc()
	m.duration.WithLabelValues(method).Observe(d.Seconds())
}
