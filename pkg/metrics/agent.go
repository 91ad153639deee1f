package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AgentMetrics instruments the serial-to-intake pipeline.
type AgentMetrics struct {
	linesProcessed prometheus.Counter
	parseErrors    prometheus.Counter
	queueDepth     prometheus.Gauge
	postLatency    prometheus.Histogram
}

// NewAgentMetrics creates the pipeline collectors on the global registry.
//
// Returns nil if metrics are not enabled (InitRegistry not called); all
// recording methods are nil-safe.
func NewAgentMetrics() *AgentMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &AgentMetrics{
		linesProcessed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "lines_processed_total",
			Help: "Total number of logical receipt lines processed",
		}),
		parseErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "parse_errors_total",
			Help: "Total number of lines that did not match any known pattern",
		}),
		queueDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Number of payloads waiting in the outbound queue",
		}),
		postLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "post_latency_ms",
			Help:    "Latency of upstream POST attempts in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000},
		}),
	}
}

// RecordLine counts one processed logical line; parsed is false when the
// classifier could not match it.
func (m *AgentMetrics) RecordLine(parsed bool) {
	if m == nil {
		return
	}
	m.linesProcessed.Inc()
	if !parsed {
		m.parseErrors.Inc()
	}
}

// SetQueueDepth publishes the current outbound queue depth.
func (m *AgentMetrics) SetQueueDepth(depth int64) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// ObservePostLatency records one upstream POST attempt, successful or not.
func (m *AgentMetrics) ObservePostLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.postLatency.Observe(float64(d.Milliseconds()))
}
