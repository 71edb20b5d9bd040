// ABOUTME: Prometheus instrumentation for tool dispatch
// ABOUTME: Counts calls by outcome, capability violations, gaps, and call latency

package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the dispatch-level Prometheus collectors.
type Metrics struct {
	calls      *prometheus.CounterVec
	violations prometheus.Counter
	gaps       prometheus.Counter
	duration   *prometheus.HistogramVec
}

// NewMetrics registers the dispatch collectors with reg. Passing nil
// uses a private registry, which keeps tests isolated from the default
// global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warrant_tool_calls_total",
			Help: "Tool calls by tool name and outcome.",
		}, []string{"tool", "status"}),
		violations: factory.NewCounter(prometheus.CounterOpts{
			Name: "warrant_capability_violations_total",
			Help: "Tool calls rejected by capability token enforcement.",
		}),
		gaps: factory.NewCounter(prometheus.CounterOpts{
			Name: "warrant_capability_gaps_total",
			Help: "Requests for tools no registered server provides.",
		}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warrant_tool_call_duration_seconds",
			Help:    "Tool call latency from dispatch to handler return.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
	}
}

func (m *Metrics) observeCall(tool, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(tool, status).Inc()
	m.duration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

func (m *Metrics) observeViolation() {
	if m == nil {
		return
	}
	m.violations.Inc()
}

func (m *Metrics) observeGap() {
	if m == nil {
		return
	}
	m.gaps.Inc()
}
