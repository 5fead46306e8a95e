package council

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeComplete  = "complete"
	outcomeCancelled = "cancelled"
	outcomeError     = "error"
)

type councilMetrics struct {
	deliberations *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	parseFailures *prometheus.CounterVec
}

var (
	metricsInstance *councilMetrics
	metricsOnce     sync.Once
)

func getMetrics() *councilMetrics {
	metricsOnce.Do(func() {
		metricsInstance = newMetrics()
	})
	return metricsInstance
}

func newMetrics() *councilMetrics {
	m := &councilMetrics{
		deliberations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "medorby",
				Subsystem: "council",
				Name:      "deliberations_total",
				Help:      "Total council deliberations by outcome",
			},
			[]string{"outcome"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "medorby",
				Subsystem: "council",
				Name:      "stage_duration_seconds",
				Help:      "Wall-clock duration of each council stage",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		parseFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "medorby",
				Subsystem: "council",
				Name:      "member_parse_failures_total",
				Help:      "Total divergence responses that did not parse as a JSON object",
			},
			[]string{"member"},
		),
	}

	prometheus.MustRegister(m.deliberations, m.stageDuration, m.parseFailures)
	return m
}

func (m *councilMetrics) recordOutcome(outcome string) {
	m.deliberations.WithLabelValues(outcome).Inc()
}

func (m *councilMetrics) observeStage(stage string, elapsed time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func (m *councilMetrics) recordParseFailure(member string) {
	m.parseFailures.WithLabelValues(member).Inc()
}
