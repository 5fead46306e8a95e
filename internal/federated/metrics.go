package federated

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	updateAccepted = "accepted"
	updateRejected = "rejected"
)

type federatedMetrics struct {
	updates        *prometheus.CounterVec
	aggregations   prometheus.Counter
	adapterVersion prometheus.Gauge
	pendingUpdates prometheus.Gauge
}

var (
	metricsInstance *federatedMetrics
	metricsOnce     sync.Once
)

func getMetrics() *federatedMetrics {
	metricsOnce.Do(func() {
		metricsInstance = newMetrics()
	})
	return metricsInstance
}

func newMetrics() *federatedMetrics {
	m := &federatedMetrics{
		updates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "medorby",
				Subsystem: "federated",
				Name:      "updates_received_total",
				Help:      "Total client adapter updates by acceptance status",
			},
			[]string{"status"},
		),
		aggregations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "medorby",
				Subsystem: "federated",
				Name:      "aggregations_total",
				Help:      "Total completed aggregation rounds",
			},
		),
		adapterVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "medorby",
				Subsystem: "federated",
				Name:      "adapter_version",
				Help:      "Version of the most recently published global adapter",
			},
		),
		pendingUpdates: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "medorby",
				Subsystem: "federated",
				Name:      "pending_updates",
				Help:      "Client updates buffered toward the next aggregation",
			},
		),
	}

	prometheus.MustRegister(m.updates, m.aggregations, m.adapterVersion, m.pendingUpdates)
	return m
}

func (m *federatedMetrics) recordUpdate(status string) {
	m.updates.WithLabelValues(status).Inc()
}

func (m *federatedMetrics) recordAggregation(version, pending int) {
	m.aggregations.Inc()
	m.adapterVersion.Set(float64(version))
	m.pendingUpdates.Set(float64(pending))
}

func (m *federatedMetrics) setPending(n int) {
	m.pendingUpdates.Set(float64(n))
}

func (m *federatedMetrics) setVersion(v int) {
	m.adapterVersion.Set(float64(v))
}
