package federated

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatherFamily finds one metric family in the default registry.
func gatherFamily(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

// counterValue reads the counter carrying the given label pair, or -1 when
// no such series exists.
func counterValue(mf *dto.MetricFamily, label, value string) float64 {
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	return -1
}

func TestMetricsTrackUpdates(t *testing.T) {
	a := newTestAggregator(t, 0)

	_, err := a.Receive("client-1", []float64{1, 0, 0, 0})
	require.NoError(t, err)
	_, err = a.Receive("client-2", []float64{1, 0})
	require.Error(t, err)

	mf := gatherFamily(t, "medorby_federated_updates_received_total")
	require.NotNil(t, mf)
	assert.Equal(t, dto.MetricType_COUNTER, mf.GetType())
	assert.GreaterOrEqual(t, counterValue(mf, "status", "accepted"), 1.0)
	assert.GreaterOrEqual(t, counterValue(mf, "status", "rejected"), 1.0)
}

func TestMetricsTrackAggregationRound(t *testing.T) {
	a := newTestAggregator(t, 0)

	for _, client := range []string{"client-1", "client-2", "client-3"} {
		_, err := a.Receive(client, []float64{1, 0, 0, 0})
		require.NoError(t, err)
	}
	agg, err := a.MaybeAggregate(3)
	require.NoError(t, err)
	require.NotNil(t, agg)

	version := gatherFamily(t, "medorby_federated_adapter_version")
	require.NotNil(t, version)
	assert.Equal(t, dto.MetricType_GAUGE, version.GetType())
	require.NotEmpty(t, version.GetMetric())
	assert.Equal(t, float64(agg.Version), version.GetMetric()[0].GetGauge().GetValue())

	pending := gatherFamily(t, "medorby_federated_pending_updates")
	require.NotNil(t, pending)
	require.NotEmpty(t, pending.GetMetric())
	assert.Equal(t, 0.0, pending.GetMetric()[0].GetGauge().GetValue())

	rounds := gatherFamily(t, "medorby_federated_aggregations_total")
	require.NotNil(t, rounds)
	require.NotEmpty(t, rounds.GetMetric())
	assert.GreaterOrEqual(t, rounds.GetMetric()[0].GetCounter().GetValue(), 1.0)
}
