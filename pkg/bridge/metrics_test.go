package bridge

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/soft_bridge/pkg/channel"
)

// metricValue ищет значение счетчика или gauge по имени и меткам
func metricValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !labelsMatch(m, labels) {
				continue
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	found := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok {
			if v != lp.GetValue() {
				return false
			}
			found++
		}
	}
	return found == len(labels)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := newTestRegistry(t, WithMetrics(NewMetrics(reg, "test")))
	tech := addTech(t, r, "multi", Capability1To1Mix|CapabilityMultiMix, PreferenceMedium)

	x := newTestBridge(t, r, CapabilityMultiMix, 0)
	y := newTestBridge(t, r, CapabilityMultiMix, 0)
	assert.Equal(t, 2.0, metricValue(t, reg, "test_bridge_bridges_total", nil))
	assert.Equal(t, 2.0, metricValue(t, reg, "test_bridge_bridges_active", nil))

	a := channel.NewLocal("a")
	c := channel.NewLocal("c")
	require.NoError(t, x.Impart(a, nil))
	require.NoError(t, y.Impart(c, nil))

	tech.Reject("rejected")
	require.Error(t, x.Impart(channel.NewLocal("rejected"), nil))

	assert.Equal(t, 2.0, metricValue(t, reg, "test_bridge_channels_joined_total", nil))
	assert.Equal(t, 2.0, metricValue(t, reg, "test_bridge_channels_active", nil))
	assert.Equal(t, 1.0, metricValue(t, reg, "test_bridge_push_rejected_total", nil))

	_, err := Merge(x, y)
	require.NoError(t, err)
	assert.Equal(t, 1.0, metricValue(t, reg, "test_bridge_merges_total", map[string]string{"result": "ok"}))
	assert.Equal(t, 1.0, metricValue(t, reg, "test_bridge_merged_channels_total", nil))

	_, err = Merge(x, x)
	require.Error(t, err)
	assert.Equal(t, 0.0, metricValue(t, reg, "test_bridge_merges_total", map[string]string{"result": "rejected"}),
		"слияние моста с самим собой отклоняется до блокировок")

	require.NoError(t, r.Depart(a))
	assert.Equal(t, 1.0, metricValue(t, reg, "test_bridge_channels_active", nil))
	assert.Equal(t, 1.0, metricValue(t, reg, "test_bridge_channel_duration_seconds", nil))
	assert.Equal(t, 1.0, metricValue(t, reg, "test_bridge_state_transitions_total", map[string]string{"state": "end"}))

	x.Dissolve()
	waitChannels(t, x, 0)
	assert.Equal(t, 1.0, metricValue(t, reg, "test_bridge_bridges_dissolved_total", nil))
	assert.Equal(t, 1.0, metricValue(t, reg, "test_bridge_actions_total", map[string]string{"type": "deferred_dissolving"}))

	require.NoError(t, x.Destroy())
	assert.Equal(t, 1.0, metricValue(t, reg, "test_bridge_bridges_active", nil))
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.bridgeCreated()
	m.channelJoined()
	m.frameDropped("queue_full")
	m.merged("ok", 3)
	m.actionQueued(ActionPlayFile)
	m.stateChanged(StateEnd)
}
