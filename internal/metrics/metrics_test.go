package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwapMetrics_Snapshot(t *testing.T) {
	m := NewSwapMetrics(nil)
	m.Swaps.Inc()
	m.Swaps.Inc()
	m.NoSwaps.Inc()
	m.RejectedLoop.Inc()
	m.ProtocolViolations.Add(3)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.Swaps)
	assert.Equal(t, uint64(1), snap.NoSwaps)
	assert.Equal(t, uint64(1), snap.RejectedLoop)
	assert.Equal(t, uint64(3), snap.ProtocolViolations)
	assert.Zero(t, snap.Started)
}

func TestSwapMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSwapMetrics(reg)
	m.Started.Inc()
	m.Relayed.WithLabelValues("reply").Inc()
	m.Location.Set(0.42)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Started))
	assert.Equal(t, 0.42, testutil.ToFloat64(m.Location))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["ringswap_swap_started_total"])
	assert.True(t, names["ringswap_swap_relayed_total"])
	assert.True(t, names["ringswap_location"])
}
