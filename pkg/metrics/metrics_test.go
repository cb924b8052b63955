package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.HookCalled("map")
		m.HookFailed("map")
		m.MaterializeFailed("history")
		m.StorageFailed("write")
		m.StageObserved("preSendMessage", time.Millisecond, true)
	})
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.HookCalled("map")
	m.HookCalled("map")
	m.HookFailed("collection")
	m.MaterializeFailed("history")
	m.StorageFailed("read")
	m.StageObserved("preSendMessage", 5*time.Millisecond, false)
	m.StageObserved("preSendMessage", 5*time.Millisecond, true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.hookCalls.WithLabelValues("map")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.hookFailures.WithLabelValues("collection")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.materializeFailures.WithLabelValues("history")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storageErrors.WithLabelValues("read")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stageFailures.WithLabelValues("preSendMessage")))

	count, err := testutil.GatherAndCount(reg, "parley_pipeline_stage_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNewWithoutRegistry(t *testing.T) {
	m := New(nil)
	require.NotNil(t, m)

	m.HookCalled("map")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.hookCalls.WithLabelValues("map")))
}
