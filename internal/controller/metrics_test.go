package controller

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proccontrol/internal/configdb"
	"proccontrol/internal/registry"
)

func metricValue(c prometheus.Collector) float64 {
	return testutil.ToFloat64(c)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordConflict()
	m.RecordCycle(&CycleResult{Launched: []string{"pb-x-1"}})
	m.RecordCycleError()
	m.RecordRefresh(registry.OutcomeUpdated, nil)
	m.RecordState(StateReconcile)
}

func TestMetrics_RecordCycle(t *testing.T) {
	backend := configdb.NewMemoryBackend()
	metrics := NewMetrics()
	client := configdb.NewClient(backend, configdb.WithBackoff(fastBackoff), configdb.WithConflictHook(metrics.RecordConflict))
	reg := newStubRegistry(map[string]string{"batch/w1/1.0": "img:1.0"})
	ctrl := newTestController(reg, client, WithMetrics(metrics))

	submit(t, client, block("pb-x-1", "w1"), block("pb-y-1", "unknown"))

	writer := configdb.NewClient(backend)
	injected := false
	reg.onResolve = func() {
		if injected {
			return
		}
		injected = true
		_, err := writer.Transact(context.Background(), func(ctx context.Context, txn *configdb.Txn) error {
			return txn.CreateDeployment(ctx, &configdb.Deployment{ID: "proc-pb-gone-1-workflow"})
		})
		require.NoError(t, err)
	}

	runCycle(t, ctrl)

	assert.Equal(t, 1.0, metricValue(metrics.cycles))
	assert.Equal(t, 1.0, metricValue(metrics.conflicts))
	assert.Equal(t, 1.0, metricValue(metrics.launches))
	assert.Equal(t, 1.0, metricValue(metrics.failures))
	assert.Equal(t, 1.0, metricValue(metrics.deletions))
	assert.Equal(t, 0.0, metricValue(metrics.releases))
}

func TestMetrics_RecordRefresh(t *testing.T) {
	metrics := NewMetrics()
	snap, err := registry.Parse([]byte(`{
		"version": {"date-time": "2020-05-01T10:00:00Z"},
		"batch": {"w1": {"1.0": "img:1.0", "2.0": "img:2.0"}},
		"realtime": {"r1": {"1.0": "img:r1"}}
	}`), registry.DefaultCategories)
	require.NoError(t, err)

	metrics.RecordRefresh(registry.OutcomeUpdated, snap)
	metrics.RecordRefresh(registry.OutcomeFailed, snap)

	assert.Equal(t, 1.0, metricValue(metrics.refreshes.WithLabelValues("updated")))
	assert.Equal(t, 1.0, metricValue(metrics.refreshes.WithLabelValues("failed")))
	assert.Equal(t, 2.0, metricValue(metrics.registryEntries.WithLabelValues("batch")))
	assert.Equal(t, 1.0, metricValue(metrics.registryEntries.WithLabelValues("realtime")))
}

func TestMetrics_Handler(t *testing.T) {
	metrics := NewMetrics()
	metrics.RecordState(StateWaitForChange)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `proccontrol_loop_state{state="WAIT_FOR_CHANGE"} 1`)
	assert.Contains(t, string(body), `proccontrol_loop_state{state="RECONCILE"} 0`)
	assert.Contains(t, string(body), "go_goroutines")
}
