package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/marketpulse/errors"
	"github.com/teranos/marketpulse/pulse/budget"
)

func TestManager_PipelineMetrics(t *testing.T) {
	m := NewManager()

	m.EntityProcessed("", 2*time.Second)
	m.EntityProcessed("", time.Second)
	m.EntityProcessed("derive", time.Second)
	m.BatchCompleted("loop", 3, 1, time.Minute)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.entitiesProcessed.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.entitiesProcessed.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.entityFailures.WithLabelValues("derive")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batches.WithLabelValues("loop")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.batchLastCount.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batchLastCount.WithLabelValues("failed")))
}

func TestManager_FeedAndLoopMetrics(t *testing.T) {
	m := NewManager(WithNamespace("mp_test"))

	require.NoError(t, m.Record(context.Background(), budget.Call{Endpoint: "aggregates", StatusCode: 429, Duration: 100 * time.Millisecond}))
	require.NoError(t, m.Record(context.Background(), budget.Call{Endpoint: "aggregates", StatusCode: 200, Success: true}))
	m.LimiterWaited(1500 * time.Millisecond)
	m.LoopIteration("interval", nil)
	m.LoopIteration("interval", errors.New("batch failed"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.feedCalls.WithLabelValues("aggregates", "429")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.feedCalls.WithLabelValues("aggregates", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.limiterWaits))
	assert.InDelta(t, 1.5, testutil.ToFloat64(m.limiterWaitTotal), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loopIterations.WithLabelValues("interval", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loopIterations.WithLabelValues("interval", "error")))
}

func TestManager_Isolated(t *testing.T) {
	// two managers never collide on registration
	a, b := NewManager(), NewManager()
	a.LoopIteration("daily", nil)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.loopIterations.WithLabelValues("daily", "ok")))
}

func TestSampleSystem(t *testing.T) {
	s, err := SampleSystem()
	require.NoError(t, err)
	assert.NotZero(t, s.MemoryTotal)
	assert.LessOrEqual(t, s.MemoryAvailable, s.MemoryTotal)
	assert.Positive(t, s.Goroutines)

	m := NewManager()
	m.ObserveSystem(s)
	assert.Equal(t, float64(s.Goroutines), testutil.ToFloat64(m.goroutines))
}

// Test Case 1: Scrape endpoint
// Given: A manager serving on an ephemeral port
// When: /metrics is fetched
// Then: The marketpulse series are exposed
func TestServe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewManager()
	m.LoopIteration("loop", nil)
	addr, err := m.Serve(ctx, "127.0.0.1:0", zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `marketpulse_runner_loop_iterations_total{result="ok",trigger="loop"} 1`)
}
