package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineMetrics(t *testing.T) {
	m := NewPipelineMetrics(prometheus.NewRegistry(), "test_pipeline")
	require.NotNil(t, m)

	m.Candidates.WithLabelValues("sandwich").Inc()
	m.Decisions.WithLabelValues("sandwich", "admit").Inc()
	m.Decisions.WithLabelValues("sandwich", "admit").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Candidates.WithLabelValues("sandwich")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Decisions.WithLabelValues("sandwich", "admit")))

	m.QueueDepth.Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.QueueDepth))

	// For histograms, we can only verify that they accept observations
	m.DetectLatency.WithLabelValues("arbitrage").Observe(0.01)
}

func TestExecutorMetrics(t *testing.T) {
	m := NewExecutorMetrics(prometheus.NewRegistry(), "test_executor")

	m.NonceResyncs.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NonceResyncs))

	m.Outcomes.WithLabelValues("liquidation", "dropped").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Outcomes.WithLabelValues("liquidation", "dropped")))
}

func TestChainMetrics(t *testing.T) {
	m := NewChainMetrics(prometheus.NewRegistry(), "test_chain")

	m.Reconnects.WithLabelValues("heads").Add(2)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Reconnects.WithLabelValues("heads")))

	m.Head.Set(19000000)
	assert.Equal(t, float64(19000000), testutil.ToFloat64(m.Head))
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		NewPipelineMetrics(prometheus.NewRegistry(), "dup")
		NewPipelineMetrics(prometheus.NewRegistry(), "dup")
	})

	reg := NewRegistry()
	NewChainMetrics(reg, "dup")
	assert.Panics(t, func() { NewChainMetrics(reg, "dup") })
}
