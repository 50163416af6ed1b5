package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viniciushammett/threshold-learner/internal/learner"
)

func TestObserverThroughOptimizer(t *testing.T) {
	cfg := learner.DefaultConfig()
	cfg.MinDataPoints = 10
	o, err := learner.New(cfg, learner.WithObserver(Observer{}))
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, o.AddMetric("metrics_test_cpu", float64(40+i), time.Time{}, nil))
	}
	runs := testutil.ToFloat64(Optimizations)
	recs := o.OptimizeThresholds()
	o.DetectAnomalies("metrics_test_cpu", 2)

	assert.Equal(t, 20.0, testutil.ToFloat64(SamplesIngested.WithLabelValues("metrics_test_cpu")))
	assert.Equal(t, runs+1, testutil.ToFloat64(Optimizations))
	assert.Equal(t, recs["metrics_test_cpu"].Value, testutil.ToFloat64(RecommendedThreshold.WithLabelValues("metrics_test_cpu")))
	assert.Equal(t, 20.0, testutil.ToFloat64(AnomalyChecked.WithLabelValues("metrics_test_cpu")))
	assert.Equal(t, 0.0, testutil.ToFloat64(Anomalies.WithLabelValues("metrics_test_cpu")))
}
