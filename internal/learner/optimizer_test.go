package learner

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOptimizer(t *testing.T, mutate func(*Config), opts ...Option) (*Optimizer, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	o, err := New(cfg, append([]Option{WithClock(clk.Now)}, opts...)...)
	require.NoError(t, err)
	return o, clk
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"interval", func(c *Config) { c.OptimizationInterval = 0 }},
		{"cache", func(c *Config) { c.CacheInterval = -time.Second }},
		{"sensitivity", func(c *Config) { c.Sensitivity = 0 }},
		{"nan sensitivity", func(c *Config) { c.Sensitivity = math.NaN() }},
		{"history", func(c *Config) { c.MaxHistory = 0 }},
		{"points", func(c *Config) { c.MaxPoints = -1 }},
		{"min data", func(c *Config) { c.MinDataPoints = 0 }},
		{"trend window", func(c *Config) { c.TrendWindow = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestDefaults(t *testing.T) {
	o, _ := newTestOptimizer(t, nil)
	cfg := o.Config()
	assert.Equal(t, 100, cfg.MinDataPoints)
	assert.Equal(t, 24*time.Hour, cfg.LearningWindow)
	assert.Equal(t, time.Hour, cfg.OptimizationInterval)
	assert.Empty(t, o.Parameters())
}

func TestAddMetric(t *testing.T) {
	o, _ := newTestOptimizer(t, nil)
	require.NoError(t, o.AddMetric("cpu", 50, time.Time{}, nil))
	assert.Equal(t, []string{"cpu"}, o.Parameters())

	err := o.AddMetric("cpu", math.NaN(), time.Time{}, nil)
	assert.ErrorIs(t, err, ErrNonFinite)
	st, ok := o.Statistics("cpu")
	require.True(t, ok)
	assert.Equal(t, 1, st.DataPoints)
}

func TestUnknownParameterLookups(t *testing.T) {
	o, _ := newTestOptimizer(t, nil)
	_, ok := o.Recommendation("never_seen")
	assert.False(t, ok)
	_, ok = o.Statistics("never_seen")
	assert.False(t, ok)
	assert.Empty(t, o.Recommendations())
	assert.Empty(t, o.ExportThresholds())
	assert.Nil(t, o.DetectAnomalies("never_seen", 2))
	assert.Nil(t, o.Recent("never_seen", time.Hour))
}

func TestShouldOptimize(t *testing.T) {
	o, clk := newTestOptimizer(t, func(c *Config) { c.OptimizationInterval = 100 * time.Second })
	assert.True(t, o.ShouldOptimize())
	o.OptimizeThresholds()
	assert.False(t, o.ShouldOptimize())
	clk.Advance(99 * time.Second)
	assert.False(t, o.ShouldOptimize())
	clk.Advance(time.Second)
	assert.True(t, o.ShouldOptimize())
}

func TestOptimizeInsufficientData(t *testing.T) {
	o, _ := newTestOptimizer(t, nil)
	for i := 0; i < 50; i++ {
		require.NoError(t, o.AddMetric("cpu", float64(i), time.Time{}, nil))
	}
	recs := o.OptimizeThresholds()
	assert.Empty(t, recs)
	h := o.History()
	require.Len(t, h, 1, "history is appended even when nothing qualified")
	assert.Equal(t, 0, h[0].ParametersOptimized)
}

func TestOptimizeUniformLatency(t *testing.T) {
	o, _ := newTestOptimizer(t, nil)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 150; i++ {
		require.NoError(t, o.AddMetric("latency_ms", 50+rng.Float64()*100, time.Time{}, nil))
	}
	recs := o.OptimizeThresholds()
	rec, ok := recs["latency_ms"]
	require.True(t, ok)
	st, _ := o.Statistics("latency_ms")

	assert.Equal(t, StrategyPercentile, rec.Strategy)
	assert.Greater(t, rec.Confidence, 0.0)
	assert.LessOrEqual(t, rec.Confidence, 1.0)
	assertClamped(t, rec, st)
	assert.NotEmpty(t, rec.Reasoning)
	assert.Equal(t, 150, rec.Support.DataPoints)

	stored, ok := o.Recommendation("latency_ms")
	require.True(t, ok)
	assert.Equal(t, rec, stored)
	assert.Equal(t, rec.Value, o.ExportThresholds()["latency_ms"])
}

func TestRecommendTrendAndClamp(t *testing.T) {
	tests := []struct {
		name       string
		values     []float64
		trend      Trend
		confidence float64
		bound      string // "ceil" or "floor"
	}{
		{"rising capped at ceiling", seq(150, func(i int) float64 { return float64(i + 1) }), TrendIncreasing, 0.765, "ceil"},
		{"falling raised above ceiling", seq(150, func(i int) float64 { return float64(300 - i) }), TrendDecreasing, 0.8075, "floor"},
		{"flat raised above ceiling", seq(150, func(i int) float64 { return float64(100 + i%2) }), TrendStable, 0.85, "floor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, _ := newTestOptimizer(t, nil)
			for _, v := range tt.values {
				require.NoError(t, o.AddMetric("p", v, time.Time{}, nil))
			}
			rec, ok := o.OptimizeThresholds()["p"]
			require.True(t, ok)
			st, _ := o.Statistics("p")
			floor, ceil := 1.5*st.Mean, 0.95*st.Max

			assert.Equal(t, StrategyPercentile, rec.Strategy)
			assert.Equal(t, tt.trend, rec.Support.Trend)
			assert.InDelta(t, tt.confidence, rec.Confidence, 1e-12)
			switch tt.bound {
			case "ceil":
				assert.Greater(t, st.P95, ceil)
				assert.InDelta(t, ceil, rec.Value, 1e-9)
			case "floor":
				assert.Less(t, st.P95, floor)
				assert.InDelta(t, floor, rec.Value, 1e-9)
				assert.Greater(t, rec.Value, ceil, "floor is not re-checked against the ceiling")
			}
		})
	}
}

func TestRecommendWithinBounds(t *testing.T) {
	// 1..99 e 200: p95 = 95.05, floor = 77.25, ceil = 190
	st := describe(append(seq(99, func(i int) float64 { return float64(i + 1) }), 200), time.Time{})
	rec := recommend("p", st, TrendStable)
	assert.InDelta(t, 95.05, rec.Value, 1e-9)
	assert.Contains(t, rec.Reasoning, "within bounds")

	st = describe(append(seq(99, func(int) float64 { return 10 }), 100), time.Time{})
	rec = recommend("p", st, TrendUnknown)
	assert.InDelta(t, 1.5*st.Mean, rec.Value, 1e-9)
	assert.InDelta(t, 0.85, rec.Confidence, 1e-12)
	assert.Contains(t, rec.Reasoning, "trend unknown")
}

func TestOptimizeMultipleParameters(t *testing.T) {
	o, _ := newTestOptimizer(t, func(c *Config) { c.MinDataPoints = 50 })
	for _, p := range []string{"cpu", "memory", "latency"} {
		for i := 0; i < 100; i++ {
			require.NoError(t, o.AddMetric(p, float64(i%80+20), time.Time{}, nil))
		}
	}
	recs := o.OptimizeThresholds()
	assert.Len(t, recs, 3)
	ls := o.LearningStats()
	assert.Equal(t, 3, ls.TotalParameters)
	assert.Equal(t, 3, ls.ParametersWithEnoughData)
	assert.Equal(t, 300, ls.TotalDataPoints)
	assert.Equal(t, 3, ls.ActiveRecommendations)
	assert.Equal(t, 1, ls.HistoryLength)
	assert.Len(t, o.History()[0].Thresholds, 3)
}

func TestStaleRecommendationSurvives(t *testing.T) {
	o, _ := newTestOptimizer(t, func(c *Config) { c.MinDataPoints = 20 })
	o.RestoreRecommendations([]Recommendation{{Parameter: "disk", Value: 90, Confidence: 0.85}})
	require.NoError(t, o.AddMetric("disk", 10, time.Time{}, nil))
	assert.Empty(t, o.OptimizeThresholds())
	rec, ok := o.Recommendation("disk")
	require.True(t, ok)
	assert.Equal(t, 90.0, rec.Value)
}

func TestHistoryCap(t *testing.T) {
	o, clk := newTestOptimizer(t, func(c *Config) { c.MaxHistory = 3 })
	var stamps []time.Time
	for i := 0; i < 5; i++ {
		stamps = append(stamps, clk.Now())
		o.OptimizeThresholds()
		clk.Advance(time.Minute)
	}
	h := o.History()
	require.Len(t, h, 3)
	for i, e := range h {
		assert.Equal(t, stamps[i+2], e.Timestamp)
	}
	assert.NotEqual(t, h[0].ID, h[1].ID)
}

func TestHistoryIsACopy(t *testing.T) {
	o, _ := newTestOptimizer(t, func(c *Config) { c.MinDataPoints = 10 })
	for i := 0; i < 20; i++ {
		require.NoError(t, o.AddMetric("x", float64(i), time.Time{}, nil))
	}
	o.OptimizeThresholds()
	h := o.History()
	want := h[0].Thresholds["x"]
	h[0].Thresholds["x"] = Summary{Value: -1}
	h[0].ID = "changed"

	again := o.History()
	assert.Equal(t, want, again[0].Thresholds["x"])
	assert.NotEqual(t, "changed", again[0].ID)
}

func TestImportMetrics(t *testing.T) {
	o, clk := newTestOptimizer(t, func(c *Config) { c.MinDataPoints = 10 })
	data := map[string][]Sample{
		"cpu": seqSamples(clk.Now(), 20, func(i int) float64 { return float64(i) }),
		"mem": {{Value: 1, Timestamp: clk.Now()}, {Value: math.Inf(1), Timestamp: clk.Now()}},
	}
	n, err := o.ImportMetrics(data)
	assert.Equal(t, 21, n)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNonFinite)
	assert.Contains(t, err.Error(), "mem")

	recs := o.OptimizeThresholds()
	assert.Contains(t, recs, "cpu")
	assert.NotContains(t, recs, "mem")
}

func TestDetectAnomaliesConstant(t *testing.T) {
	o, _ := newTestOptimizer(t, nil)
	for i := 0; i < 20; i++ {
		require.NoError(t, o.AddMetric("x", 100, time.Time{}, nil))
	}
	assert.Empty(t, o.DetectAnomalies("x", 2.0))
	assert.Equal(t, uint64(20), o.normals["x"])
	assert.Equal(t, uint64(0), o.anomalies["x"])
	assert.Equal(t, 0.0, o.LearningStats().AnomalyRates["x"])
}

func TestDetectAnomaliesSpike(t *testing.T) {
	o, _ := newTestOptimizer(t, nil)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		require.NoError(t, o.AddMetric("latency", 100+rng.NormFloat64()*10, time.Time{}, nil))
	}
	require.NoError(t, o.AddMetric("latency", 500, time.Time{}, map[string]string{"pod": "api-1"}))

	got := o.DetectAnomalies("latency", 2.0)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, 500.0, last.Value)
	assert.Equal(t, "api-1", last.Labels["pod"])

	matches := uint64(len(got))
	assert.Equal(t, matches, o.anomalies["latency"])
	assert.Equal(t, 101-matches, o.normals["latency"])

	o.DetectAnomalies("latency", 0) // falls back to configured sensitivity
	assert.Equal(t, 2*matches, o.anomalies["latency"])
	rate := o.LearningStats().AnomalyRates["latency"]
	assert.InDelta(t, float64(matches)/101*100, rate, 1e-9)
}

func TestDetectAnomaliesTooFewPoints(t *testing.T) {
	o, _ := newTestOptimizer(t, nil)
	for i := 0; i < 9; i++ {
		require.NoError(t, o.AddMetric("x", float64(i*100), time.Time{}, nil))
	}
	assert.Nil(t, o.DetectAnomalies("x", 0.1))
	assert.Zero(t, o.normals["x"])
}

type recordingObserver struct {
	samples   int
	runs      []HistoryEntry
	anomalies int
}

func (r *recordingObserver) ObservedSample(string) { r.samples++ }
func (r *recordingObserver) ObservedOptimization(e HistoryEntry, _ map[string]Recommendation, _ time.Duration) {
	r.runs = append(r.runs, e)
}
func (r *recordingObserver) ObservedAnomalies(_ string, matches, _ int) { r.anomalies += matches }

func TestObserver(t *testing.T) {
	obs := &recordingObserver{}
	o, clk := newTestOptimizer(t, func(c *Config) { c.MinDataPoints = 10 }, WithObserver(obs))
	_, err := o.ImportMetrics(map[string][]Sample{"cpu": seqSamples(clk.Now(), 30, func(int) float64 { return 5 })})
	require.NoError(t, err)
	require.NoError(t, o.AddMetric("cpu", 500, time.Time{}, nil))
	o.OptimizeThresholds()
	o.DetectAnomalies("cpu", 2)

	assert.Equal(t, 31, obs.samples)
	require.Len(t, obs.runs, 1)
	assert.Equal(t, 1, obs.runs[0].ParametersOptimized)
	assert.Equal(t, 1, obs.anomalies)
}

func TestRestoreMetricsSkipsObserver(t *testing.T) {
	obs := &recordingObserver{}
	o, clk := newTestOptimizer(t, nil, WithObserver(obs))
	n, err := o.RestoreMetrics(map[string][]Sample{"cpu": seqSamples(clk.Now(), 30, func(int) float64 { return 5 })})
	require.NoError(t, err)
	assert.Equal(t, 30, n)
	assert.Zero(t, obs.samples)
	st, ok := o.Statistics("cpu")
	require.True(t, ok)
	assert.Equal(t, 30, st.DataPoints)
}

func seqSamples(at time.Time, n int, f func(int) float64) []Sample {
	out := make([]Sample, n)
	for i := range out {
		out[i] = Sample{Value: f(i), Timestamp: at.Add(time.Duration(i-n) * time.Second)}
	}
	return out
}

func assertClamped(t *testing.T, rec Recommendation, st Statistics) {
	t.Helper()
	floor := st.Mean * 1.5
	ceil := st.Max * 0.95
	if math.Abs(rec.Value-floor) < 1e-9 {
		return
	}
	assert.GreaterOrEqual(t, rec.Value, floor)
	assert.LessOrEqual(t, rec.Value, ceil)
}
