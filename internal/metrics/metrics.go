package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/viniciushammett/threshold-learner/internal/learner"
)

var (
	SamplesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tl_samples_ingested_total", Help: "Samples accepted per parameter"},
		[]string{"parameter"},
	)
	Optimizations = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "tl_optimizations_total", Help: "Threshold optimization runs"},
	)
	OptimizationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tl_optimization_duration_seconds",
			Help:    "Duration of threshold optimization runs",
			Buckets: prometheus.DefBuckets,
		},
	)
	RecommendedThreshold = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "tl_recommended_threshold", Help: "Current learned threshold per parameter"},
		[]string{"parameter"},
	)
	RecommendationConfidence = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "tl_recommendation_confidence", Help: "Confidence of the current threshold (0-1]"},
		[]string{"parameter"},
	)
	Anomalies = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tl_anomalies_total", Help: "Samples flagged above the anomaly threshold"},
		[]string{"parameter"},
	)
	AnomalyChecked = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tl_anomaly_checked_total", Help: "Samples evaluated by anomaly checks"},
		[]string{"parameter"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		SamplesIngested, Optimizations, OptimizationDuration,
		RecommendedThreshold, RecommendationConfidence, Anomalies, AnomalyChecked,
	}
}

func MustRegister() { prometheus.MustRegister(collectors()...) }

func Handler() http.Handler { return promhttp.Handler() }

// Observer publishes optimizer events to the collectors above.
type Observer struct{}

var _ learner.Observer = Observer{}

func (Observer) ObservedSample(parameter string) {
	SamplesIngested.WithLabelValues(parameter).Inc()
}

func (Observer) ObservedOptimization(_ learner.HistoryEntry, recs map[string]learner.Recommendation, took time.Duration) {
	Optimizations.Inc()
	OptimizationDuration.Observe(took.Seconds())
	for p, r := range recs {
		RecommendedThreshold.WithLabelValues(p).Set(r.Value)
		RecommendationConfidence.WithLabelValues(p).Set(r.Confidence)
	}
}

func (Observer) ObservedAnomalies(parameter string, matches, total int) {
	Anomalies.WithLabelValues(parameter).Add(float64(matches))
	AnomalyChecked.WithLabelValues(parameter).Add(float64(total))
}
