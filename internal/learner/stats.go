package learner

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Statistics describes the distribution of a buffer at Timestamp.
type Statistics struct {
	Mean       float64   `json:"mean"`
	Median     float64   `json:"median"`
	StdDev     float64   `json:"std_dev"`
	Min        float64   `json:"min_value"`
	Max        float64   `json:"max_value"`
	P25        float64   `json:"p25"`
	P75        float64   `json:"p75"`
	P90        float64   `json:"p90"`
	P95        float64   `json:"p95"`
	P99        float64   `json:"p99"`
	DataPoints int       `json:"data_points"`
	Timestamp  time.Time `json:"timestamp"`
}

// describe computes Statistics over values. values is not modified.
func describe(values []float64, at time.Time) Statistics {
	if len(values) == 0 {
		return Statistics{}
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mean, std := stat.PopMeanStdDev(sorted, nil)
	return Statistics{
		Mean:       mean,
		Median:     percentile(sorted, 50),
		StdDev:     std,
		Min:        floats.Min(sorted),
		Max:        floats.Max(sorted),
		P25:        percentile(sorted, 25),
		P75:        percentile(sorted, 75),
		P90:        percentile(sorted, 90),
		P95:        percentile(sorted, 95),
		P99:        percentile(sorted, 99),
		DataPoints: len(sorted),
		Timestamp:  at,
	}
}

// percentile interpolates linearly between the order statistics bracketing
// rank p/100·(n−1). sorted must be ascending and non-empty.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// classify fits y against its index 0..n−1 and classifies the slope relative
// to a tenth of the mean per point.
func classify(values []float64) (Trend, bool) {
	n := len(values)
	if n < 3 {
		return TrendUnknown, false
	}
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, values, nil, false)
	limit := 0.1 * stat.Mean(values, nil) / float64(n)
	switch {
	case slope > limit:
		return TrendIncreasing, true
	case slope < -limit:
		return TrendDecreasing, true
	default:
		return TrendStable, true
	}
}
