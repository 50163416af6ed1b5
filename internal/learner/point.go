package learner

import (
	"errors"
	"math"
	"time"
)

// ErrNonFinite is returned when a sample value is NaN or ±Inf.
var ErrNonFinite = errors.New("learner: non-finite sample value")

// Point is one observed sample of a parameter. Points are never mutated after
// they enter a buffer.
type Point struct {
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// Sample is the (value, timestamp) pair used for bulk ingestion.
type Sample struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

type Trend string

const (
	TrendUnknown    Trend = ""
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func copyLabels(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
