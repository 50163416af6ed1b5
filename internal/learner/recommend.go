package learner

import "fmt"

// Support is the statistics snapshot a recommendation was derived from.
type Support struct {
	Mean       float64 `json:"mean"`
	StdDev     float64 `json:"std_dev"`
	P95        float64 `json:"p95"`
	DataPoints int     `json:"data_points"`
	Trend      Trend   `json:"trend,omitempty"`
}

// Recommendation is the learned threshold for one parameter.
type Recommendation struct {
	Parameter  string   `json:"parameter"`
	Value      float64  `json:"recommended_value"`
	Confidence float64  `json:"confidence"`
	Strategy   Strategy `json:"strategy"`
	Reasoning  string   `json:"reasoning"`
	Support    Support  `json:"supporting_data"`
}

func trendFactor(t Trend) float64 {
	switch t {
	case TrendIncreasing:
		return 0.9
	case TrendDecreasing:
		return 0.95
	default:
		return 1.0
	}
}

// clamp raises v to 1.5×mean, or else caps it at 0.95×max. The floor is not
// re-checked against the ceiling, so low-variance data can end above it.
func clamp(v float64, st Statistics) (float64, string) {
	floor := st.Mean * 1.5
	ceil := st.Max * 0.95
	switch {
	case v < floor:
		return floor, fmt.Sprintf("raised to floor 1.5×mean=%.4g", floor)
	case v > ceil:
		return ceil, fmt.Sprintf("capped at ceiling 0.95×max=%.4g", ceil)
	default:
		return v, "within bounds"
	}
}

func recommend(parameter string, st Statistics, trend Trend) Recommendation {
	c := best(candidates(st))
	conf := c.confidence * trendFactor(trend)
	value, bound := clamp(c.value, st)

	t := string(trend)
	if t == "" {
		t = "unknown"
	}
	return Recommendation{
		Parameter:  parameter,
		Value:      value,
		Confidence: conf,
		Strategy:   c.strategy,
		Reasoning: fmt.Sprintf("%s strategy proposed %.4g over %d points (mean=%.4g std=%.4g); trend %s; %s",
			c.strategy, c.value, st.DataPoints, st.Mean, st.StdDev, t, bound),
		Support: Support{
			Mean:       st.Mean,
			StdDev:     st.StdDev,
			P95:        st.P95,
			DataPoints: st.DataPoints,
			Trend:      trend,
		},
	}
}
