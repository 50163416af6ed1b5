package learner

import "time"

// DetectAnomalies returns the points of parameter strictly above
// mean + sensitivity·σ of the whole buffer. Unknown parameters and buffers
// with fewer than MinAnomalyPoints samples yield nil. A non-positive
// sensitivity uses the configured default.
func (o *Optimizer) DetectAnomalies(parameter string, sensitivity float64) []Point {
	if !(sensitivity > 0) || !finite(sensitivity) {
		sensitivity = o.cfg.Sensitivity
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.buffers[parameter]
	if !ok {
		return nil
	}
	st := b.Statistics(true)
	if st.DataPoints < MinAnomalyPoints {
		return nil
	}
	threshold := st.Mean + sensitivity*st.StdDev

	var out []Point
	for _, p := range b.Points() {
		if p.Value > threshold {
			out = append(out, p)
		}
	}
	o.anomalies[parameter] += uint64(len(out))
	o.normals[parameter] += uint64(st.DataPoints - len(out))

	if len(out) > 0 {
		o.log.Warn().Str("parameter", parameter).Int("anomalies", len(out)).
			Float64("threshold", threshold).Float64("sensitivity", sensitivity).Msg("anomalies detected")
	}
	if o.obs != nil {
		o.obs.ObservedAnomalies(parameter, len(out), st.DataPoints)
	}
	return out
}

// LearningStats summarizes what the optimizer has learned so far.
type LearningStats struct {
	TotalParameters          int                `json:"total_parameters"`
	ParametersWithEnoughData int                `json:"parameters_with_enough_data"`
	TotalDataPoints          int                `json:"total_data_points"`
	AnomalyRates             map[string]float64 `json:"anomaly_rates"`
	ActiveRecommendations    int                `json:"active_recommendations"`
	HistoryLength            int                `json:"optimization_history_length"`
	LastOptimization         time.Time          `json:"last_optimization"`
	LearningWindow           time.Duration      `json:"learning_window"`
}

func (o *Optimizer) LearningStats() LearningStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	ls := LearningStats{
		TotalParameters:       len(o.buffers),
		AnomalyRates:          map[string]float64{},
		ActiveRecommendations: len(o.recs),
		HistoryLength:         len(o.history),
		LastOptimization:      o.lastOptimization,
		LearningWindow:        o.cfg.LearningWindow,
	}
	for _, b := range o.buffers {
		n := b.Len()
		ls.TotalDataPoints += n
		if n >= o.cfg.MinDataPoints {
			ls.ParametersWithEnoughData++
		}
	}
	for parameter, anomalies := range o.anomalies {
		checked := anomalies + o.normals[parameter]
		if checked < 1 {
			checked = 1
		}
		ls.AnomalyRates[parameter] = float64(anomalies) / float64(checked) * 100
	}
	return ls
}
