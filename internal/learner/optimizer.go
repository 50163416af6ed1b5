package learner

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Observer is notified after ingestion, optimization and anomaly checks.
// Calls happen with the optimizer lock held and must not call back into it.
type Observer interface {
	ObservedSample(parameter string)
	ObservedOptimization(entry HistoryEntry, recs map[string]Recommendation, took time.Duration)
	ObservedAnomalies(parameter string, matches, total int)
}

type Option func(*Optimizer)

// WithClock replaces time.Now for the optimizer and all of its buffers.
func WithClock(now func() time.Time) Option { return func(o *Optimizer) { o.now = now } }

func WithLogger(l zerolog.Logger) Option { return func(o *Optimizer) { o.log = l } }

func WithObserver(obs Observer) Option { return func(o *Optimizer) { o.obs = obs } }

// Summary is the part of a recommendation retained in history.
type Summary struct {
	Value      float64  `json:"value"`
	Confidence float64  `json:"confidence"`
	Strategy   Strategy `json:"strategy"`
}

// HistoryEntry records one OptimizeThresholds run.
type HistoryEntry struct {
	ID                  string             `json:"id"`
	Timestamp           time.Time          `json:"timestamp"`
	ParametersOptimized int                `json:"parameters_optimized"`
	Thresholds          map[string]Summary `json:"thresholds"`
}

// Optimizer learns one threshold per parameter from the samples fed to it.
// It is safe for concurrent use.
type Optimizer struct {
	mu  sync.Mutex
	cfg Config
	now func() time.Time
	log zerolog.Logger
	obs Observer

	buffers          map[string]*Buffer
	recs             map[string]Recommendation
	anomalies        map[string]uint64
	normals          map[string]uint64
	history          []HistoryEntry
	lastOptimization time.Time
}

func New(cfg Config, opts ...Option) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Optimizer{
		cfg:       cfg,
		now:       time.Now,
		log:       zerolog.Nop(),
		buffers:   map[string]*Buffer{},
		recs:      map[string]Recommendation{},
		anomalies: map[string]uint64{},
		normals:   map[string]uint64{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *Optimizer) Config() Config { return o.cfg }

func (o *Optimizer) bufferLocked(parameter string) *Buffer {
	b := o.buffers[parameter]
	if b == nil {
		b = newBuffer(parameter, o.cfg.MaxPoints, o.cfg.CacheInterval, o.now)
		o.buffers[parameter] = b
		o.log.Debug().Str("parameter", parameter).Msg("tracking new parameter")
	}
	return b
}

// AddMetric records one sample. A zero ts means now.
func (o *Optimizer) AddMetric(parameter string, value float64, ts time.Time, labels map[string]string) error {
	if !finite(value) {
		return fmt.Errorf("%s: %w", parameter, ErrNonFinite)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.bufferLocked(parameter).Add(value, ts, labels); err != nil {
		return err
	}
	if o.obs != nil {
		o.obs.ObservedSample(parameter)
	}
	return nil
}

// ImportMetrics backfills samples per parameter and returns how many were
// accepted. Rejected samples are reported in the joined error.
func (o *Optimizer) ImportMetrics(data map[string][]Sample) (int, error) {
	return o.importSamples(data, true)
}

// RestoreMetrics is ImportMetrics for samples recovered from storage. The
// observer is not notified, so restarts do not count them as new ingestion.
func (o *Optimizer) RestoreMetrics(data map[string][]Sample) (int, error) {
	return o.importSamples(data, false)
}

func (o *Optimizer) importSamples(data map[string][]Sample, notify bool) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	total := 0
	var errs []error
	for _, parameter := range sortedKeys(data) {
		samples := data[parameter]
		n, err := o.bufferLocked(parameter).AddPoints(samples)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %d of %d samples rejected: %w", parameter, len(samples)-n, len(samples), err))
		}
		if notify && o.obs != nil {
			for i := 0; i < n; i++ {
				o.obs.ObservedSample(parameter)
			}
		}
	}
	return total, errors.Join(errs...)
}

// ShouldOptimize reports whether OptimizationInterval has elapsed since the
// last run. It never blocks OptimizeThresholds.
func (o *Optimizer) ShouldOptimize() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now().Sub(o.lastOptimization) >= o.cfg.OptimizationInterval
}

// OptimizeThresholds recomputes the recommendation for every parameter with
// at least MinDataPoints samples. Parameters below that keep any previous
// recommendation. One history entry is appended per call.
func (o *Optimizer) OptimizeThresholds() map[string]Recommendation {
	o.mu.Lock()
	defer o.mu.Unlock()
	start := o.now()
	o.lastOptimization = start

	out := map[string]Recommendation{}
	for _, parameter := range sortedKeys(o.buffers) {
		b := o.buffers[parameter]
		st := b.Statistics(true)
		if st.DataPoints < o.cfg.MinDataPoints {
			o.log.Debug().Str("parameter", parameter).Int("points", st.DataPoints).
				Int("min", o.cfg.MinDataPoints).Msg("not enough data, skipping")
			continue
		}
		trend, _ := b.Trend(o.cfg.TrendWindow)
		rec := recommend(parameter, st, trend)
		out[parameter] = rec
		o.recs[parameter] = rec
		o.log.Debug().Str("parameter", parameter).Float64("threshold", rec.Value).
			Float64("confidence", rec.Confidence).Str("strategy", rec.Strategy.String()).
			Str("trend", string(trend)).Msg("threshold updated")
	}

	entry := HistoryEntry{
		ID:                  uuid.NewString(),
		Timestamp:           start,
		ParametersOptimized: len(out),
		Thresholds:          make(map[string]Summary, len(out)),
	}
	for p, r := range out {
		entry.Thresholds[p] = Summary{Value: r.Value, Confidence: r.Confidence, Strategy: r.Strategy}
	}
	o.history = append(o.history, entry)
	if over := len(o.history) - o.cfg.MaxHistory; over > 0 {
		o.history = append([]HistoryEntry(nil), o.history[over:]...)
	}

	took := o.now().Sub(start)
	o.log.Info().Int("optimized", len(out)).Int("tracked", len(o.buffers)).Dur("took", took).Msg("thresholds optimized")
	if o.obs != nil {
		o.obs.ObservedOptimization(entry, out, took)
	}
	return out
}

// RestoreRecommendations seeds recommendations recovered from storage.
// Existing entries for the same parameters are overwritten.
func (o *Optimizer) RestoreRecommendations(recs []Recommendation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range recs {
		o.recs[r.Parameter] = r
	}
}

// Statistics returns the (possibly cached) statistics of a tracked parameter.
func (o *Optimizer) Statistics(parameter string) (Statistics, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.buffers[parameter]
	if !ok {
		return Statistics{}, false
	}
	return b.Statistics(false), true
}

func (o *Optimizer) Recommendation(parameter string) (Recommendation, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.recs[parameter]
	return r, ok
}

func (o *Optimizer) Recommendations() map[string]Recommendation {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]Recommendation, len(o.recs))
	for k, v := range o.recs {
		out[k] = v
	}
	return out
}

// ExportThresholds flattens the current recommendations to their values.
func (o *Optimizer) ExportThresholds() map[string]float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]float64, len(o.recs))
	for k, v := range o.recs {
		out[k] = v.Value
	}
	return out
}

// History returns a copy of the retained optimization runs, oldest first.
func (o *Optimizer) History() []HistoryEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.history) == 0 {
		return nil
	}
	out := make([]HistoryEntry, len(o.history))
	for i, e := range o.history {
		th := make(map[string]Summary, len(e.Thresholds))
		for k, v := range e.Thresholds {
			th[k] = v
		}
		e.Thresholds = th
		out[i] = e
	}
	return out
}

// Parameters lists tracked parameters in lexical order.
func (o *Optimizer) Parameters() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return sortedKeys(o.buffers)
}

// Recent returns the points of parameter inside window, or nil when unknown.
func (o *Optimizer) Recent(parameter string, window time.Duration) []Point {
	o.mu.Lock()
	b := o.buffers[parameter]
	o.mu.Unlock()
	if b == nil {
		return nil
	}
	return b.Recent(window)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
