package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/viniciushammett/threshold-learner/internal/learner"
	"github.com/viniciushammett/threshold-learner/internal/logger"
	"github.com/viniciushammett/threshold-learner/internal/tracing"
)

var tracer = tracing.Tracer("scheduler")

// Snapshotter persists what an optimization run produced.
type Snapshotter interface {
	PutHistory(e learner.HistoryEntry) error
	PutRecommendations(recs map[string]learner.Recommendation) error
	PutSamples(parameter string, samples []learner.Sample) error
	PruneHistory(keep int) (int, error)
}

// Publisher exports the current thresholds after each optimization.
type Publisher interface {
	Publish(ctx context.Context, thresholds map[string]float64) error
}

type Config struct {
	Optimize  string // cron spec
	Anomalies string // cron spec; vazio = desligado
	Publisher Publisher
}

type Scheduler struct {
	log   *logger.Logger
	opt   *learner.Optimizer
	store Snapshotter
	cfg   Config
}

// New wires a scheduler. store may be nil to skip persistence.
func New(log *logger.Logger, opt *learner.Optimizer, store Snapshotter, cfg Config) *Scheduler {
	return &Scheduler{log: log, opt: opt, store: store, cfg: cfg}
}

// Run registers the jobs and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithParser(cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	if _, err := c.AddFunc(s.cfg.Optimize, func() { s.OptimizeIfDue(ctx) }); err != nil {
		return err
	}
	if s.cfg.Anomalies != "" {
		if _, err := c.AddFunc(s.cfg.Anomalies, func() { s.CheckAnomalies(ctx) }); err != nil {
			return err
		}
	}
	s.log.Info().Str("optimize", s.cfg.Optimize).Str("anomalies", s.cfg.Anomalies).Msg("scheduler started")
	c.Start()
	<-ctx.Done()
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("scheduler jobs still running at shutdown")
	}
	s.log.Info().Msg("scheduler stopped")
	return nil
}

// OptimizeIfDue runs an optimization only when the optimizer reports the
// interval has elapsed. It returns whether a run happened.
func (s *Scheduler) OptimizeIfDue(ctx context.Context) bool {
	if !s.opt.ShouldOptimize() {
		s.log.Debug().Msg("optimization not due")
		return false
	}
	s.OptimizeNow(ctx)
	return true
}

// OptimizeNow runs an optimization and persists its outcome.
func (s *Scheduler) OptimizeNow(ctx context.Context) map[string]learner.Recommendation {
	ctx, span := tracer.Start(ctx, "optimize_thresholds")
	defer span.End()

	recs := s.opt.OptimizeThresholds()
	span.SetAttributes(attribute.Int("parameters_optimized", len(recs)))
	s.Snapshot()
	if s.cfg.Publisher != nil && len(recs) > 0 {
		if err := s.cfg.Publisher.Publish(ctx, s.opt.ExportThresholds()); err != nil {
			span.RecordError(err)
			s.log.Error().Err(err).Msg("publish thresholds failed")
		}
	}
	return recs
}

// Snapshot writes the latest history entry, the recommendations and the
// samples inside the learning window to the store.
func (s *Scheduler) Snapshot() {
	if s.store == nil {
		return
	}
	hist := s.opt.History()
	if len(hist) > 0 {
		if err := s.store.PutHistory(hist[len(hist)-1]); err != nil {
			s.log.Error().Err(err).Msg("persist history failed")
		}
	}
	if _, err := s.store.PruneHistory(s.opt.Config().MaxHistory); err != nil {
		s.log.Error().Err(err).Msg("prune history failed")
	}
	if err := s.store.PutRecommendations(s.opt.Recommendations()); err != nil {
		s.log.Error().Err(err).Msg("persist recommendations failed")
	}
	window := s.opt.Config().LearningWindow
	for _, p := range s.opt.Parameters() {
		pts := s.opt.Recent(p, window)
		samples := make([]learner.Sample, len(pts))
		for i, pt := range pts {
			samples[i] = learner.Sample{Value: pt.Value, Timestamp: pt.Timestamp}
		}
		if err := s.store.PutSamples(p, samples); err != nil {
			s.log.Error().Err(err).Str("parameter", p).Msg("persist samples failed")
		}
	}
}

// CheckAnomalies runs anomaly detection for every tracked parameter and
// returns the match count per parameter.
func (s *Scheduler) CheckAnomalies(ctx context.Context) map[string]int {
	_, span := tracer.Start(ctx, "detect_anomalies")
	defer span.End()

	out := map[string]int{}
	for _, p := range s.opt.Parameters() {
		out[p] = len(s.opt.DetectAnomalies(p, 0))
	}
	span.SetAttributes(attribute.Int("parameters", len(out)))
	return out
}
