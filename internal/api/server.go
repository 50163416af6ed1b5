package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/viniciushammett/threshold-learner/internal/learner"
	"github.com/viniciushammett/threshold-learner/internal/logger"
	"github.com/viniciushammett/threshold-learner/internal/metrics"
	"github.com/viniciushammett/threshold-learner/internal/tracing"
)

var tracer = tracing.Tracer("api")

const maxBody = 8 << 20

type Deps struct {
	Log       *logger.Logger
	Optimizer *learner.Optimizer
	// Optimize runs and persists an optimization; defaults to Optimizer.OptimizeThresholds.
	Optimize func(ctx context.Context) map[string]learner.Recommendation
}

type Config struct {
	Addr            string
	AuthToken       string
	AuthTokenBcrypt string
	JWTSecretB64    string
	CORSOrigins     []string
}

type Server struct {
	d    Deps
	c    Config
	auth *authenticator
}

func NewServer(d Deps, c Config) (*Server, error) {
	a, err := newAuthenticator(c)
	if err != nil {
		return nil, err
	}
	if d.Optimize == nil {
		d.Optimize = func(context.Context) map[string]learner.Recommendation { return d.Optimizer.OptimizeThresholds() }
	}
	return &Server{d: d, c: c, auth: a}, nil
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	if len(s.c.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.c.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { metrics.Handler().ServeHTTP(w, r) })

	r.Route("/v1", func(r chi.Router) {
		r.Post("/metrics", s.protect(s.handleIngest))
		r.Post("/import", s.protect(s.handleImport))
		r.Post("/optimize", s.protect(s.handleOptimize))
		r.Get("/should-optimize", s.handleShouldOptimize)
		r.Get("/statistics/{parameter}", s.handleStatistics)
		r.Get("/recommendations", s.handleRecommendations)
		r.Get("/recommendations/{parameter}", s.handleRecommendation)
		r.Get("/thresholds", s.handleThresholds)
		r.Get("/anomalies/{parameter}", s.handleAnomalies)
		r.Get("/learning-stats", s.handleLearningStats)
		r.Get("/history", s.handleHistory)
	})
	return s.d.Log.HTTPLogger(r)
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.c.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
	s.d.Log.Info().Str("addr", s.c.Addr).Msg("http server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) protect(next http.HandlerFunc) http.HandlerFunc {
	if !s.auth.enabled() {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		who, err := s.auth.verify(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		s.d.Log.Debug().Str("subject", who).Str("path", r.URL.Path).Msg("write authorized")
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

type metricPayload struct {
	Parameter string            `json:"parameter"`
	Value     *float64          `json:"value"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// handleIngest accepts one metric object or an array of them.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "POST /v1/metrics")
	defer span.End()

	var raw json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	var batch []metricPayload
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(raw, &batch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
	} else {
		var one metricPayload
		if err := json.Unmarshal(raw, &one); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		batch = []metricPayload{one}
	}
	for i, p := range batch {
		if p.Parameter == "" || p.Value == nil {
			writeError(w, http.StatusBadRequest, "item "+strconv.Itoa(i)+": parameter and value are required")
			return
		}
	}
	accepted := 0
	for _, p := range batch {
		var ts time.Time
		if p.Timestamp != nil {
			ts = *p.Timestamp
		}
		if err := s.d.Optimizer.AddMetric(p.Parameter, *p.Value, ts, p.Labels); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		accepted++
	}
	span.SetAttributes(attribute.Int("accepted", accepted))
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": accepted})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "POST /v1/import")
	defer span.End()

	var data map[string][]learner.Sample
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&data); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	n, err := s.d.Optimizer.ImportMetrics(data)
	span.SetAttributes(attribute.Int("accepted", n), attribute.Int("parameters", len(data)))
	resp := map[string]any{"accepted": n}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "POST /v1/optimize")
	defer span.End()

	recs := s.d.Optimize(ctx)
	span.SetAttributes(attribute.Int("parameters_optimized", len(recs)))
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleShouldOptimize(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"should_optimize": s.d.Optimizer.ShouldOptimize()})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	p := chi.URLParam(r, "parameter")
	st, ok := s.d.Optimizer.Statistics(p)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown parameter "+p)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRecommendations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.d.Optimizer.Recommendations())
}

func (s *Server) handleRecommendation(w http.ResponseWriter, r *http.Request) {
	p := chi.URLParam(r, "parameter")
	rec, ok := s.d.Optimizer.Recommendation(p)
	if !ok {
		writeError(w, http.StatusNotFound, "no recommendation for "+p)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleThresholds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.d.Optimizer.ExportThresholds())
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "GET /v1/anomalies")
	defer span.End()

	p := chi.URLParam(r, "parameter")
	var sensitivity float64
	if v := r.URL.Query().Get("sensitivity"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || !(f > 0) {
			writeError(w, http.StatusBadRequest, "sensitivity must be a positive number")
			return
		}
		sensitivity = f
	}
	if _, ok := s.d.Optimizer.Statistics(p); !ok {
		writeError(w, http.StatusNotFound, "unknown parameter "+p)
		return
	}
	pts := s.d.Optimizer.DetectAnomalies(p, sensitivity)
	if pts == nil {
		pts = []learner.Point{}
	}
	span.SetAttributes(attribute.String("parameter", p), attribute.Int("anomalies", len(pts)))
	writeJSON(w, http.StatusOK, pts)
}

func (s *Server) handleLearningStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.d.Optimizer.LearningStats())
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	h := s.d.Optimizer.History()
	if h == nil {
		h = []learner.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, h)
}
