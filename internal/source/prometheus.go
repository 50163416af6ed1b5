package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/viniciushammett/threshold-learner/internal/logger"
)

// ErrNoData is returned when a query matches no series.
var ErrNoData = errors.New("source: query returned no data")

type Prometheus struct {
	base string
	cl   *http.Client
}

func NewPrometheus(base string, timeout time.Duration) *Prometheus {
	if base == "" {
		base = "http://prometheus:9090"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prometheus{base: base, cl: &http.Client{Timeout: timeout}}
}

type queryResponse struct {
	Status    string `json:"status"`
	ErrorType string `json:"errorType"`
	Error     string `json:"error"`
	Data      struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Metric map[string]string `json:"metric"`
			Value  [2]any            `json:"value"`
		} `json:"result"`
	} `json:"data"`
}

// Query evaluates an instant PromQL query and returns the first series'
// value and timestamp.
func (p *Prometheus) Query(ctx context.Context, query string) (float64, time.Time, error) {
	u, err := url.Parse(p.base + "/api/v1/query")
	if err != nil {
		return 0, time.Time{}, err
	}
	q := u.Query()
	q.Set("query", query)
	u.RawQuery = q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, time.Time{}, err
	}
	resp, err := p.cl.Do(req)
	if err != nil {
		return 0, time.Time{}, err
	}
	defer resp.Body.Close()

	var payload queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, time.Time{}, fmt.Errorf("decode prometheus response (HTTP %d): %w", resp.StatusCode, err)
	}
	if payload.Status != "success" {
		return 0, time.Time{}, fmt.Errorf("prometheus %s: %s", payload.ErrorType, payload.Error)
	}
	if len(payload.Data.Result) == 0 {
		return 0, time.Time{}, ErrNoData
	}
	// value -> [unix_ts, "valor"]
	pair := payload.Data.Result[0].Value
	secs, _ := pair[0].(float64)
	valStr, _ := pair[1].(string)
	v, err := strconv.ParseFloat(valStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse value %q: %w", valStr, err)
	}
	ts := time.Unix(0, int64(secs*float64(time.Second)))
	return v, ts, nil
}

type Target struct {
	Parameter string
	Query     string
}

// Sink receives polled samples, e.g. learner.Optimizer.AddMetric.
type Sink func(parameter string, value float64, ts time.Time, labels map[string]string) error

// Poll queries every target each interval until ctx is done.
func (p *Prometheus) Poll(ctx context.Context, log *logger.Logger, interval time.Duration, targets []Target, sink Sink) {
	t := time.NewTicker(interval)
	defer t.Stop()

	log.Info().Int("targets", len(targets)).Dur("interval", interval).Msg("prometheus poller started")
	p.pollAll(ctx, log, targets, sink)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("prometheus poller stopped")
			return
		case <-t.C:
			p.pollAll(ctx, log, targets, sink)
		}
	}
}

func (p *Prometheus) pollAll(ctx context.Context, log *logger.Logger, targets []Target, sink Sink) {
	for _, tg := range targets {
		v, ts, err := p.Query(ctx, tg.Query)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Str("parameter", tg.Parameter).Msg("prometheus query failed")
			}
			continue
		}
		if err := sink(tg.Parameter, v, ts, map[string]string{"source": "prometheus"}); err != nil {
			log.Warn().Err(err).Str("parameter", tg.Parameter).Float64("value", v).Msg("sample rejected")
		}
	}
}
