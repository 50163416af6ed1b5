package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viniciushammett/threshold-learner/internal/learner"
)

func write(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	assert.Equal(t, 100, c.Learner.MinDataPoints)
}

func TestLoadOverridesDefaults(t *testing.T) {
	p := write(t, `
server:
  addr: ":9090"
  corsOrigins: ["https://ops.example.com"]
learner:
  minDataPoints: 50
  optimizationInterval: 10m
  statsCacheInterval: 30s
schedule:
  optimize: "@every 1m"
sources:
  prometheus:
    url: http://prometheus:9090
    queries:
      - parameter: latency_ms
        query: histogram_quantile(0.99, rate(http_request_duration_seconds_bucket[5m]))
  spool:
    dir: data/spool
kubernetes:
  enabled: true
  namespace: sre
`)
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, ":9090", c.Server.Addr)
	assert.Equal(t, []string{"https://ops.example.com"}, c.Server.CORSOrigins)
	assert.Equal(t, 50, c.Learner.MinDataPoints)
	assert.Equal(t, 10*time.Minute, c.Learner.OptimizationInterval)
	assert.Equal(t, 30*time.Second, c.Learner.CacheInterval)
	assert.Equal(t, learner.DefaultMaxPoints, c.Learner.MaxPoints)
	assert.Equal(t, "@every 1m", c.Schedule.Optimize)
	assert.Equal(t, "@every 1m", c.Schedule.Anomalies)
	require.Len(t, c.Sources.Prometheus.Queries, 1)
	assert.Equal(t, 30*time.Second, c.Sources.Prometheus.Interval)
	assert.Equal(t, "data/spool", c.Sources.Spool.Dir)
	assert.True(t, c.Kubernetes.Enabled)
	assert.Equal(t, "sre", c.Kubernetes.Namespace)
	assert.Equal(t, "learned-thresholds", c.Kubernetes.ConfigMap)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"negative interval", "learner:\n  optimizationInterval: -1s\n"},
		{"zero sensitivity", "learner:\n  sensitivity: 0\n"},
		{"query without url", "sources:\n  prometheus:\n    queries:\n      - parameter: cpu\n        query: up\n"},
		{"bad yaml", "server: [\n"},
		{"kubernetes without configmap", "kubernetes:\n  enabled: true\n  configMap: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(write(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLearnerErrorsAreWrapped(t *testing.T) {
	_, err := Load(write(t, "learner:\n  maxHistory: 0\n"))
	assert.ErrorIs(t, err, learner.ErrInvalidConfig)
}
