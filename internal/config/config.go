package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/viniciushammett/threshold-learner/internal/learner"
)

type Server struct {
	Addr            string   `yaml:"addr"`
	AuthToken       string   `yaml:"authToken"`       // opcional, protege rotas de escrita
	AuthTokenBcrypt string   `yaml:"authTokenBcrypt"` // hash bcrypt do token, alternativa ao texto puro
	JWTSecretB64    string   `yaml:"jwtSecretB64"`    // aceita JWT HS256 assinados com esta chave
	CORSOrigins     []string `yaml:"corsOrigins"`     // vazio = CORS desligado
}

type Storage struct {
	Path string `yaml:"path"` // e.g. data/threshold-learner.db
}

type Schedule struct {
	Optimize  string `yaml:"optimize"`  // cron, e.g. "@every 5m"
	Anomalies string `yaml:"anomalies"` // cron, e.g. "@every 1m"
}

type PromQuery struct {
	Parameter string `yaml:"parameter"`
	Query     string `yaml:"query"`
}

type Prometheus struct {
	URL      string        `yaml:"url"`
	Timeout  time.Duration `yaml:"timeout"`
	Interval time.Duration `yaml:"interval"`
	Queries  []PromQuery   `yaml:"queries"`
}

type Spool struct {
	Dir string `yaml:"dir"` // vazio = desligado
}

type Sources struct {
	Prometheus Prometheus `yaml:"prometheus"`
	Spool      Spool      `yaml:"spool"`
}

type Tracing struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	Environment  string  `yaml:"environment"` // e.g. prod, staging
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	SampleRatio  float64 `yaml:"sampleRatio"`
}

// Kubernetes publishes thresholds into a ConfigMap after each optimization.
type Kubernetes struct {
	Enabled    bool   `yaml:"enabled"`
	Kubeconfig string `yaml:"kubeconfig"` // vazio = in-cluster ou ~/.kube/config
	Context    string `yaml:"context"`
	Namespace  string `yaml:"namespace"`
	ConfigMap  string `yaml:"configMap"`
}

type Config struct {
	Server     Server         `yaml:"server"`
	Storage    Storage        `yaml:"storage"`
	Learner    learner.Config `yaml:"learner"`
	Schedule   Schedule       `yaml:"schedule"`
	Sources    Sources        `yaml:"sources"`
	Tracing    Tracing        `yaml:"tracing"`
	Kubernetes Kubernetes     `yaml:"kubernetes"`
}

func Default() *Config {
	return &Config{
		Server:   Server{Addr: ":8080"},
		Storage:  Storage{Path: "data/threshold-learner.db"},
		Learner:  learner.DefaultConfig(),
		Schedule: Schedule{Optimize: "@every 5m", Anomalies: "@every 1m"},
		Sources: Sources{Prometheus: Prometheus{
			Timeout:  5 * time.Second,
			Interval: 30 * time.Second,
		}},
		Tracing: Tracing{
			ServiceName:  "threshold-learner",
			OTLPEndpoint: "localhost:4317",
			SampleRatio:  1.0,
		},
		Kubernetes: Kubernetes{Namespace: "monitoring", ConfigMap: "learned-thresholds"},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if err := c.Learner.Validate(); err != nil {
		return fmt.Errorf("learner: %w", err)
	}
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Storage.Path == "" {
		return errors.New("storage.path is required")
	}
	p := c.Sources.Prometheus
	if len(p.Queries) > 0 {
		if p.URL == "" {
			return errors.New("sources.prometheus.url is required when queries are set")
		}
		if p.Interval <= 0 {
			return fmt.Errorf("sources.prometheus.interval must be positive, got %s", p.Interval)
		}
		for i, q := range p.Queries {
			if q.Parameter == "" || q.Query == "" {
				return fmt.Errorf("sources.prometheus.queries[%d]: parameter and query are required", i)
			}
		}
	}
	if c.Kubernetes.Enabled && (c.Kubernetes.Namespace == "" || c.Kubernetes.ConfigMap == "") {
		return errors.New("kubernetes.namespace and kubernetes.configMap are required when enabled")
	}
	if c.Tracing.Enabled && (c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1) {
		return fmt.Errorf("tracing.sampleRatio must be in [0,1], got %v", c.Tracing.SampleRatio)
	}
	return nil
}
