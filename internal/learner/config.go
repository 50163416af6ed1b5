package learner

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig wraps every configuration rejected by New.
var ErrInvalidConfig = errors.New("learner: invalid config")

type Config struct {
	MaxPoints            int           `yaml:"maxPoints"`
	CacheInterval        time.Duration `yaml:"statsCacheInterval"`
	MinDataPoints        int           `yaml:"minDataPoints"`
	OptimizationInterval time.Duration `yaml:"optimizationInterval"`
	MaxHistory           int           `yaml:"maxHistory"`
	Sensitivity          float64       `yaml:"sensitivity"`
	TrendWindow          time.Duration `yaml:"trendWindow"`
	LearningWindow       time.Duration `yaml:"learningWindow"`
}

// MinAnomalyPoints is the smallest population DetectAnomalies will judge.
const MinAnomalyPoints = 10

func DefaultConfig() Config {
	return Config{
		MaxPoints:            DefaultMaxPoints,
		CacheInterval:        DefaultCacheInterval,
		MinDataPoints:        100,
		OptimizationInterval: time.Hour,
		MaxHistory:           100,
		Sensitivity:          2.0,
		TrendWindow:          time.Hour,
		LearningWindow:       24 * time.Hour,
	}
}

// Validate reports the first non-positive setting.
func (c Config) Validate() error {
	switch {
	case c.MaxPoints <= 0:
		return fmt.Errorf("%w: maxPoints must be positive, got %d", ErrInvalidConfig, c.MaxPoints)
	case c.CacheInterval <= 0:
		return fmt.Errorf("%w: statsCacheInterval must be positive, got %s", ErrInvalidConfig, c.CacheInterval)
	case c.MinDataPoints <= 0:
		return fmt.Errorf("%w: minDataPoints must be positive, got %d", ErrInvalidConfig, c.MinDataPoints)
	case c.OptimizationInterval <= 0:
		return fmt.Errorf("%w: optimizationInterval must be positive, got %s", ErrInvalidConfig, c.OptimizationInterval)
	case c.MaxHistory <= 0:
		return fmt.Errorf("%w: maxHistory must be positive, got %d", ErrInvalidConfig, c.MaxHistory)
	case !(c.Sensitivity > 0) || !finite(c.Sensitivity):
		return fmt.Errorf("%w: sensitivity must be positive, got %v", ErrInvalidConfig, c.Sensitivity)
	case c.TrendWindow <= 0:
		return fmt.Errorf("%w: trendWindow must be positive, got %s", ErrInvalidConfig, c.TrendWindow)
	case c.LearningWindow <= 0:
		return fmt.Errorf("%w: learningWindow must be positive, got %s", ErrInvalidConfig, c.LearningWindow)
	}
	return nil
}
