// Package config provides configuration loading for traind.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables, then validated once at load time. A pipeline run never starts
// with a configuration that failed validation.
package config

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fyrsmithlabs/traind/internal/logging"
)

// ErrInvalidConfig marks configuration errors. The pipeline treats any error
// wrapping this sentinel as fatal before the first stage runs.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete traind configuration.
type Config struct {
	Server    Server         `koanf:"server"`
	Logging   logging.Config `koanf:"logging"`
	Artifacts Artifacts      `koanf:"artifacts"`
	Pipeline  Pipeline       `koanf:"pipeline"`
}

// Server holds HTTP server configuration.
type Server struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Artifacts holds artifact store configuration.
type Artifacts struct {
	// Root is the base directory for the artifact store and the model
	// registry backed by it.
	Root string `koanf:"root"`
}

// Pipeline holds the per-invocation pipeline configuration. It is treated as
// immutable once a run starts: the orchestrator copies it by value.
type Pipeline struct {
	// Source locates the raw dataset. Plain paths and file:// URLs are
	// read as CSV.
	Source string `koanf:"source"`

	// SchemaPath names the YAML schema declaration resource.
	SchemaPath string `koanf:"schema_path"`

	// Target is the label column. It must be declared in the schema and
	// is excluded from the feature layout.
	Target string `koanf:"target"`

	// HoldoutRatio is the fraction of rows reserved for evaluation.
	HoldoutRatio float64 `koanf:"holdout_ratio"`

	// Seed drives the holdout split and weight initialization so a run
	// is reproducible from its configuration.
	Seed int64 `koanf:"seed"`

	// Scale standardizes numeric features to zero mean, unit variance.
	Scale bool `koanf:"scale"`

	// TrainerKind selects the model variant: logistic or linear.
	TrainerKind string `koanf:"trainer_kind"`

	LearningRate float64 `koanf:"learning_rate"`
	Epochs       int     `koanf:"epochs"`
	BatchSize    int     `koanf:"batch_size"`
	L2           float64 `koanf:"l2"`

	// Metric names the evaluation metric: accuracy, f1, rmse, or r2.
	Metric string `koanf:"metric"`

	// Threshold is the minimum candidate-minus-baseline improvement
	// required for promotion.
	Threshold float64 `koanf:"threshold"`
}

// Validate validates the configuration. Every violation wraps
// ErrInvalidConfig so callers can classify the failure.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return fmt.Errorf("%w: server host is required", ErrInvalidConfig)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server port %d (must be 1-65535)", ErrInvalidConfig, c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: shutdown timeout must be positive", ErrInvalidConfig)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Artifacts.Root == "" {
		return fmt.Errorf("%w: artifacts root is required", ErrInvalidConfig)
	}
	return c.Pipeline.Validate()
}

// Validate validates the pipeline section.
func (p *Pipeline) Validate() error {
	if p.Source == "" {
		return fmt.Errorf("%w: pipeline source is required", ErrInvalidConfig)
	}
	if p.SchemaPath == "" {
		return fmt.Errorf("%w: pipeline schema_path is required", ErrInvalidConfig)
	}
	if p.Target == "" {
		return fmt.Errorf("%w: pipeline target column is required", ErrInvalidConfig)
	}
	if p.HoldoutRatio <= 0 || p.HoldoutRatio >= 1 {
		return fmt.Errorf("%w: holdout_ratio %v (must be in (0, 1))", ErrInvalidConfig, p.HoldoutRatio)
	}
	switch p.TrainerKind {
	case "logistic", "linear":
	default:
		return fmt.Errorf("%w: unknown trainer_kind %q", ErrInvalidConfig, p.TrainerKind)
	}
	switch p.Metric {
	case "accuracy", "f1", "rmse", "r2":
	default:
		return fmt.Errorf("%w: unknown metric %q", ErrInvalidConfig, p.Metric)
	}
	if p.LearningRate <= 0 {
		return fmt.Errorf("%w: learning_rate must be positive", ErrInvalidConfig)
	}
	if p.Epochs <= 0 {
		return fmt.Errorf("%w: epochs must be positive", ErrInvalidConfig)
	}
	if p.BatchSize <= 0 {
		return fmt.Errorf("%w: batch_size must be positive", ErrInvalidConfig)
	}
	if p.L2 < 0 {
		return fmt.Errorf("%w: l2 must be non-negative", ErrInvalidConfig)
	}
	if math.IsNaN(p.Threshold) || math.IsInf(p.Threshold, 0) {
		return fmt.Errorf("%w: threshold must be finite", ErrInvalidConfig)
	}
	return nil
}
