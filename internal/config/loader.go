package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/traind/internal/logging"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// knownKeys is the full set of recognized configuration keys. File keys
// outside this set are rejected at load time rather than deferred to stage
// execution.
var knownKeys = map[string]struct{}{
	"server.host":             {},
	"server.http_port":        {},
	"server.shutdown_timeout": {},
	"logging.level":           {},
	"logging.format":          {},
	"artifacts.root":          {},
	"pipeline.source":         {},
	"pipeline.schema_path":    {},
	"pipeline.target":         {},
	"pipeline.holdout_ratio":  {},
	"pipeline.seed":           {},
	"pipeline.scale":          {},
	"pipeline.trainer_kind":   {},
	"pipeline.learning_rate":  {},
	"pipeline.epochs":         {},
	"pipeline.batch_size":     {},
	"pipeline.l2":             {},
	"pipeline.metric":         {},
	"pipeline.threshold":      {},
}

// Load loads configuration from a YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (SERVER_HTTP_PORT, PIPELINE_LEARNING_RATE, ...)
//  2. YAML config file
//  3. Defaults
//
// If configPath is empty, only environment variables and defaults apply.
// Environment variables map to config keys by lowercasing and splitting on
// the first underscore: PIPELINE_TRAINER_KIND -> pipeline.trainer_kind.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}

		kFile := koanf.New(".")
		if err := kFile.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrInvalidConfig, configPath, err)
		}
		for _, key := range kFile.Keys() {
			if _, ok := knownKeys[key]; !ok {
				return nil, fmt.Errorf("%w: unknown field %q in %s", ErrInvalidConfig, key, configPath)
			}
		}
		if err := k.Merge(kFile); err != nil {
			return nil, fmt.Errorf("%w: failed to merge config file: %v", ErrInvalidConfig, err)
		}
	}

	// Environment overrides. Only variables whose mapped key is recognized
	// are merged; everything else in the environment is ignored.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		lower := strings.ToLower(s)
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) != 2 {
			return ""
		}
		key := parts[0] + "." + parts[1]
		if _, ok := knownKeys[key]; !ok {
			return ""
		}
		return key
	}), nil); err != nil {
		return nil, fmt.Errorf("%w: failed to load environment: %v", ErrInvalidConfig, err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal config: %v", ErrInvalidConfig, err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// readConfigFile reads and size-checks the config file.
func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: config file %s: %v", ErrInvalidConfig, path, err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("%w: config file too large: %d bytes (max %d)", ErrInvalidConfig, info.Size(), maxConfigFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrInvalidConfig, err)
	}
	return content, nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = logging.DefaultConfig().Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = logging.DefaultConfig().Format
	}
	if cfg.Artifacts.Root == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Artifacts.Root = home + "/.local/share/traind"
		}
	}
	if cfg.Pipeline.HoldoutRatio == 0 {
		cfg.Pipeline.HoldoutRatio = 0.2
	}
	if cfg.Pipeline.Seed == 0 {
		cfg.Pipeline.Seed = 1
	}
	if cfg.Pipeline.TrainerKind == "" {
		cfg.Pipeline.TrainerKind = "logistic"
	}
	if cfg.Pipeline.LearningRate == 0 {
		cfg.Pipeline.LearningRate = 0.1
	}
	if cfg.Pipeline.Epochs == 0 {
		cfg.Pipeline.Epochs = 50
	}
	if cfg.Pipeline.BatchSize == 0 {
		cfg.Pipeline.BatchSize = 32
	}
	if cfg.Pipeline.Metric == "" {
		cfg.Pipeline.Metric = "accuracy"
	}
}
