package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/traind/internal/logging"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const validYAML = `
server:
  http_port: 8080
artifacts:
  root: /tmp/traind-test
pipeline:
  source: testdata/records.csv
  schema_path: testdata/schema.yaml
  target: outcome
  trainer_kind: logistic
  metric: accuracy
  threshold: 0.02
`

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, validYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "testdata/records.csv", cfg.Pipeline.Source)
	assert.Equal(t, "outcome", cfg.Pipeline.Target)
	assert.Equal(t, 0.02, cfg.Pipeline.Threshold)

	// Defaults fill the rest.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 0.2, cfg.Pipeline.HoldoutRatio)
	assert.Equal(t, 50, cfg.Pipeline.Epochs)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, validYAML)

	t.Setenv("SERVER_HOST", "127.0.0.1")
	t.Setenv("SERVER_HTTP_PORT", "9999")
	t.Setenv("PIPELINE_LEARNING_RATE", "0.05")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 0.05, cfg.Pipeline.LearningRate)
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	path := writeConfig(t, validYAML+`
extra:
  surprise: true
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "unknown field")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:    Server{Host: "0.0.0.0", Port: 9090, ShutdownTimeout: 10 * time.Second},
			Logging:   logging.Config{Level: "info", Format: "json"},
			Artifacts: Artifacts{Root: "/tmp/traind"},
			Pipeline: Pipeline{
				Source:       "data.csv",
				SchemaPath:   "schema.yaml",
				Target:       "y",
				HoldoutRatio: 0.2,
				Seed:         1,
				TrainerKind:  "logistic",
				LearningRate: 0.1,
				Epochs:       10,
				BatchSize:    16,
				Metric:       "accuracy",
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"missing host", func(c *Config) { c.Server.Host = "" }, true},
		{"missing source", func(c *Config) { c.Pipeline.Source = "" }, true},
		{"missing target", func(c *Config) { c.Pipeline.Target = "" }, true},
		{"holdout too high", func(c *Config) { c.Pipeline.HoldoutRatio = 1.0 }, true},
		{"unknown trainer", func(c *Config) { c.Pipeline.TrainerKind = "xgboost" }, true},
		{"unknown metric", func(c *Config) { c.Pipeline.Metric = "auc" }, true},
		{"negative lr", func(c *Config) { c.Pipeline.LearningRate = -0.1 }, true},
		{"zero epochs", func(c *Config) { c.Pipeline.Epochs = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
