package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowmill/flowmill/pkg/flow/core/config"
)

func TestLoadConfig_DefaultsApply(t *testing.T) {
	cfg, err := config.LoadConfig("", []byte(""))
	assert.NoError(t, err)

	assert.Equal(t, 5, cfg.Flowmill.Engine.PollIntervalSeconds)
	assert.Equal(t, 20, cfg.Flowmill.Engine.ClaimBatchSize)
	assert.Equal(t, 100, cfg.Flowmill.Engine.DefaultBatchSize)
	assert.Equal(t, 300, cfg.Flowmill.Engine.ClaimLeaseSeconds)
	assert.Equal(t, 72, cfg.Flowmill.Engine.ErrorRecordTTLHours)
	assert.Equal(t, 3, cfg.Flowmill.Engine.Retry.MaxAttempts)
	assert.Equal(t, 0.15, cfg.Flowmill.Engine.Retry.JitterFraction)
	assert.Equal(t, "INFO", cfg.Flowmill.System.Logging.Level)
	assert.Equal(t, "metadata", cfg.Flowmill.Infrastructure.RunRepositoryDBRef)
}

func TestLoadConfig_YAMLOverridesDefaults(t *testing.T) {
	yamlConfig := []byte(`
flowmill:
  engine:
    poll_interval_seconds: 10
    retry:
      max_attempts: 7
  system:
    logging:
      level: "DEBUG"
  database:
    metadata:
      type: "sqlite"
      database: ":memory:"
`)
	cfg, err := config.LoadConfig("", yamlConfig)
	assert.NoError(t, err)

	assert.Equal(t, 10, cfg.Flowmill.Engine.PollIntervalSeconds)
	assert.Equal(t, 7, cfg.Flowmill.Engine.Retry.MaxAttempts)
	assert.Equal(t, "DEBUG", cfg.Flowmill.System.Logging.Level)
	// Unset YAML fields keep their defaults.
	assert.Equal(t, 20, cfg.Flowmill.Engine.ClaimBatchSize)
	assert.Equal(t, 0.15, cfg.Flowmill.Engine.Retry.JitterFraction)
	// Adaptor configs pass through as raw maps.
	assert.Contains(t, cfg.Flowmill.AdaptorConfigs, "metadata")
}

func TestLoadConfig_EnvOverridesYAML(t *testing.T) {
	t.Setenv("FLOWMILL_ENGINE_POLL_INTERVAL_SECONDS", "30")
	t.Setenv("FLOWMILL_ENGINE_WORKER_ID", "worker-env")
	t.Setenv("FLOWMILL_ENGINE_RETRY_TRANSIENT_ERRORS", "connection refused, throttled")

	yamlConfig := []byte(`
flowmill:
  engine:
    poll_interval_seconds: 10
`)
	cfg, err := config.LoadConfig("", yamlConfig)
	assert.NoError(t, err)

	assert.Equal(t, 30, cfg.Flowmill.Engine.PollIntervalSeconds)
	assert.Equal(t, "worker-env", cfg.Flowmill.Engine.WorkerID)
	// Comma-separated lists are split and trimmed.
	assert.Equal(t, []string{"connection refused", "throttled"}, cfg.Flowmill.Engine.Retry.TransientErrors)
}

func TestLoadConfig_ExpandsPlaceholders(t *testing.T) {
	t.Setenv("TEST_LOG_LEVEL", "WARN")

	yamlConfig := []byte(`
flowmill:
  system:
    logging:
      level: "${TEST_LOG_LEVEL}"
`)
	cfg, err := config.LoadConfig("", yamlConfig)
	assert.NoError(t, err)
	assert.Equal(t, "WARN", cfg.Flowmill.System.Logging.Level)
}

func TestLoadConfig_UnsetPlaceholderFallsBackToDefault(t *testing.T) {
	yamlConfig := []byte(`
flowmill:
  system:
    logging:
      level: "${FLOWMILL_TEST_UNSET_VAR}"
`)
	cfg, err := config.LoadConfig("", yamlConfig)
	assert.NoError(t, err)
	// The placeholder expands to empty, which the merge treats as unset.
	assert.Equal(t, "INFO", cfg.Flowmill.System.Logging.Level)
}

func TestLoadConfig_MalformedYAMLFails(t *testing.T) {
	_, err := config.LoadConfig("", []byte("flowmill: ["))
	assert.Error(t, err)
}
