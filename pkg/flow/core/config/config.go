package config

// Package config provides structures and utilities for managing engine configuration.

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
// This is used when loading configuration from an embedded source (e.g., a compiled binary).
type EmbeddedConfig []byte

// RetryConfig holds the engine-wide retry policy settings.
// Individual flows may override any field; zero-valued overrides inherit these values.
type RetryConfig struct {
	// MaxAttempts is the maximum number of run attempts, counting the first one.
	MaxAttempts int `yaml:"max_attempts"`
	// TransientErrors is a list of error names or message substrings classified as transient.
	TransientErrors []string `yaml:"transient_errors"`
	// PermanentErrors is a list of error names or message substrings classified as permanent.
	PermanentErrors []string `yaml:"permanent_errors"`
	// JitterFraction is the fraction of random jitter added to backoff delays (e.g., 0.15 for 15%).
	JitterFraction float64 `yaml:"jitter_fraction"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// MaskedParameterKeys is a list of keys in component params whose values should be masked in logs.
	MaskedParameterKeys []string `yaml:"masked_parameter_keys"`
}

// EngineConfig holds configuration specific to the run scheduling engine.
type EngineConfig struct {
	// PollIntervalSeconds is the scheduler polling period.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	// ClaimBatchSize is the maximum number of due runs fetched per scheduler pass.
	ClaimBatchSize int `yaml:"claim_batch_size"`
	// DefaultBatchSize is the batch size used by flows that do not set their own.
	DefaultBatchSize int `yaml:"default_batch_size"`
	// MaxResumptions is the number of times a crashed run may be resumed before
	// it is failed permanently as stuck.
	MaxResumptions int `yaml:"max_resumptions"`
	// WorkerID identifies this engine instance in claims. Empty generates one at startup.
	WorkerID string `yaml:"worker_id"`
	// ClaimLeaseSeconds is how long an in-progress claim stays valid without
	// progress before the stale-claim sweep returns the run to pending.
	ClaimLeaseSeconds int `yaml:"claim_lease_seconds"`
	// ErrorRecordTTLHours is the retention period for logged failure occurrences.
	ErrorRecordTTLHours int `yaml:"error_record_ttl_hours"`
	// Retry is the engine-wide retry policy.
	Retry RetryConfig `yaml:"retry"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC", "Asia/Tokyo").
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// InfrastructureConfig holds logical dependency settings for infrastructure components.
type InfrastructureConfig struct {
	// RunRepositoryDBRef is the name of the DBConnection used by the run repository (e.g., "metadata").
	RunRepositoryDBRef string `yaml:"run_repository_db_ref"`
}

// FlowmillConfig holds all configuration under the "flowmill" top-level key.
type FlowmillConfig struct {
	// Engine contains run scheduling and execution configurations.
	Engine EngineConfig `yaml:"engine"`
	// System contains system-wide configurations.
	System SystemConfig `yaml:"system"`
	// Infrastructure contains infrastructure-related configurations.
	Infrastructure InfrastructureConfig `yaml:"infrastructure"`
	// Security contains security-related configurations.
	Security SecurityConfig `yaml:"security"`
	// AdaptorConfigs holds configurations for database connections, keyed by logical name.
	AdaptorConfigs map[string]interface{} `yaml:"database"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	// Flowmill contains the top-level configuration for the engine.
	Flowmill FlowmillConfig `yaml:"flowmill"`
	// EmbeddedConfig holds configuration loaded from an embedded source, not from YAML.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	cfg := &Config{
		Flowmill: FlowmillConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Engine: EngineConfig{
				PollIntervalSeconds: 5,
				ClaimBatchSize:      20,
				DefaultBatchSize:    100,
				MaxResumptions:      5,
				ClaimLeaseSeconds:   300,
				ErrorRecordTTLHours: 72,
				Retry: RetryConfig{
					MaxAttempts:    3,
					JitterFraction: 0.15,
					TransientErrors: []string{
						"net.OpError",
						"context.DeadlineExceeded",
						"connection refused",
						"OptimisticLockingFailureException",
					},
					PermanentErrors: []string{
						"UnknownKindException",
						"json.UnmarshalTypeError",
					},
				},
			},
			Infrastructure: InfrastructureConfig{
				RunRepositoryDBRef: "metadata",
			},
			Security: SecurityConfig{
				MaskedParameterKeys: []string{"password", "api_key", "secret", "dsn"},
			},
		},
	}

	// Initialize AdaptorConfigs as an empty map, to be populated by YAML or by mergeConfig.
	cfg.Flowmill.AdaptorConfigs = map[string]interface{}{}
	return cfg
}
