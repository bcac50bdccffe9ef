package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/flowmill/flowmill/pkg/flow/support/util/exception"
	"github.com/flowmill/flowmill/pkg/flow/support/util/logger"

	"go.uber.org/fx"
)

// Package config provides utilities for loading and managing engine configuration
// from various sources, including YAML files and environment variables.

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig // EmbeddedConfig contains the raw bytes of the configuration file.
	EnvFilePath    string         `name:"envFilePath" optional:"true"` // EnvFilePath is the path to the .env file, if any.
}

// loadConfig loads configuration from a file and environment variables.
// This function is intended to be called only once during application startup.
func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	// 1. Load defaults from NewConfig()
	cfg := NewConfig()

	// 2. Expand ${VAR} placeholders, then load the embedded YAML into a temporary Config struct.
	expanded, err := NewOsEnvironmentExpander().Expand(embeddedConfig)
	if err != nil {
		return nil, exception.NewPermanentError(moduleName, "failed to expand environment variables in embedded config", err)
	}
	var yamlConfig Config
	if err := yaml.Unmarshal(expanded, &yamlConfig); err != nil {
		return nil, exception.NewPermanentError(moduleName, "failed to unmarshal embedded config", err)
	}

	// 3. Merge YAML configuration into the default configuration.
	mergeConfig(cfg, &yamlConfig)

	// 4. Override with environment variables
	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewPermanentError(moduleName, "failed to load config from environment variables", err)
	}
	return cfg, nil
}

// NewConfigProvider is an Fx provider that loads and provides *Config.
// It initializes the engine configuration by loading defaults, merging from
// embedded YAML, and overriding with environment variables. It also sets the
// global logger level.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig)
	if err != nil {
		return nil, err
	}

	// Set log level
	logger.SetLogLevel(cfg.Flowmill.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Flowmill.System.Logging.Level)

	reportUnregisteredErrorClasses(cfg)

	return cfg, nil
}

// LoadConfig loads configuration from configuration files and environment variables.
// This function is expected to be called only once during application startup.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig)
}

// reportUnregisteredErrorClasses logs the configured error class names that are not
// registered sentinels. Unregistered names are still valid: classification falls
// back to message-substring and type-name matching for them.
func reportUnregisteredErrorClasses(cfg *Config) {
	check := func(names []string, listName string) {
		for _, name := range names {
			if !exception.IsErrorTypeRegistered(name) {
				logger.Debugf("%s class '%s' is not a registered sentinel. It will be matched by message substring or type name.", listName, name)
			}
		}
	}
	check(cfg.Flowmill.Engine.Retry.TransientErrors, "TransientErrors")
	check(cfg.Flowmill.Engine.Retry.PermanentErrors, "PermanentErrors")
}

// mergeConfig performs a deep merge from sourceConfig into destConfig.
// Values in sourceConfig will overwrite corresponding values in destConfig
// if they are not zero/empty values for their type.
func mergeConfig(destConfig, sourceConfig *Config) {
	mergeFlowmillConfig(&destConfig.Flowmill, &sourceConfig.Flowmill)
}

// mergeFlowmillConfig merges source into dest.
func mergeFlowmillConfig(dest, source *FlowmillConfig) {
	// Merge EngineConfig
	if source.Engine.PollIntervalSeconds != 0 {
		dest.Engine.PollIntervalSeconds = source.Engine.PollIntervalSeconds
	}
	if source.Engine.ClaimBatchSize != 0 {
		dest.Engine.ClaimBatchSize = source.Engine.ClaimBatchSize
	}
	if source.Engine.DefaultBatchSize != 0 {
		dest.Engine.DefaultBatchSize = source.Engine.DefaultBatchSize
	}
	if source.Engine.MaxResumptions != 0 {
		dest.Engine.MaxResumptions = source.Engine.MaxResumptions
	}
	if source.Engine.WorkerID != "" {
		dest.Engine.WorkerID = source.Engine.WorkerID
	}
	if source.Engine.ClaimLeaseSeconds != 0 {
		dest.Engine.ClaimLeaseSeconds = source.Engine.ClaimLeaseSeconds
	}
	if source.Engine.ErrorRecordTTLHours != 0 {
		dest.Engine.ErrorRecordTTLHours = source.Engine.ErrorRecordTTLHours
	}
	mergeRetryConfig(&dest.Engine.Retry, &source.Engine.Retry)

	// Merge SystemConfig
	mergeSystemConfig(&dest.System, &source.System)

	// Merge InfrastructureConfig
	if source.Infrastructure.RunRepositoryDBRef != "" {
		dest.Infrastructure.RunRepositoryDBRef = source.Infrastructure.RunRepositoryDBRef
	}

	// Merge SecurityConfig
	if source.Security.MaskedParameterKeys != nil {
		dest.Security.MaskedParameterKeys = source.Security.MaskedParameterKeys
	}

	// Merge AdaptorConfigs (this is the critical part for database configs)
	if source.AdaptorConfigs != nil {
		if dest.AdaptorConfigs == nil {
			dest.AdaptorConfigs = make(map[string]interface{})
		}
		for key, value := range source.AdaptorConfigs {
			dest.AdaptorConfigs[key] = value
		}
	}
}

// mergeRetryConfig merges source into dest.
func mergeRetryConfig(dest, source *RetryConfig) {
	if source.MaxAttempts != 0 {
		dest.MaxAttempts = source.MaxAttempts
	}
	if source.TransientErrors != nil {
		dest.TransientErrors = source.TransientErrors
	}
	if source.PermanentErrors != nil {
		dest.PermanentErrors = source.PermanentErrors
	}
	if source.JitterFraction != 0 {
		dest.JitterFraction = source.JitterFraction
	}
}

// mergeSystemConfig merges source into dest.
func mergeSystemConfig(dest, source *SystemConfig) {
	if source.Timezone != "" {
		dest.Timezone = source.Timezone
	}
	if source.Logging.Level != "" {
		dest.Logging.Level = source.Logging.Level
	}
}

// loadStructFromEnv recursively loads configuration values into a struct from environment variables.
// It uses the "yaml" tag to determine the environment variable name
// (e.g., flowmill.engine.poll_interval_seconds -> FLOWMILL_ENGINE_POLL_INTERVAL_SECONDS).
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}

		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// setField sets the value of a reflect.Value field based on its kind.
// It handles string, int, float, bool, and []string (comma-separated) types.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}
