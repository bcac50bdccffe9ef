// Package config provides core configuration structures and utilities for the engine.
// This module defines Fx providers for configuration-related components.
package config

import "go.uber.org/fx"

// NewLoggingConfigProvider extracts and provides *LoggingConfig from *Config.
// This allows other Fx components to depend only on the logging configuration.
func NewLoggingConfigProvider(cfg *Config) *LoggingConfig {
	return &cfg.Flowmill.System.Logging
}

// NewEngineConfigProvider extracts and provides *EngineConfig from *Config.
func NewEngineConfigProvider(cfg *Config) *EngineConfig {
	return &cfg.Flowmill.Engine
}

// NewSecurityConfigProvider extracts and provides *SecurityConfig from *Config.
// Components that mask sensitive parameters take it as an explicit dependency.
func NewSecurityConfigProvider(cfg *Config) *SecurityConfig {
	return &cfg.Flowmill.Security
}

// Module provides configuration-related components to Fx.
var Module = fx.Options(
	fx.Provide(NewConfigProvider),
	fx.Provide(NewLoggingConfigProvider),
	fx.Provide(NewEngineConfigProvider),
	fx.Provide(NewSecurityConfigProvider),
	fx.Provide(func() EnvironmentExpander {
		return NewOsEnvironmentExpander()
	}),
)
