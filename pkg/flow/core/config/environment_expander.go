// Package config provides core configuration structures and utilities for the engine.
// This file defines an interface and implementation for expanding environment variables within configuration data.
package config

import (
	"os"
)

// EnvironmentExpander provides functionality to expand environment variable placeholders
// within an input byte slice.
type EnvironmentExpander interface {
	// Expand takes a byte slice as input, expands any environment variable placeholders
	// (e.g., ${VAR} or $VAR) within it, and returns the expanded byte slice.
	Expand(input []byte) ([]byte, error)
}

// OsEnvironmentExpander is an implementation of the EnvironmentExpander interface
// that uses Go's standard library `os.ExpandEnv` function to expand environment variables.
type OsEnvironmentExpander struct{}

// NewOsEnvironmentExpander creates and returns a new instance of OsEnvironmentExpander.
func NewOsEnvironmentExpander() *OsEnvironmentExpander {
	return &OsEnvironmentExpander{}
}

// Expand uses `os.ExpandEnv` to expand environment variables within the input byte slice.
// If a referenced variable is not set, it is replaced by an empty string.
func (e *OsEnvironmentExpander) Expand(input []byte) ([]byte, error) {
	expandedString := os.ExpandEnv(string(input))
	return []byte(expandedString), nil
}
