// Package mapping provides a Runtime that reshapes records: renaming fields,
// dropping fields, and setting constant values.
package mapping

import (
	"context"

	"github.com/mitchellh/mapstructure"

	port "github.com/flowmill/flowmill/pkg/flow/core/application/port"
	registry "github.com/flowmill/flowmill/pkg/flow/core/registry"
	"github.com/flowmill/flowmill/pkg/flow/support/util/exception"
)

const moduleName = "mapping_runtime"

// Kind is the registry identifier of this runtime.
const Kind = "mapping"

// Config holds the configuration for the mapping runtime.
type Config struct {
	// Rename maps existing field names to new names. Applied first.
	Rename map[string]string `mapstructure:"rename"`
	// Drop lists field names removed from each record. Applied after Rename.
	Drop []string `mapstructure:"drop"`
	// Set assigns constant values, overwriting existing fields. Applied last.
	Set map[string]interface{} `mapstructure:"set"`
}

// Runtime reshapes records according to its Config.
type Runtime struct {
	config Config
	drop   map[string]struct{}
}

// New creates a mapping Runtime from decoded params.
func New(params map[string]interface{}) (*Runtime, error) {
	var config Config
	if err := mapstructure.Decode(params, &config); err != nil {
		return nil, exception.NewPermanentError(moduleName, "failed to decode mapping runtime params", err)
	}
	drop := make(map[string]struct{}, len(config.Drop))
	for _, field := range config.Drop {
		drop[field] = struct{}{}
	}
	return &Runtime{config: config, drop: drop}, nil
}

// Transform returns new records with renames, drops, and constants applied.
// Input records are not mutated.
func (r *Runtime) Transform(ctx context.Context, records []port.Record) ([]port.Record, error) {
	out := make([]port.Record, 0, len(records))
	for _, record := range records {
		mapped := make(port.Record, len(record))
		for field, value := range record {
			if renamed, ok := r.config.Rename[field]; ok {
				field = renamed
			}
			if _, dropped := r.drop[field]; dropped {
				continue
			}
			mapped[field] = value
		}
		for field, value := range r.config.Set {
			mapped[field] = value
		}
		out = append(out, mapped)
	}
	return out, nil
}

var _ port.Runtime = (*Runtime)(nil)

func init() {
	registry.RegisterRuntime(Kind, func(ctx context.Context, params map[string]interface{}) (port.Runtime, error) {
		return New(params)
	})
}
