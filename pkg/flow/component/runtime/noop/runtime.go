// Package noop provides a pass-through Runtime.
package noop

import (
	"context"

	port "github.com/flowmill/flowmill/pkg/flow/core/application/port"
	registry "github.com/flowmill/flowmill/pkg/flow/core/registry"
)

// Kind is the registry identifier of this runtime.
const Kind = "noop"

// Runtime returns records unchanged.
type Runtime struct{}

// New creates a noop Runtime. Params are ignored.
func New(params map[string]interface{}) *Runtime {
	return &Runtime{}
}

// Transform returns the input records as-is.
func (r *Runtime) Transform(ctx context.Context, records []port.Record) ([]port.Record, error) {
	return records, nil
}

var _ port.Runtime = (*Runtime)(nil)

func init() {
	registry.RegisterRuntime(Kind, func(ctx context.Context, params map[string]interface{}) (port.Runtime, error) {
		return New(params), nil
	})
}
