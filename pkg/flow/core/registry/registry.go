// Package registry maps component kind identifiers to factory functions.
// Flow definitions reference sources, sinks, and runtimes by an explicit kind
// string; reconstruction looks the kind up here instead of deriving type names
// from data. Unknown kinds fail permanently: retrying cannot make an
// unregistered kind appear.
package registry

import (
	"context"
	"fmt"
	"sync"

	port "github.com/flowmill/flowmill/pkg/flow/core/application/port"
	"github.com/flowmill/flowmill/pkg/flow/support/util/exception"
)

const moduleName = "registry"

// SourceFactory creates a Source from the params of a ComponentConfig.
type SourceFactory func(ctx context.Context, params map[string]interface{}) (port.Source, error)

// SinkFactory creates a Sink from the params of a ComponentConfig.
type SinkFactory func(ctx context.Context, params map[string]interface{}) (port.Sink, error)

// RuntimeFactory creates a Runtime from the params of a ComponentConfig.
type RuntimeFactory func(ctx context.Context, params map[string]interface{}) (port.Runtime, error)

var (
	registryMutex sync.RWMutex

	sourceFactories  = make(map[string]SourceFactory)
	sinkFactories    = make(map[string]SinkFactory)
	runtimeFactories = make(map[string]RuntimeFactory)
)

// RegisterSource registers a Source factory under the given kind.
// Registering the same kind twice panics: duplicate registrations are a
// programming error, not a runtime condition.
func RegisterSource(kind string, factory SourceFactory) {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	if kind == "" {
		panic("source kind cannot be empty")
	}
	if factory == nil {
		panic(fmt.Sprintf("cannot register nil source factory for kind: %s", kind))
	}
	if _, exists := sourceFactories[kind]; exists {
		panic(fmt.Sprintf("source kind already registered: %s", kind))
	}
	sourceFactories[kind] = factory
}

// RegisterSink registers a Sink factory under the given kind.
func RegisterSink(kind string, factory SinkFactory) {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	if kind == "" {
		panic("sink kind cannot be empty")
	}
	if factory == nil {
		panic(fmt.Sprintf("cannot register nil sink factory for kind: %s", kind))
	}
	if _, exists := sinkFactories[kind]; exists {
		panic(fmt.Sprintf("sink kind already registered: %s", kind))
	}
	sinkFactories[kind] = factory
}

// RegisterRuntime registers a Runtime factory under the given kind.
func RegisterRuntime(kind string, factory RuntimeFactory) {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	if kind == "" {
		panic("runtime kind cannot be empty")
	}
	if factory == nil {
		panic(fmt.Sprintf("cannot register nil runtime factory for kind: %s", kind))
	}
	if _, exists := runtimeFactories[kind]; exists {
		panic(fmt.Sprintf("runtime kind already registered: %s", kind))
	}
	runtimeFactories[kind] = factory
}

// NewSource builds a Source for the given kind and params.
// Returns a permanent error if the kind is not registered.
func NewSource(ctx context.Context, kind string, params map[string]interface{}) (port.Source, error) {
	registryMutex.RLock()
	factory, ok := sourceFactories[kind]
	registryMutex.RUnlock()
	if !ok {
		return nil, newUnknownKindError("source", kind)
	}
	return factory(ctx, params)
}

// NewSink builds a Sink for the given kind and params.
// Returns a permanent error if the kind is not registered.
func NewSink(ctx context.Context, kind string, params map[string]interface{}) (port.Sink, error) {
	registryMutex.RLock()
	factory, ok := sinkFactories[kind]
	registryMutex.RUnlock()
	if !ok {
		return nil, newUnknownKindError("sink", kind)
	}
	return factory(ctx, params)
}

// NewRuntime builds a Runtime for the given kind and params.
// Returns a permanent error if the kind is not registered.
func NewRuntime(ctx context.Context, kind string, params map[string]interface{}) (port.Runtime, error) {
	registryMutex.RLock()
	factory, ok := runtimeFactories[kind]
	registryMutex.RUnlock()
	if !ok {
		return nil, newUnknownKindError("runtime", kind)
	}
	return factory(ctx, params)
}

// RegisteredSourceKinds returns the registered source kinds.
func RegisteredSourceKinds() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	kinds := make([]string, 0, len(sourceFactories))
	for kind := range sourceFactories {
		kinds = append(kinds, kind)
	}
	return kinds
}

// UnknownKindException is a constant naming the unknown-kind error class.
const UnknownKindException = "UnknownKindException"

func newUnknownKindError(role, kind string) error {
	return exception.NewPermanentError(moduleName,
		fmt.Sprintf("%s: unknown %s kind '%s'", UnknownKindException, role, kind), nil)
}
