// Package memory provides a collecting Sink that keeps written records in
// process memory under a named buffer. It exists for demos and tests.
package memory

import (
	"context"
	"sync"

	"github.com/mitchellh/mapstructure"

	port "github.com/flowmill/flowmill/pkg/flow/core/application/port"
	registry "github.com/flowmill/flowmill/pkg/flow/core/registry"
	"github.com/flowmill/flowmill/pkg/flow/support/util/exception"
)

const moduleName = "memory_sink"

// Kind is the registry identifier of this sink.
const Kind = "memory"

var (
	buffersMutex sync.Mutex
	buffers      = make(map[string][]port.Record)
)

// Config holds the configuration for the memory sink.
type Config struct {
	// Name identifies the shared buffer the sink appends to.
	Name string `mapstructure:"name"`
}

// Sink appends records to a named in-process buffer.
type Sink struct {
	name string
}

// New creates a memory Sink from decoded params.
func New(params map[string]interface{}) (*Sink, error) {
	var config Config
	if err := mapstructure.Decode(params, &config); err != nil {
		return nil, exception.NewPermanentError(moduleName, "failed to decode memory sink params", err)
	}
	if config.Name == "" {
		return nil, exception.NewPermanentError(moduleName, "memory sink requires a 'name' param", nil)
	}
	return &Sink{name: config.Name}, nil
}

// Write appends records to the buffer.
func (s *Sink) Write(ctx context.Context, records []port.Record) error {
	buffersMutex.Lock()
	defer buffersMutex.Unlock()
	buffers[s.name] = append(buffers[s.name], records...)
	return nil
}

// Flush does nothing; memory writes are immediately durable within the process.
func (s *Sink) Flush(ctx context.Context) error {
	return nil
}

// Close does nothing; the buffer outlives the sink for later inspection.
func (s *Sink) Close(ctx context.Context) error {
	return nil
}

var _ port.Sink = (*Sink)(nil)

// Collected returns a snapshot of the named buffer.
func Collected(name string) []port.Record {
	buffersMutex.Lock()
	defer buffersMutex.Unlock()
	snapshot := make([]port.Record, len(buffers[name]))
	copy(snapshot, buffers[name])
	return snapshot
}

// Reset discards the named buffer.
func Reset(name string) {
	buffersMutex.Lock()
	defer buffersMutex.Unlock()
	delete(buffers, name)
}

func init() {
	registry.RegisterSink(Kind, func(ctx context.Context, params map[string]interface{}) (port.Sink, error) {
		return New(params)
	})
}
