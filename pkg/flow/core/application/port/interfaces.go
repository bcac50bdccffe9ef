// Package port defines the core interfaces (ports) for the flow engine.
// These interfaces abstract the engine's capabilities and dependencies,
// allowing for flexible implementation and testing.
package port

import (
	"context"

	model "github.com/flowmill/flowmill/pkg/flow/core/domain/model"
)

// Record is one unit of data moved by a flow. Keys and value types are defined
// by the source that produced it.
type Record map[string]interface{}

// Source reads records from an external system in cursor-ordered batches.
type Source interface {
	// NextBatch returns up to limit records strictly after the given cursor
	// position, together with the cursor of the last record returned. An empty
	// slice means the source is exhausted for this run.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   after: The cursor position to resume after. A zero cursor reads from the beginning.
	//   limit: The maximum number of records to return.
	//
	// Returns:
	//   The batch of records, the cursor of the last record, and an error if reading fails.
	NextBatch(ctx context.Context, after model.Cursor, limit int) ([]Record, model.Cursor, error)

	// Close releases any resources held by the source.
	Close(ctx context.Context) error
}

// Runtime transforms a batch of records between source and sink.
// Implementations must be pure with respect to the cursor: they may drop,
// reshape, or enrich records but never reorder them.
type Runtime interface {
	// Transform applies the flow's record transformation to one batch.
	Transform(ctx context.Context, records []Record) ([]Record, error)
}

// Sink writes transformed records to an external system.
type Sink interface {
	// Write persists one batch of records.
	Write(ctx context.Context, records []Record) error

	// Flush forces any buffered records out before a checkpoint is taken.
	Flush(ctx context.Context) error

	// Close releases any resources held by the sink.
	Close(ctx context.Context) error
}

// RunCallbacks receives notifications when a run reaches a terminal state.
// Callback failures are isolated: they are logged and never alter the
// terminal status of the run that triggered them.
type RunCallbacks interface {
	// OnComplete is called after a run transitions to SUCCESS.
	OnComplete(ctx context.Context, run *model.Run)
	// OnFailure is called after a run transitions to FAILED, with the error
	// that caused the failure.
	OnFailure(ctx context.Context, run *model.Run, err error)
}

// NoopRunCallbacks is a RunCallbacks implementation that does nothing.
type NoopRunCallbacks struct{}

var _ RunCallbacks = (*NoopRunCallbacks)(nil)

// NewNoopRunCallbacks creates a new NoopRunCallbacks instance.
func NewNoopRunCallbacks() *NoopRunCallbacks {
	return &NoopRunCallbacks{}
}

// OnComplete does nothing.
func (n *NoopRunCallbacks) OnComplete(ctx context.Context, run *model.Run) {}

// OnFailure does nothing.
func (n *NoopRunCallbacks) OnFailure(ctx context.Context, run *model.Run, err error) {}
