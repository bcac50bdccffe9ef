package metrics

import (
	"context"

	model "github.com/flowmill/flowmill/pkg/flow/core/domain/model"
)

// Tracer is an abstract interface for tracing run and batch execution flows.
type Tracer interface {
	// StartRunSpan starts a Span for a Run.
	//
	// ctx: The parent context.
	// run: The Run to be traced.
	//
	// Returns: A context with the new Span set, and a function to end the Span.
	//          It is recommended to call the returned function in a defer statement.
	StartRunSpan(ctx context.Context, run *model.Run) (context.Context, func())

	// StartBatchSpan starts a Span for one batch within a Run.
	//
	// ctx: The parent context (typically a context with a RunSpan).
	// run: The Run the batch belongs to.
	// batchIndex: The zero-based index of the batch within this execution.
	//
	// Returns: A context with the new Span set, and a function to end the Span.
	StartBatchSpan(ctx context.Context, run *model.Run, batchIndex int) (context.Context, func())

	// RecordError records an error in the current Span.
	//
	// ctx: The context with the current Span.
	// module: The name of the module or component where the error occurred (e.g., "source", "sink").
	// err: The error to record.
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent records an event in the current Span.
	//
	// ctx: The context with the current Span.
	// name: The name of the event (e.g., "checkpoint", "claim").
	// attributes: Additional attributes to associate with the event.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
