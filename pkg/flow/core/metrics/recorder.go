package metrics

import (
	"context"
	"time"

	model "github.com/flowmill/flowmill/pkg/flow/core/domain/model"
)

// Span represents a single operation or unit of work in distributed tracing.
// This interface provides basic methods for managing the lifecycle of a span.
type Span interface {
	// End sets the end time of the current span and finishes the span.
	End()
}

// MetricRecorder is an abstract interface for recording metrics related to flow run execution.
//
// This interface provides a standardized way to record metrics for scheduling,
// claiming, batch processing, and retry events. It facilitates integration with
// different metrics backends (e.g., Prometheus).
type MetricRecorder interface {
	// RecordRunStart records the start of a Run.
	//
	// ctx: The context for the operation.
	// run: Details of the started Run.
	RecordRunStart(ctx context.Context, run *model.Run)

	// RecordRunEnd records the terminal outcome of a Run.
	//
	// ctx: The context for the operation.
	// run: Details of the ended Run.
	RecordRunEnd(ctx context.Context, run *model.Run)

	// RecordClaimAttempt records one claim attempt and its outcome
	// ("claimed", "lost_race", "limit_reached", "error").
	RecordClaimAttempt(ctx context.Context, flowName string, outcome string)

	// RecordBatchCommit records one checkpointed batch for a flow.
	//
	// ctx: The context for the operation.
	// flowName: The name of the flow that committed the batch.
	// count: The number of records in the batch.
	RecordBatchCommit(ctx context.Context, flowName string, count int)

	// RecordResumption records that an interrupted run was resumed from its checkpoint.
	RecordResumption(ctx context.Context, flowName string)

	// RecordRetryScheduled records that a failed run scheduled a retry attempt.
	//
	// ctx: The context for the operation.
	// flowName: The name of the flow being retried.
	// classification: The failure classification that triggered the retry.
	RecordRetryScheduled(ctx context.Context, flowName string, classification string)

	// RecordDuration records the execution time of a specific operation.
	//
	// ctx: The context for the operation.
	// name: The name of the duration to record (e.g., "claim_duration", "batch_duration").
	// duration: The length of the duration to record.
	// tags: A map of additional tags or attributes to associate with the duration.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
