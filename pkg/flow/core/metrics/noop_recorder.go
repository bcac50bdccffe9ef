package metrics

import (
	"context"
	"time"

	model "github.com/flowmill/flowmill/pkg/flow/core/domain/model"
)

// NoOpMetricRecorder is an implementation of MetricRecorder that does nothing.
// It is used when metrics are disabled or during testing.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new instance of NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

// RecordRunStart does nothing.
func (r *NoOpMetricRecorder) RecordRunStart(ctx context.Context, run *model.Run) {}

// RecordRunEnd does nothing.
func (r *NoOpMetricRecorder) RecordRunEnd(ctx context.Context, run *model.Run) {}

// RecordClaimAttempt does nothing.
func (r *NoOpMetricRecorder) RecordClaimAttempt(ctx context.Context, flowName string, outcome string) {
}

// RecordBatchCommit does nothing.
func (r *NoOpMetricRecorder) RecordBatchCommit(ctx context.Context, flowName string, count int) {}

// RecordResumption does nothing.
func (r *NoOpMetricRecorder) RecordResumption(ctx context.Context, flowName string) {}

// RecordRetryScheduled does nothing.
func (r *NoOpMetricRecorder) RecordRetryScheduled(ctx context.Context, flowName string, classification string) {
}

// RecordDuration does nothing.
func (r *NoOpMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// --- NoOpTracer ---

// NoOpTracer is an implementation of Tracer that does nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new instance of NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

// StartRunSpan starts a Span for a Run.
func (t *NoOpTracer) StartRunSpan(ctx context.Context, run *model.Run) (context.Context, func()) {
	return ctx, func() {}
}

// StartBatchSpan starts a Span for one batch within a Run.
func (t *NoOpTracer) StartBatchSpan(ctx context.Context, run *model.Run, batchIndex int) (context.Context, func()) {
	return ctx, func() {}
}

// RecordError does nothing.
func (t *NoOpTracer) RecordError(ctx context.Context, module string, err error) {}

// RecordEvent does nothing.
func (t *NoOpTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
}

var _ Tracer = (*NoOpTracer)(nil)
