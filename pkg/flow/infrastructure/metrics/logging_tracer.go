package metrics

import (
	"context"

	model "github.com/flowmill/flowmill/pkg/flow/core/domain/model"
	metrics "github.com/flowmill/flowmill/pkg/flow/core/metrics"
	logger "github.com/flowmill/flowmill/pkg/flow/support/util/logger"
)

// LoggingTracer is an implementation of metrics.Tracer that emits spans and
// events to the engine log at DEBUG level.
type LoggingTracer struct{}

// NewLoggingTracer creates a new instance of LoggingTracer.
func NewLoggingTracer() metrics.Tracer {
	return &LoggingTracer{}
}

// StartRunSpan starts a new span for a Run.
func (t *LoggingTracer) StartRunSpan(ctx context.Context, run *model.Run) (context.Context, func()) {
	logger.Debugf("Tracer: StartRunSpan called for run '%s' (flow '%s')", run.ID, run.FlowName)
	return ctx, func() {
		logger.Debugf("Tracer: FinishRunSpan called for run '%s' (flow '%s')", run.ID, run.FlowName)
	}
}

// StartBatchSpan starts a new span for one batch within a Run.
func (t *LoggingTracer) StartBatchSpan(ctx context.Context, run *model.Run, batchIndex int) (context.Context, func()) {
	logger.Debugf("Tracer: StartBatchSpan called for run '%s' batch %d", run.ID, batchIndex)
	return ctx, func() {
		logger.Debugf("Tracer: FinishBatchSpan called for run '%s' batch %d", run.ID, batchIndex)
	}
}

// RecordError records an error in the current span.
func (t *LoggingTracer) RecordError(ctx context.Context, module string, err error) {
	logger.Debugf("Tracer: RecordError called in module %s: %v", module, err)
}

// RecordEvent records an event in the current span.
func (t *LoggingTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	logger.Debugf("Tracer: RecordEvent called: %s, attributes: %v", name, attributes)
}

var _ metrics.Tracer = (*LoggingTracer)(nil)
