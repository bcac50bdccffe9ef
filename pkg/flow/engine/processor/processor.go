// Package processor drives the checkpointed batch loop of a run. It reads
// cursor-ordered batches from the source, pipes them through the optional
// runtime, writes them to the sink, and atomically checkpoints progress after
// each batch. Because the checkpoint lands only after the sink flushed, a
// crash between batches never loses acknowledged progress; at-least-once
// delivery across the last uncheckpointed batch is the accepted trade-off.
package processor

import (
	"context"
	"errors"
	"fmt"

	port "github.com/flowmill/flowmill/pkg/flow/core/application/port"
	model "github.com/flowmill/flowmill/pkg/flow/core/domain/model"
	repository "github.com/flowmill/flowmill/pkg/flow/core/domain/repository"
	metrics "github.com/flowmill/flowmill/pkg/flow/core/metrics"
	"github.com/flowmill/flowmill/pkg/flow/support/util/exception"
	logger "github.com/flowmill/flowmill/pkg/flow/support/util/logger"
)

const moduleName = "processor"

// RunCancelledException is a constant naming the cancellation sentinel error.
const RunCancelledException = "RunCancelledException"

// ErrRunCancelled is returned when an operator cancellation request was
// observed at a batch boundary. The run's checkpoint stays intact.
var ErrRunCancelled = errors.New("run cancelled by operator request")

func init() {
	exception.RegisterErrorType(RunCancelledException, ErrRunCancelled)
}

// Components bundles the reconstructed source, runtime, and sink of one run.
// Runtime may be nil for pass-through flows.
type Components struct {
	Source  port.Source
	Runtime port.Runtime
	Sink    port.Sink
}

// BatchProcessor executes the batch loop of claimed runs.
type BatchProcessor struct {
	repo     repository.RunRepository
	recorder metrics.MetricRecorder
	tracer   metrics.Tracer
}

// NewBatchProcessor creates a new BatchProcessor.
func NewBatchProcessor(repo repository.RunRepository, recorder metrics.MetricRecorder, tracer metrics.Tracer) *BatchProcessor {
	return &BatchProcessor{
		repo:     repo,
		recorder: recorder,
		tracer:   tracer,
	}
}

// Process runs the batch loop of one claimed run until the source is exhausted,
// a batch fails, or a cancellation request is observed.
//
// The loop resumes from run.LastCursor, so a resumed run re-reads nothing that
// was already checkpointed. Each iteration reads one batch strictly after the
// current cursor, transforms and writes it, flushes the sink, and then persists
// the new cursor together with the processed-record delta in one atomic
// checkpoint. Cancellation requests and context expiry are honored only at
// batch boundaries; a batch in flight always finishes or fails whole.
func (p *BatchProcessor) Process(ctx context.Context, run *model.Run, flow *model.Flow, comps Components, batchSize int) error {
	if batchSize <= 0 {
		return exception.NewPermanentError(moduleName, fmt.Sprintf("invalid batch size %d for flow '%s'", batchSize, flow.Name), nil)
	}

	cursor := run.LastCursor
	if !cursor.IsZero() {
		logger.Infof("Run '%s' (flow '%s') resuming from cursor '%s' (%d records already processed).",
			run.ID, flow.Name, cursor, run.RecordsProcessed)
	}

	for batchIndex := 0; ; batchIndex++ {
		// Batch boundary: honor context expiry before starting new work.
		if err := ctx.Err(); err != nil {
			return exception.NewTransientError(moduleName, fmt.Sprintf("run '%s' interrupted at batch boundary", run.ID), err)
		}

		// Batch boundary: honor operator cancellation requests.
		cancelled, err := p.cancelRequested(ctx, run.ID)
		if err != nil {
			return err
		}
		if cancelled {
			logger.Infof("Run '%s' observed a cancellation request at batch %d. Stopping.", run.ID, batchIndex)
			return ErrRunCancelled
		}

		batchCtx, endSpan := p.tracer.StartBatchSpan(ctx, run, batchIndex)

		records, nextCursor, err := comps.Source.NextBatch(batchCtx, cursor, batchSize)
		if err != nil {
			endSpan()
			p.tracer.RecordError(ctx, "source", err)
			return exception.NewFlowError(moduleName, fmt.Sprintf("source read failed at cursor '%s'", cursor), err, exception.ClassUnknown)
		}

		// An empty batch means the source is exhausted for this run.
		if len(records) == 0 {
			endSpan()
			break
		}

		read := len(records)

		if comps.Runtime != nil {
			records, err = comps.Runtime.Transform(batchCtx, records)
			if err != nil {
				endSpan()
				p.tracer.RecordError(ctx, "runtime", err)
				return exception.NewFlowError(moduleName, fmt.Sprintf("runtime transform failed at cursor '%s'", cursor), err, exception.ClassUnknown)
			}
		}

		if len(records) > 0 {
			if err := comps.Sink.Write(batchCtx, records); err != nil {
				endSpan()
				p.tracer.RecordError(ctx, "sink", err)
				return exception.NewFlowError(moduleName, fmt.Sprintf("sink write failed at cursor '%s'", cursor), err, exception.ClassUnknown)
			}
		}
		if err := comps.Sink.Flush(batchCtx); err != nil {
			endSpan()
			p.tracer.RecordError(ctx, "sink", err)
			return exception.NewFlowError(moduleName, fmt.Sprintf("sink flush failed at cursor '%s'", cursor), err, exception.ClassUnknown)
		}

		if err := run.AdvanceCursor(nextCursor, int64(len(records))); err != nil {
			endSpan()
			return exception.NewPermanentError(moduleName, "cursor regression detected", err)
		}
		// The checkpoint lands only after the sink acknowledged the batch. It
		// refreshes run with the stored row, keeping the claim holder's version
		// valid for the terminal update that follows the loop.
		if err := p.repo.UpdateRunCheckpoint(ctx, run, nextCursor, int64(len(records))); err != nil {
			endSpan()
			return exception.NewTransientError(moduleName, fmt.Sprintf("failed to checkpoint run '%s' at cursor '%s'", run.ID, nextCursor), err)
		}

		p.recorder.RecordBatchCommit(ctx, flow.Name, len(records))
		p.tracer.RecordEvent(ctx, "checkpoint", map[string]interface{}{
			"run_id": run.ID,
			"cursor": nextCursor.String(),
			"count":  len(records),
		})
		endSpan()

		logger.Debugf("Run '%s' checkpointed batch %d: %d record(s), cursor '%s'.", run.ID, batchIndex, len(records), nextCursor)

		// A short batch means the source has no more records right now.
		if read < batchSize {
			break
		}
		cursor = nextCursor
	}

	logger.Infof("Run '%s' (flow '%s') processed %d record(s) in total.", run.ID, flow.Name, run.RecordsProcessed)
	return nil
}

// cancelRequested re-reads the run row and reports whether an operator flagged it.
func (p *BatchProcessor) cancelRequested(ctx context.Context, runID string) (bool, error) {
	current, err := p.repo.FindRunByID(ctx, runID)
	if err != nil {
		return false, exception.NewTransientError(moduleName, fmt.Sprintf("failed to refresh run '%s' at batch boundary", runID), err)
	}
	return current.CancelRequested || current.Status == model.RunStatusCancelled, nil
}
