// Package executor owns the lifecycle of claimed runs: component
// reconstruction, batch processing, terminal transitions, retry scheduling,
// and follow-up run enqueueing. Retries are new pending runs, never mutations
// of the failed row.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	port "github.com/flowmill/flowmill/pkg/flow/core/application/port"
	config "github.com/flowmill/flowmill/pkg/flow/core/config"
	model "github.com/flowmill/flowmill/pkg/flow/core/domain/model"
	repository "github.com/flowmill/flowmill/pkg/flow/core/domain/repository"
	metrics "github.com/flowmill/flowmill/pkg/flow/core/metrics"
	registry "github.com/flowmill/flowmill/pkg/flow/core/registry"
	"github.com/flowmill/flowmill/pkg/flow/engine/limiter"
	"github.com/flowmill/flowmill/pkg/flow/engine/policy/classify"
	"github.com/flowmill/flowmill/pkg/flow/engine/policy/retry"
	"github.com/flowmill/flowmill/pkg/flow/engine/processor"
	"github.com/flowmill/flowmill/pkg/flow/support/util/exception"
	"github.com/flowmill/flowmill/pkg/flow/support/util/serialization"
	logger "github.com/flowmill/flowmill/pkg/flow/support/util/logger"
)

const moduleName = "executor"

// RunExecutor executes one claimed run end to end.
type RunExecutor struct {
	repo              repository.Repository
	engineCfg         *config.EngineConfig
	securityCfg       *config.SecurityConfig
	recorder          metrics.MetricRecorder
	tracer            metrics.Tracer
	processor         *processor.BatchProcessor
	callbacks         port.RunCallbacks
	classifierFactory *classify.DefaultClassifierFactory
	retryFactory      *retry.DefaultRetryPolicyFactory
}

// NewRunExecutor creates a new RunExecutor.
func NewRunExecutor(
	repo repository.Repository,
	engineCfg *config.EngineConfig,
	securityCfg *config.SecurityConfig,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
	batchProcessor *processor.BatchProcessor,
	callbacks port.RunCallbacks,
) *RunExecutor {
	return &RunExecutor{
		repo:              repo,
		engineCfg:         engineCfg,
		securityCfg:       securityCfg,
		recorder:          recorder,
		tracer:            tracer,
		processor:         batchProcessor,
		callbacks:         callbacks,
		classifierFactory: classify.NewDefaultClassifierFactory(),
		retryFactory:      retry.NewDefaultRetryPolicyFactory(),
	}
}

// Execute runs a claimed (IN_PROGRESS) run to a terminal state. It never
// returns an error to the caller: every failure path ends in a persisted
// terminal transition plus, where the policy allows, a scheduled retry.
func (e *RunExecutor) Execute(ctx context.Context, run *model.Run) {
	flow, err := e.repo.FindFlowByID(ctx, run.FlowID)
	if err != nil {
		e.finishFailure(ctx, run, nil, exception.NewPermanentError(moduleName, fmt.Sprintf("flow '%s' of run '%s' not found", run.FlowID, run.ID), err))
		return
	}

	logger.Infof("Executing run '%s' of flow '%s' (attempt %d, resumption %d). Source params: %v",
		run.ID, flow.Name, run.Attempt, run.ResumptionCount,
		serialization.GetMaskedParamsMap(flow.Source.Params, e.maskedParameterKeys()))

	// A resumed run that keeps getting interrupted is eventually stuck:
	// fail it permanently instead of bouncing it between workers forever.
	maxResumptions := flow.MaxResumptions
	if maxResumptions == 0 {
		maxResumptions = e.engineCfg.MaxResumptions
	}
	if run.ResumptionCount > 0 {
		e.recorder.RecordResumption(ctx, flow.Name)
		if maxResumptions > 0 && run.ResumptionCount > maxResumptions {
			e.finishFailure(ctx, run, flow, exception.NewPermanentError(moduleName,
				fmt.Sprintf("run '%s' exceeded %d resumptions and is considered stuck", run.ID, maxResumptions), nil))
			return
		}
	}

	comps, err := e.reconstructComponents(ctx, flow)
	if err != nil {
		e.finishFailure(ctx, run, flow, err)
		return
	}
	defer e.closeComponents(ctx, run, comps)

	runCtx, endSpan := e.tracer.StartRunSpan(ctx, run)
	defer endSpan()
	e.recorder.RecordRunStart(runCtx, run)

	batchSize := flow.BatchSize
	if batchSize == 0 {
		batchSize = e.engineCfg.DefaultBatchSize
	}

	err = e.processor.Process(runCtx, run, flow, comps, batchSize)
	switch {
	case err == nil:
		e.finishSuccess(runCtx, run, flow)
	case errors.Is(err, processor.ErrRunCancelled):
		e.finishCancelled(runCtx, run, flow)
	default:
		e.finishFailure(runCtx, run, flow, err)
	}
}

// reconstructComponents rebuilds the source, runtime, and sink of the flow
// through the kind registry. Unknown kinds surface as permanent errors.
func (e *RunExecutor) reconstructComponents(ctx context.Context, flow *model.Flow) (processor.Components, error) {
	var comps processor.Components

	source, err := registry.NewSource(ctx, flow.Source.Kind, flow.Source.Params)
	if err != nil {
		return comps, err
	}
	comps.Source = source

	if flow.Runtime.Kind != "" {
		runtime, err := registry.NewRuntime(ctx, flow.Runtime.Kind, flow.Runtime.Params)
		if err != nil {
			return comps, err
		}
		comps.Runtime = runtime
	}

	sink, err := registry.NewSink(ctx, flow.Sink.Kind, flow.Sink.Params)
	if err != nil {
		return comps, err
	}
	comps.Sink = sink

	return comps, nil
}

// closeComponents closes the source and sink, aggregating failures.
// Close failures are logged, never escalated: the run outcome is already decided.
func (e *RunExecutor) closeComponents(ctx context.Context, run *model.Run, comps processor.Components) {
	var result *multierror.Error
	if comps.Source != nil {
		if err := comps.Source.Close(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("source close: %w", err))
		}
	}
	if comps.Sink != nil {
		if err := comps.Sink.Close(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("sink close: %w", err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		logger.Warnf("Run '%s': component close reported errors: %v", run.ID, err)
	}
}

// maskedParameterKeys returns the configured list of sensitive param keys.
func (e *RunExecutor) maskedParameterKeys() []string {
	if e.securityCfg == nil {
		return nil
	}
	return e.securityCfg.MaskedParameterKeys
}

// persistTerminal applies the terminal transition to the authoritative row.
// Checkpoints keep the executor's copy in sync, but operator cancellation
// flags bump the stored version behind its back, so the row is re-read before
// marking. A failed persist is returned to the caller: retries and follow-up
// runs must never be scheduled off a transition that did not land.
func (e *RunExecutor) persistTerminal(ctx context.Context, run *model.Run, mark func(*model.Run)) error {
	current, err := e.repo.FindRunByID(ctx, run.ID)
	if err != nil {
		return err
	}
	mark(current)
	if err := e.repo.UpdateRun(ctx, current); err != nil {
		return err
	}
	*run = *current
	return nil
}

// finishSuccess transitions the run to SUCCESS and enqueues the next periodic run.
func (e *RunExecutor) finishSuccess(ctx context.Context, run *model.Run, flow *model.Flow) {
	if err := e.persistTerminal(ctx, run, func(r *model.Run) { r.MarkAsSucceeded() }); err != nil {
		logger.Errorf("Failed to persist SUCCESS state of run '%s'; leaving it to the stale-claim sweep: %v", run.ID, err)
		return
	}
	e.recorder.RecordRunEnd(ctx, run)
	logger.Infof("Run '%s' of flow '%s' succeeded (%d records).", run.ID, flow.Name, run.RecordsProcessed)

	e.invokeCallbacks(ctx, run, nil)
	e.enqueueNextRun(ctx, flow)
}

// finishCancelled transitions the run to CANCELLED. The checkpoint is kept so a
// future run can start fresh while operators can still inspect the position.
func (e *RunExecutor) finishCancelled(ctx context.Context, run *model.Run, flow *model.Flow) {
	if err := e.persistTerminal(ctx, run, func(r *model.Run) { r.MarkAsCancelled() }); err != nil {
		logger.Errorf("Failed to persist CANCELLED state of run '%s': %v", run.ID, err)
		return
	}
	e.recorder.RecordRunEnd(ctx, run)
	logger.Infof("Run '%s' of flow '%s' cancelled after %d records.", run.ID, flow.Name, run.RecordsProcessed)

	e.enqueueNextRun(ctx, flow)
}

// finishFailure classifies the error, transitions the run to FAILED, records the
// occurrence, and either schedules a retry attempt or falls back to the next
// periodic run. flow may be nil when the flow itself could not be loaded.
func (e *RunExecutor) finishFailure(ctx context.Context, run *model.Run, flow *model.Flow, cause error) {
	globalRetry := e.engineCfg.Retry
	var policy retry.RetryPolicy
	if flow != nil {
		policy = e.retryFactory.CreateForFlow(globalRetry, flow.Retry)
	} else {
		policy = e.retryFactory.Create(globalRetry.MaxAttempts, globalRetry.TransientErrors, globalRetry.PermanentErrors, globalRetry.JitterFraction)
	}
	classifier := e.classifierFactory.Create(policy.TransientErrors(), policy.PermanentErrors())
	classification := classifier.Classify(cause)

	e.tracer.RecordError(ctx, moduleName, cause)
	logger.Errorf("Run '%s' of flow '%s' failed (attempt %d, class %s): %v",
		run.ID, run.FlowName, run.Attempt, classification, cause)

	if err := e.persistTerminal(ctx, run, func(r *model.Run) { r.MarkAsFailed(cause, classification) }); err != nil {
		logger.Errorf("Failed to persist FAILED state of run '%s'; no retry scheduled: %v", run.ID, err)
		return
	}
	e.recorder.RecordRunEnd(ctx, run)
	e.recordErrorOccurrence(ctx, run, cause, classification)

	e.invokeCallbacks(ctx, run, cause)

	if flow == nil {
		return
	}

	if policy.ShouldRetry(classification, run.Attempt) {
		backoff := policy.GetBackoffInterval(run.Attempt)
		retryRun := model.NewRun(flow, time.Now().Add(backoff), run.Attempt+1, limiter.KeyFor(flow))
		// A retry picks up where the failed attempt left off.
		retryRun.FirstCursor = run.LastCursor
		retryRun.LastCursor = run.LastCursor
		if err := e.repo.SaveRun(ctx, retryRun); err != nil {
			logger.Errorf("Failed to schedule retry for run '%s': %v", run.ID, err)
			return
		}
		e.recorder.RecordRetryScheduled(ctx, flow.Name, classification.String())
		logger.Infof("Scheduled retry '%s' (attempt %d) of flow '%s' in %s.", retryRun.ID, retryRun.Attempt, flow.Name, backoff.Round(time.Millisecond))
		return
	}

	logger.Warnf("Run '%s' of flow '%s' failed terminally after %d attempt(s) (class %s).",
		run.ID, flow.Name, run.Attempt, classification)
	e.enqueueNextRun(ctx, flow)
}

// enqueueNextRun creates the next periodic pending run of the flow, eligible at
// terminal time plus the flow's interval. Disabled or inactive flows get no
// follow-up; the scheduler bootstraps them again once re-enabled.
func (e *RunExecutor) enqueueNextRun(ctx context.Context, flow *model.Flow) {
	current, err := e.repo.FindFlowByID(ctx, flow.ID)
	if err != nil {
		logger.Warnf("Could not refresh flow '%s' before enqueueing next run: %v", flow.Name, err)
		current = flow
	}
	if !current.IsSchedulable() {
		logger.Infof("Flow '%s' is not schedulable. No follow-up run enqueued.", current.Name)
		return
	}
	next := model.NewRun(current, time.Now().Add(current.Interval()), 1, limiter.KeyFor(current))
	if err := e.repo.SaveRun(ctx, next); err != nil {
		logger.Errorf("Failed to enqueue next run of flow '%s': %v", current.Name, err)
		return
	}
	logger.Debugf("Enqueued next run '%s' of flow '%s' at %s.", next.ID, current.Name, next.RunAfter.Format(time.RFC3339))
}

// recordErrorOccurrence logs the failure to the error record store.
func (e *RunExecutor) recordErrorOccurrence(ctx context.Context, run *model.Run, cause error, classification exception.Classification) {
	module := moduleName
	if fe := exception.AsFlowError(cause); fe != nil {
		module = fe.Module
	}
	record := model.NewErrorRecord(run, module, exception.ExtractErrorMessage(cause), classification.String())
	if err := e.repo.SaveErrorRecord(ctx, record); err != nil {
		logger.Warnf("Failed to save error record for run '%s': %v", run.ID, err)
	}
}

// invokeCallbacks notifies the registered callbacks of the terminal outcome.
// A panicking callback is recovered and logged; it never alters the run outcome.
func (e *RunExecutor) invokeCallbacks(ctx context.Context, run *model.Run, cause error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Run callback panicked for run '%s': %v", run.ID, r)
		}
	}()
	if e.callbacks == nil {
		return
	}
	if cause == nil {
		e.callbacks.OnComplete(ctx, run)
	} else {
		e.callbacks.OnFailure(ctx, run, cause)
	}
}
