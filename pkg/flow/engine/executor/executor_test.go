package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	port "github.com/flowmill/flowmill/pkg/flow/core/application/port"
	config "github.com/flowmill/flowmill/pkg/flow/core/config"
	model "github.com/flowmill/flowmill/pkg/flow/core/domain/model"
	metrics "github.com/flowmill/flowmill/pkg/flow/core/metrics"
	registry "github.com/flowmill/flowmill/pkg/flow/core/registry"
	"github.com/flowmill/flowmill/pkg/flow/engine/executor"
	"github.com/flowmill/flowmill/pkg/flow/engine/processor"
	"github.com/flowmill/flowmill/pkg/flow/infrastructure/repository/inmemory"
	"github.com/flowmill/flowmill/pkg/flow/support/util/exception"
)

// scriptedSource emits "count" records in one batch, or fails according to
// the "mode" param.
type scriptedSource struct {
	mode  string
	count int
}

func (s *scriptedSource) NextBatch(ctx context.Context, after model.Cursor, limit int) ([]port.Record, model.Cursor, error) {
	switch s.mode {
	case "fail-transient":
		return nil, "", exception.NewTransientError("test", "scripted transient failure", nil)
	case "fail-permanent":
		return nil, "", exception.NewPermanentError("test", "scripted permanent failure", nil)
	}
	if !after.IsZero() {
		return nil, after, nil
	}
	records := make([]port.Record, 0, s.count)
	for i := 1; i <= s.count && i <= limit; i++ {
		records = append(records, port.Record{"n": i})
	}
	return records, model.Cursor("done"), nil
}

func (s *scriptedSource) Close(ctx context.Context) error { return nil }

// discardSink accepts and drops everything.
type discardSink struct{}

func (discardSink) Write(ctx context.Context, records []port.Record) error { return nil }
func (discardSink) Flush(ctx context.Context) error                        { return nil }
func (discardSink) Close(ctx context.Context) error                        { return nil }

// recordingCallbacks captures terminal notifications. panicOn makes the
// matching hook panic, to verify callback isolation.
type recordingCallbacks struct {
	completed []string
	failed    []string
	panicOn   string
}

func (c *recordingCallbacks) OnComplete(ctx context.Context, run *model.Run) {
	c.completed = append(c.completed, run.ID)
	if c.panicOn == "complete" {
		panic("callback exploded")
	}
}

func (c *recordingCallbacks) OnFailure(ctx context.Context, run *model.Run, cause error) {
	c.failed = append(c.failed, run.ID)
	if c.panicOn == "failure" {
		panic("callback exploded")
	}
}

func init() {
	registry.RegisterSource("scripted", func(ctx context.Context, params map[string]interface{}) (port.Source, error) {
		mode, _ := params["mode"].(string)
		count, _ := params["count"].(int)
		if count == 0 {
			count = 3
		}
		return &scriptedSource{mode: mode, count: count}, nil
	})
	registry.RegisterSink("discard", func(ctx context.Context, params map[string]interface{}) (port.Sink, error) {
		return discardSink{}, nil
	})
}

func testEngineConfig() *config.EngineConfig {
	return &config.EngineConfig{
		PollIntervalSeconds: 1,
		ClaimBatchSize:      10,
		DefaultBatchSize:    100,
		MaxResumptions:      2,
		ClaimLeaseSeconds:   300,
		Retry: config.RetryConfig{
			MaxAttempts:    3,
			JitterFraction: 0.15,
		},
	}
}

func newScriptedFlow(name, sourceMode string) *model.Flow {
	flow := model.NewFlow(
		name,
		60,
		model.ComponentConfig{Kind: "scripted", Params: map[string]interface{}{"mode": sourceMode}},
		model.ComponentConfig{Kind: "discard"},
	)
	_ = flow.Activate()
	return flow
}

func setupExecutorTest(t *testing.T, flow *model.Flow, callbacks port.RunCallbacks) (*inmemory.InMemoryRepository, *executor.RunExecutor, *model.Run) {
	t.Helper()
	ctx := context.Background()
	repo := inmemory.NewInMemoryRepository()
	assert.NoError(t, repo.SaveFlow(ctx, flow))

	run := model.NewRun(flow, time.Now().Add(-time.Second), 1, "flow:"+flow.Name)
	assert.NoError(t, repo.SaveRun(ctx, run))
	assert.NoError(t, repo.ClaimRun(ctx, run, "worker-test", "flow:"+flow.Name, 0))

	recorder := metrics.NewNoOpMetricRecorder()
	tracer := metrics.NewNoOpTracer()
	proc := processor.NewBatchProcessor(repo, recorder, tracer)
	if callbacks == nil {
		callbacks = port.NewNoopRunCallbacks()
	}
	securityCfg := &config.SecurityConfig{MaskedParameterKeys: []string{"password", "api_key"}}
	exec := executor.NewRunExecutor(repo, testEngineConfig(), securityCfg, recorder, tracer, proc, callbacks)
	return repo, exec, run
}

// pendingRuns returns all pending runs of the repo, due or not.
func pendingRuns(t *testing.T, repo *inmemory.InMemoryRepository) []*model.Run {
	t.Helper()
	runs, err := repo.FindDueRuns(context.Background(), time.Now().Add(24*time.Hour), 0)
	assert.NoError(t, err)
	return runs
}

func TestExecute_SuccessEnqueuesNextRun(t *testing.T) {
	flow := newScriptedFlow("orders", "")
	repo, exec, run := setupExecutorTest(t, flow, nil)

	exec.Execute(context.Background(), run)

	stored, err := repo.FindRunByID(context.Background(), run.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.RunStatusSuccess, stored.Status)
	assert.NotNil(t, stored.EndedAt)
	assert.Equal(t, int64(3), stored.RecordsProcessed)

	// One follow-up pending run at terminal time plus the interval.
	pending := pendingRuns(t, repo)
	assert.Len(t, pending, 1)
	next := pending[0]
	assert.Equal(t, 1, next.Attempt)
	assert.True(t, next.RunAfter.After(time.Now().Add(50*time.Second)))
}

func TestExecute_StaleRunCopyStillFinalizes(t *testing.T) {
	flow := newScriptedFlow("orders", "")
	repo, exec, run := setupExecutorTest(t, flow, nil)

	// Bump the stored version behind the executor's back, the way an operator
	// cancellation flag does. The terminal transition must still land instead
	// of losing the optimistic CAS and leaving the run in progress forever.
	other, err := repo.FindRunByID(context.Background(), run.ID)
	assert.NoError(t, err)
	assert.NoError(t, repo.UpdateRun(context.Background(), other))

	exec.Execute(context.Background(), run)

	stored, err := repo.FindRunByID(context.Background(), run.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.RunStatusSuccess, stored.Status)
	assert.NotNil(t, stored.EndedAt)
}

func TestExecute_TransientFailureSchedulesRetry(t *testing.T) {
	flow := newScriptedFlow("orders", "fail-transient")
	repo, exec, run := setupExecutorTest(t, flow, nil)

	exec.Execute(context.Background(), run)

	stored, err := repo.FindRunByID(context.Background(), run.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, stored.Status)
	assert.Equal(t, exception.ClassTransient.String(), stored.ErrorClass)

	// The retry is a new pending run with an incremented attempt and backoff.
	pending := pendingRuns(t, repo)
	assert.Len(t, pending, 1)
	retryRun := pending[0]
	assert.NotEqual(t, run.ID, retryRun.ID)
	assert.Equal(t, 2, retryRun.Attempt)
	assert.True(t, retryRun.RunAfter.After(time.Now().Add(2*time.Second)), "retry respects the backoff")

	// The failure was logged for operators.
	records, err := repo.FindErrorRecordsByFlow(context.Background(), flow.ID, 0)
	assert.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Contains(t, records[0].Message, "scripted transient failure")
}

func TestExecute_RetryCarriesCursorForward(t *testing.T) {
	flow := newScriptedFlow("orders", "fail-transient")
	repo, exec, run := setupExecutorTest(t, flow, nil)

	// The failed attempt had checkpointed progress.
	assert.NoError(t, repo.UpdateRunCheckpoint(context.Background(), run, model.Cursor("500"), 500))
	refreshed, err := repo.FindRunByID(context.Background(), run.ID)
	assert.NoError(t, err)

	exec.Execute(context.Background(), refreshed)

	pending := pendingRuns(t, repo)
	assert.Len(t, pending, 1)
	assert.Equal(t, model.Cursor("500"), pending[0].LastCursor)
	assert.Equal(t, model.Cursor("500"), pending[0].FirstCursor)
}

func TestExecute_PermanentFailureIsNotRetried(t *testing.T) {
	flow := newScriptedFlow("orders", "fail-permanent")
	repo, exec, run := setupExecutorTest(t, flow, nil)

	exec.Execute(context.Background(), run)

	stored, err := repo.FindRunByID(context.Background(), run.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, stored.Status)
	assert.Equal(t, exception.ClassPermanent.String(), stored.ErrorClass)

	// No retry, but the periodic schedule continues.
	pending := pendingRuns(t, repo)
	assert.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempt)
	assert.True(t, pending[0].RunAfter.After(time.Now().Add(50*time.Second)))
}

func TestExecute_ExhaustedAttemptsFallBackToSchedule(t *testing.T) {
	flow := newScriptedFlow("orders", "fail-transient")
	repo, exec, run := setupExecutorTest(t, flow, nil)

	// The engine-wide policy allows 3 attempts; this run is the last one.
	run.Attempt = 3
	assert.NoError(t, repo.UpdateRun(context.Background(), run))

	exec.Execute(context.Background(), run)

	pending := pendingRuns(t, repo)
	assert.Len(t, pending, 1)
	// Attempt 1 marks a fresh periodic run, not a retry.
	assert.Equal(t, 1, pending[0].Attempt)
}

func TestExecute_UnknownKindFailsPermanently(t *testing.T) {
	flow := newScriptedFlow("orders", "")
	flow.Source.Kind = "no-such-kind"
	repo, exec, run := setupExecutorTest(t, flow, nil)

	exec.Execute(context.Background(), run)

	stored, err := repo.FindRunByID(context.Background(), run.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, stored.Status)
	assert.Equal(t, exception.ClassPermanent.String(), stored.ErrorClass)

	// A configuration error is never retried.
	for _, p := range pendingRuns(t, repo) {
		assert.Equal(t, 1, p.Attempt)
	}
}

func TestExecute_StuckResumptionFailsPermanently(t *testing.T) {
	flow := newScriptedFlow("orders", "")
	repo, exec, run := setupExecutorTest(t, flow, nil)

	// MaxResumptions is 2 in the test engine config.
	run.ResumptionCount = 3
	assert.NoError(t, repo.UpdateRun(context.Background(), run))

	exec.Execute(context.Background(), run)

	stored, err := repo.FindRunByID(context.Background(), run.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "stuck")
}

func TestExecute_DisabledFlowGetsNoFollowUp(t *testing.T) {
	flow := newScriptedFlow("orders", "")
	repo, exec, run := setupExecutorTest(t, flow, nil)

	// Disable the flow after the run was claimed.
	current, err := repo.FindFlowByID(context.Background(), flow.ID)
	assert.NoError(t, err)
	current.Enabled = false
	assert.NoError(t, repo.UpdateFlow(context.Background(), current))

	exec.Execute(context.Background(), run)

	stored, err := repo.FindRunByID(context.Background(), run.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.RunStatusSuccess, stored.Status)

	// The in-flight run finished, but no follow-up was enqueued.
	assert.Empty(t, pendingRuns(t, repo))
}

func TestExecute_CancellationEndsRunAsCancelled(t *testing.T) {
	flow := newScriptedFlow("orders", "")
	repo, exec, run := setupExecutorTest(t, flow, nil)
	assert.NoError(t, repo.RequestCancel(context.Background(), run.ID))

	exec.Execute(context.Background(), run)

	stored, err := repo.FindRunByID(context.Background(), run.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, stored.Status)
	assert.NotNil(t, stored.EndedAt)
}

func TestExecute_CallbacksObserveOutcome(t *testing.T) {
	callbacks := &recordingCallbacks{}
	flow := newScriptedFlow("orders", "")
	_, exec, run := setupExecutorTest(t, flow, callbacks)

	exec.Execute(context.Background(), run)
	assert.Equal(t, []string{run.ID}, callbacks.completed)
	assert.Empty(t, callbacks.failed)

	callbacks = &recordingCallbacks{}
	flow = newScriptedFlow("users", "fail-permanent")
	_, exec, run = setupExecutorTest(t, flow, callbacks)

	exec.Execute(context.Background(), run)
	assert.Equal(t, []string{run.ID}, callbacks.failed)
	assert.Empty(t, callbacks.completed)
}

func TestExecute_PanickingCallbackDoesNotAlterOutcome(t *testing.T) {
	callbacks := &recordingCallbacks{panicOn: "complete"}
	flow := newScriptedFlow("orders", "")
	repo, exec, run := setupExecutorTest(t, flow, callbacks)

	assert.NotPanics(t, func() {
		exec.Execute(context.Background(), run)
	})

	stored, err := repo.FindRunByID(context.Background(), run.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.RunStatusSuccess, stored.Status)
}

func TestExecute_MissingFlowFailsPermanently(t *testing.T) {
	flow := newScriptedFlow("orders", "")
	repo, exec, run := setupExecutorTest(t, flow, nil)

	// Point the run at a flow that no longer exists.
	orphan := *run
	orphan.FlowID = "deleted-flow"
	orphan.ID = model.NewID()
	orphan.Status = model.RunStatusInProgress
	assert.NoError(t, repo.SaveRun(context.Background(), &orphan))

	exec.Execute(context.Background(), &orphan)

	stored, err := repo.FindRunByID(context.Background(), orphan.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, stored.Status)
	assert.Equal(t, exception.ClassPermanent.String(), stored.ErrorClass)
}
