package processor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	port "github.com/flowmill/flowmill/pkg/flow/core/application/port"
	model "github.com/flowmill/flowmill/pkg/flow/core/domain/model"
	metrics "github.com/flowmill/flowmill/pkg/flow/core/metrics"
	"github.com/flowmill/flowmill/pkg/flow/engine/processor"
	"github.com/flowmill/flowmill/pkg/flow/infrastructure/repository/inmemory"
	"github.com/flowmill/flowmill/pkg/flow/support/util/exception"
)

// fakeSource emits integers 1..total, honoring cursor-ordered keyset reads.
// failAt, when positive, fails the read whose batch would start at that value.
type fakeSource struct {
	total  int
	failAt int
	closed bool
}

func (s *fakeSource) NextBatch(ctx context.Context, after model.Cursor, limit int) ([]port.Record, model.Cursor, error) {
	next := 1
	if !after.IsZero() {
		parsed := 0
		for _, c := range after.String() {
			parsed = parsed*10 + int(c-'0')
		}
		next = parsed + 1
	}
	if s.failAt > 0 && next >= s.failAt {
		return nil, "", errors.New("simulated source failure")
	}

	var records []port.Record
	cursor := after
	for v := next; v <= s.total && len(records) < limit; v++ {
		records = append(records, port.Record{"value": v})
		cursor = model.Cursor(itoa(v))
	}
	return records, cursor, nil
}

func (s *fakeSource) Close(ctx context.Context) error {
	s.closed = true
	return nil
}

// collectSink records written batches and counts flushes.
type collectSink struct {
	records []port.Record
	flushes int
}

func (s *collectSink) Write(ctx context.Context, records []port.Record) error {
	s.records = append(s.records, records...)
	return nil
}

func (s *collectSink) Flush(ctx context.Context) error {
	s.flushes++
	return nil
}

func (s *collectSink) Close(ctx context.Context) error { return nil }

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	var digits []byte
	for v > 0 {
		digits = append([]byte{byte('0' + v%10)}, digits...)
		v /= 10
	}
	return string(digits)
}

func setupProcessorTest(t *testing.T) (*inmemory.InMemoryRepository, *processor.BatchProcessor, *model.Flow, *model.Run) {
	t.Helper()
	repo := inmemory.NewInMemoryRepository()
	proc := processor.NewBatchProcessor(repo, metrics.NewNoOpMetricRecorder(), metrics.NewNoOpTracer())

	flow := model.NewFlow(
		"testFlow",
		60,
		model.ComponentConfig{Kind: "fake"},
		model.ComponentConfig{Kind: "collect"},
	)
	assert.NoError(t, flow.Activate())
	assert.NoError(t, repo.SaveFlow(context.Background(), flow))

	run := model.NewRun(flow, time.Now().Add(-time.Second), 1, "flow:testFlow")
	assert.NoError(t, repo.SaveRun(context.Background(), run))
	assert.NoError(t, repo.ClaimRun(context.Background(), run, "worker-test", "flow:testFlow", 0))
	return repo, proc, flow, run
}

func TestProcess_DrainsSourceAndCheckpoints(t *testing.T) {
	repo, proc, flow, run := setupProcessorTest(t)
	source := &fakeSource{total: 25}
	sink := &collectSink{}

	err := proc.Process(context.Background(), run, flow, processor.Components{Source: source, Sink: sink}, 10)
	assert.NoError(t, err)

	// 25 records in batches of 10: the short third batch terminates the loop.
	assert.Len(t, sink.records, 25)
	assert.Equal(t, 3, sink.flushes)

	stored, err := repo.FindRunByID(context.Background(), run.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(25), stored.RecordsProcessed)
	assert.Equal(t, model.Cursor("25"), stored.LastCursor)
	assert.Equal(t, model.Cursor("10"), stored.FirstCursor)
}

func TestProcess_ResumesFromLastCursor(t *testing.T) {
	repo, proc, flow, run := setupProcessorTest(t)

	// Simulate an interrupted earlier attempt that checkpointed at 10.
	assert.NoError(t, repo.UpdateRunCheckpoint(context.Background(), run, model.Cursor("10"), 10))
	resumed, err := repo.FindRunByID(context.Background(), run.ID)
	assert.NoError(t, err)

	source := &fakeSource{total: 25}
	sink := &collectSink{}
	err = proc.Process(context.Background(), resumed, flow, processor.Components{Source: source, Sink: sink}, 10)
	assert.NoError(t, err)

	// Only records after the checkpoint are re-read.
	assert.Len(t, sink.records, 15)
	assert.Equal(t, 11, sink.records[0]["value"])

	stored, err := repo.FindRunByID(context.Background(), run.ID)
	assert.NoError(t, err)
	// The record count includes the 10 from the earlier attempt.
	assert.Equal(t, int64(25), stored.RecordsProcessed)
	assert.Equal(t, model.Cursor("25"), stored.LastCursor)
}

func TestProcess_InterruptAfterTwoCheckpointsResumesExactly(t *testing.T) {
	repo, proc, flow, run := setupProcessorTest(t)

	// 250 records in batches of 100: the first attempt checkpoints batches one
	// and two, then the third read fails.
	source := &fakeSource{total: 250, failAt: 201}
	sink := &collectSink{}
	err := proc.Process(context.Background(), run, flow, processor.Components{Source: source, Sink: sink}, 100)
	assert.Error(t, err)

	stored, findErr := repo.FindRunByID(context.Background(), run.ID)
	assert.NoError(t, findErr)
	assert.Equal(t, model.Cursor("200"), stored.LastCursor)
	assert.Equal(t, int64(200), stored.RecordsProcessed)

	// A resumed attempt picks up after the second checkpoint and re-reads
	// nothing that was already acknowledged.
	err = proc.Process(context.Background(), stored, flow, processor.Components{Source: &fakeSource{total: 250}, Sink: sink}, 100)
	assert.NoError(t, err)

	assert.Len(t, sink.records, 250)
	assert.Equal(t, 201, sink.records[200]["value"])

	final, err := repo.FindRunByID(context.Background(), run.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.Cursor("250"), final.LastCursor)
	assert.Equal(t, int64(250), final.RecordsProcessed)
}

func TestProcess_CheckpointRefreshesRunVersion(t *testing.T) {
	repo, proc, flow, run := setupProcessorTest(t)

	source := &fakeSource{total: 25}
	err := proc.Process(context.Background(), run, flow, processor.Components{Source: source, Sink: &collectSink{}}, 10)
	assert.NoError(t, err)

	// Every checkpoint bumps the stored version; the claim holder's copy must
	// track it so the terminal update after the loop does not hit a stale CAS.
	stored, findErr := repo.FindRunByID(context.Background(), run.ID)
	assert.NoError(t, findErr)
	assert.Equal(t, stored.Version, run.Version)
	assert.NoError(t, repo.UpdateRun(context.Background(), run))
}

func TestProcess_SourceFailureKeepsCheckpoint(t *testing.T) {
	repo, proc, flow, run := setupProcessorTest(t)

	// First batch succeeds; the second read fails.
	source := &fakeSource{total: 25, failAt: 11}
	sink := &collectSink{}
	err := proc.Process(context.Background(), run, flow, processor.Components{Source: source, Sink: sink}, 10)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "source read failed")

	stored, findErr := repo.FindRunByID(context.Background(), run.ID)
	assert.NoError(t, findErr)
	// The checkpoint of the acknowledged batch survives the failure.
	assert.Equal(t, model.Cursor("10"), stored.LastCursor)
	assert.Equal(t, int64(10), stored.RecordsProcessed)
}

func TestProcess_CancellationAtBatchBoundary(t *testing.T) {
	repo, proc, flow, run := setupProcessorTest(t)
	assert.NoError(t, repo.RequestCancel(context.Background(), run.ID))

	source := &fakeSource{total: 25}
	sink := &collectSink{}
	err := proc.Process(context.Background(), run, flow, processor.Components{Source: source, Sink: sink}, 10)
	assert.ErrorIs(t, err, processor.ErrRunCancelled)

	// The cancellation was observed before any batch started.
	assert.Empty(t, sink.records)
}

func TestProcess_ContextExpiryIsTransient(t *testing.T) {
	_, proc, flow, run := setupProcessorTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := &fakeSource{total: 25}
	err := proc.Process(ctx, run, flow, processor.Components{Source: source, Sink: &collectSink{}}, 10)
	assert.Error(t, err)
	fe := exception.AsFlowError(err)
	assert.NotNil(t, fe)
	assert.True(t, fe.IsTransient())
}

func TestProcess_EmptySourceTerminates(t *testing.T) {
	repo, proc, flow, run := setupProcessorTest(t)

	source := &fakeSource{total: 0}
	sink := &collectSink{}
	err := proc.Process(context.Background(), run, flow, processor.Components{Source: source, Sink: sink}, 10)
	assert.NoError(t, err)
	assert.Empty(t, sink.records)

	stored, err := repo.FindRunByID(context.Background(), run.ID)
	assert.NoError(t, err)
	assert.True(t, stored.LastCursor.IsZero())
}

func TestProcess_InvalidBatchSizeIsPermanent(t *testing.T) {
	_, proc, flow, run := setupProcessorTest(t)

	err := proc.Process(context.Background(), run, flow, processor.Components{Source: &fakeSource{}, Sink: &collectSink{}}, 0)
	assert.Error(t, err)
	fe := exception.AsFlowError(err)
	assert.NotNil(t, fe)
	assert.True(t, fe.IsPermanent())
}

// dropAllRuntime drops every record. The checkpoint must still advance past
// the read positions, otherwise the run would re-read the dropped records forever.
type dropAllRuntime struct{}

func (dropAllRuntime) Transform(ctx context.Context, records []port.Record) ([]port.Record, error) {
	return nil, nil
}

func TestProcess_RuntimeDroppingAllRecordsStillAdvances(t *testing.T) {
	repo, proc, flow, run := setupProcessorTest(t)

	source := &fakeSource{total: 5}
	sink := &collectSink{}
	err := proc.Process(context.Background(), run, flow, processor.Components{Source: source, Runtime: dropAllRuntime{}, Sink: sink}, 10)
	assert.NoError(t, err)
	assert.Empty(t, sink.records)

	stored, err := repo.FindRunByID(context.Background(), run.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.Cursor("5"), stored.LastCursor)
}
