package inmemory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	model "github.com/flowmill/flowmill/pkg/flow/core/domain/model"
	"github.com/flowmill/flowmill/pkg/flow/core/domain/repository"
	"github.com/flowmill/flowmill/pkg/flow/engine/limiter"
	"github.com/flowmill/flowmill/pkg/flow/infrastructure/repository/inmemory"
)

func newTestFlow(name string) *model.Flow {
	flow := model.NewFlow(
		name,
		60,
		model.ComponentConfig{Kind: "sequence", Params: map[string]interface{}{"count": 10}},
		model.ComponentConfig{Kind: "memory", Params: map[string]interface{}{"name": name}},
	)
	_ = flow.Activate()
	return flow
}

func savePendingRun(t *testing.T, repo *inmemory.InMemoryRepository, flow *model.Flow, key string) *model.Run {
	t.Helper()
	run := model.NewRun(flow, time.Now().Add(-time.Second), 1, key)
	assert.NoError(t, repo.SaveRun(context.Background(), run))
	return run
}

func TestInMemoryRepository_FlowLifecycle(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	ctx := context.Background()
	flow := newTestFlow("orders")

	assert.NoError(t, repo.SaveFlow(ctx, flow))

	// Duplicate names are rejected.
	duplicate := newTestFlow("orders")
	assert.Error(t, repo.SaveFlow(ctx, duplicate))

	found, err := repo.FindFlowByName(ctx, "orders")
	assert.NoError(t, err)
	assert.Equal(t, flow.ID, found.ID)

	_, err = repo.FindFlowByName(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrFlowNotFound)

	// Optimistic locking on updates.
	found.Enabled = false
	assert.NoError(t, repo.UpdateFlow(ctx, found))
	assert.Equal(t, 1, found.Version)

	stale := *flow // still version 0
	err = repo.UpdateFlow(ctx, &stale)
	assert.ErrorIs(t, err, repository.ErrOptimisticLock)
}

func TestInMemoryRepository_FindDueRuns(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	ctx := context.Background()
	flow := newTestFlow("orders")
	now := time.Now()

	early := model.NewRun(flow, now.Add(-2*time.Minute), 1, "flow:orders")
	late := model.NewRun(flow, now.Add(-1*time.Minute), 1, "flow:orders")
	future := model.NewRun(flow, now.Add(time.Hour), 1, "flow:orders")
	assert.NoError(t, repo.SaveRun(ctx, late))
	assert.NoError(t, repo.SaveRun(ctx, early))
	assert.NoError(t, repo.SaveRun(ctx, future))

	due, err := repo.FindDueRuns(ctx, now, 10)
	assert.NoError(t, err)
	assert.Len(t, due, 2)
	// Ordered by run_after ascending.
	assert.Equal(t, early.ID, due[0].ID)
	assert.Equal(t, late.ID, due[1].ID)

	// Limit caps the batch.
	due, err = repo.FindDueRuns(ctx, now, 1)
	assert.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestInMemoryRepository_ClaimRun_ExactlyOneWinner(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	ctx := context.Background()
	flow := newTestFlow("orders")
	run := savePendingRun(t, repo, flow, "flow:orders")

	const workers = 16
	var wg sync.WaitGroup
	var winsMu sync.Mutex
	wins := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			candidate := *run
			if err := repo.ClaimRun(ctx, &candidate, workerID, "flow:orders", 0); err == nil {
				winsMu.Lock()
				wins++
				winsMu.Unlock()
			}
		}("worker-" + string(rune('a'+i)))
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one worker must win the claim")

	stored, err := repo.FindRunByID(ctx, run.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.RunStatusInProgress, stored.Status)
	assert.NotEmpty(t, stored.ClaimedBy)
	assert.Equal(t, 1, stored.Version)
}

func TestInMemoryRepository_ClaimRun_ConcurrencyLimit(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	ctx := context.Background()
	flow := newTestFlow("orders")

	first := savePendingRun(t, repo, flow, "flow:orders")
	second := savePendingRun(t, repo, flow, "flow:orders")

	assert.NoError(t, repo.ClaimRun(ctx, first, "worker-1", "flow:orders", 1))

	// The limit counts in-progress runs under the same key.
	err := repo.ClaimRun(ctx, second, "worker-1", "flow:orders", 1)
	assert.ErrorIs(t, err, repository.ErrConcurrencyLimitReached)

	// A different key is not affected.
	other := savePendingRun(t, repo, flow, "group:exports")
	assert.NoError(t, repo.ClaimRun(ctx, other, "worker-1", "group:exports", 1))

	// Zero means unlimited.
	third := savePendingRun(t, repo, flow, "flow:orders")
	assert.NoError(t, repo.ClaimRun(ctx, third, "worker-1", "flow:orders", 0))
}

func TestInMemoryRepository_ClaimRun_UndeclaredLimitSingleFlight(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	ctx := context.Background()
	// The flow declares no concurrency settings, so the limiter derives the
	// single-flight default: two due runs must never execute side by side.
	flow := newTestFlow("orders")
	key := limiter.KeyFor(flow)
	limit := limiter.LimitFor(flow)

	first := savePendingRun(t, repo, flow, key)
	second := savePendingRun(t, repo, flow, key)

	assert.NoError(t, repo.ClaimRun(ctx, first, "worker-1", key, limit))
	err := repo.ClaimRun(ctx, second, "worker-2", key, limit)
	assert.ErrorIs(t, err, repository.ErrConcurrencyLimitReached)
}

func TestInMemoryRepository_ClaimRun_GroupLimitSharedAcrossFlows(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	ctx := context.Background()
	ordersFlow := newTestFlow("orders")
	usersFlow := newTestFlow("users")

	ordersRun := savePendingRun(t, repo, ordersFlow, "group:exports")
	usersRun := savePendingRun(t, repo, usersFlow, "group:exports")

	assert.NoError(t, repo.ClaimRun(ctx, ordersRun, "worker-1", "group:exports", 1))

	// The pooled group limit blocks the other flow's run.
	err := repo.ClaimRun(ctx, usersRun, "worker-1", "group:exports", 1)
	assert.ErrorIs(t, err, repository.ErrConcurrencyLimitReached)
}

func TestInMemoryRepository_ClaimRun_StaleVersionLosesRace(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	ctx := context.Background()
	flow := newTestFlow("orders")
	run := savePendingRun(t, repo, flow, "flow:orders")

	snapshot := *run
	assert.NoError(t, repo.ClaimRun(ctx, run, "worker-1", "flow:orders", 0))

	err := repo.ClaimRun(ctx, &snapshot, "worker-2", "flow:orders", 0)
	assert.ErrorIs(t, err, repository.ErrRunAlreadyClaimed)
}

func TestInMemoryRepository_UpdateRunCheckpoint(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	ctx := context.Background()
	flow := newTestFlow("orders")
	run := savePendingRun(t, repo, flow, "flow:orders")
	assert.NoError(t, repo.ClaimRun(ctx, run, "worker-1", "flow:orders", 0))
	claimedAt := *run.ClaimedAt

	assert.NoError(t, repo.UpdateRunCheckpoint(ctx, run, model.Cursor("50"), 50))
	assert.NoError(t, repo.UpdateRunCheckpoint(ctx, run, model.Cursor("100"), 50))

	stored, err := repo.FindRunByID(ctx, run.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.Cursor("50"), stored.FirstCursor)
	assert.Equal(t, model.Cursor("100"), stored.LastCursor)
	assert.Equal(t, int64(100), stored.RecordsProcessed)
	// Checkpoints refresh the claim lease.
	assert.False(t, stored.ClaimedAt.Before(claimedAt))

	// Checkpoints refresh the caller's copy, so a subsequent versioned update
	// by the claim holder still succeeds.
	assert.Equal(t, stored.Version, run.Version)
	assert.NoError(t, repo.UpdateRun(ctx, run))
}

func TestInMemoryRepository_UpdateRun_OptimisticLock(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	ctx := context.Background()
	flow := newTestFlow("orders")
	run := savePendingRun(t, repo, flow, "flow:orders")

	fresh := *run
	assert.NoError(t, repo.UpdateRun(ctx, &fresh))
	assert.Equal(t, 1, fresh.Version)

	stale := *run // version 0
	err := repo.UpdateRun(ctx, &stale)
	assert.ErrorIs(t, err, repository.ErrOptimisticLock)
}

func TestInMemoryRepository_RequestCancel(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	ctx := context.Background()
	flow := newTestFlow("orders")

	// A pending run is cancelled directly.
	pending := savePendingRun(t, repo, flow, "flow:orders")
	assert.NoError(t, repo.RequestCancel(ctx, pending.ID))
	stored, err := repo.FindRunByID(ctx, pending.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, stored.Status)

	// An in-progress run is only flagged; the executor observes the flag
	// at the next batch boundary.
	inProgress := savePendingRun(t, repo, flow, "flow:orders")
	assert.NoError(t, repo.ClaimRun(ctx, inProgress, "worker-1", "flow:orders", 0))
	assert.NoError(t, repo.RequestCancel(ctx, inProgress.ID))
	stored, err = repo.FindRunByID(ctx, inProgress.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.RunStatusInProgress, stored.Status)
	assert.True(t, stored.CancelRequested)

	// Cancelling a terminal run is a no-op.
	assert.NoError(t, repo.RequestCancel(ctx, pending.ID))
	assert.ErrorIs(t, repo.RequestCancel(ctx, "missing"), repository.ErrRunNotFound)
}

func TestInMemoryRepository_RequeueStaleClaims(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	ctx := context.Background()
	flow := newTestFlow("orders")

	stale := savePendingRun(t, repo, flow, "flow:orders")
	assert.NoError(t, repo.ClaimRun(ctx, stale, "worker-dead", "flow:orders", 0))
	assert.NoError(t, repo.UpdateRunCheckpoint(ctx, stale, model.Cursor("42"), 42))

	fresh := savePendingRun(t, repo, flow, "flow:orders")
	assert.NoError(t, repo.ClaimRun(ctx, fresh, "worker-alive", "flow:orders", 0))

	// Only claims older than the deadline are requeued.
	requeued, err := repo.RequeueStaleClaims(ctx, time.Now().Add(time.Minute))
	assert.NoError(t, err)
	assert.Equal(t, int64(2), requeued)

	stored, err := repo.FindRunByID(ctx, stale.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.RunStatusPending, stored.Status)
	assert.Empty(t, stored.ClaimedBy)
	assert.Nil(t, stored.ClaimedAt)
	assert.Equal(t, 1, stored.ResumptionCount)
	// The checkpoint survives the requeue so the next worker resumes from it.
	assert.Equal(t, model.Cursor("42"), stored.LastCursor)
	assert.Equal(t, int64(42), stored.RecordsProcessed)

	// Nothing left to requeue with a past deadline.
	requeued, err = repo.RequeueStaleClaims(ctx, time.Now().Add(-time.Hour))
	assert.NoError(t, err)
	assert.Equal(t, int64(0), requeued)
}

func TestInMemoryRepository_ErrorRecords(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	ctx := context.Background()
	flow := newTestFlow("orders")
	run := savePendingRun(t, repo, flow, "flow:orders")

	record := model.NewErrorRecord(run, "executor", "boom", "transient")
	assert.NoError(t, repo.SaveErrorRecord(ctx, record))

	old := model.NewErrorRecord(run, "executor", "old failure", "unknown")
	old.OccurredAt = time.Now().Add(-48 * time.Hour)
	assert.NoError(t, repo.SaveErrorRecord(ctx, old))

	records, err := repo.FindErrorRecordsByFlow(ctx, flow.ID, 0)
	assert.NoError(t, err)
	assert.Len(t, records, 2)
	// Newest first.
	assert.Equal(t, record.ID, records[0].ID)

	purged, err := repo.PurgeErrorRecordsBefore(ctx, time.Now().Add(-24*time.Hour))
	assert.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	records, err = repo.FindErrorRecordsByFlow(ctx, flow.ID, 0)
	assert.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestInMemoryRepository_DeepCopySemantics(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	ctx := context.Background()
	flow := newTestFlow("orders")
	run := savePendingRun(t, repo, flow, "flow:orders")

	// Mutating a returned copy must not leak into the store.
	found, err := repo.FindRunByID(ctx, run.ID)
	assert.NoError(t, err)
	found.Status = model.RunStatusFailed

	stored, err := repo.FindRunByID(ctx, run.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.RunStatusPending, stored.Status)
}

func TestInMemoryRepository_FindLatestRunForFlow(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	ctx := context.Background()
	flow := newTestFlow("orders")

	first := model.NewRun(flow, time.Now(), 1, "flow:orders")
	first.CreateTime = time.Now().Add(-time.Hour)
	assert.NoError(t, repo.SaveRun(ctx, first))

	second := model.NewRun(flow, time.Now(), 2, "flow:orders")
	assert.NoError(t, repo.SaveRun(ctx, second))

	latest, err := repo.FindLatestRunForFlow(ctx, flow.ID)
	assert.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	_, err = repo.FindLatestRunForFlow(ctx, "missing")
	assert.True(t, errors.Is(err, repository.ErrRunNotFound))
}
