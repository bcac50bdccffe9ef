package inmemory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/flowmill/flowmill/pkg/flow/core/domain/model"
	"github.com/flowmill/flowmill/pkg/flow/core/domain/repository"
)

// SaveRun persists a new Run.
// It returns an error if a Run with the same ID already exists.
func (r *InMemoryRepository) SaveRun(ctx context.Context, run *model.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[run.ID]; exists {
		return fmt.Errorf("Run with ID %s already exists", run.ID)
	}
	// Deep copy to prevent external modification of internal state.
	cloned := *run
	r.runs[run.ID] = &cloned
	return nil
}

// UpdateRun updates an existing Run using optimistic locking.
// It returns ErrOptimisticLock if the stored version does not match.
func (r *InMemoryRepository) UpdateRun(ctx context.Context, run *model.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.runs[run.ID]
	if !exists {
		return repository.ErrRunNotFound
	}
	if stored.Version != run.Version {
		return repository.ErrOptimisticLock
	}
	cloned := *run
	cloned.Version = run.Version + 1
	cloned.LastUpdated = time.Now()
	r.runs[run.ID] = &cloned
	run.Version = cloned.Version
	return nil
}

// FindRunByID finds a Run by its ID.
func (r *InMemoryRepository) FindRunByID(ctx context.Context, id string) (*model.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, repository.ErrRunNotFound
	}
	cloned := *run
	return &cloned, nil
}

// FindDueRuns returns pending runs whose run_after is at or before now,
// ordered by run_after ascending, up to limit rows.
func (r *InMemoryRepository) FindDueRuns(ctx context.Context, now time.Time, limit int) ([]*model.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var due []*model.Run
	for _, run := range r.runs {
		if run.Status == model.RunStatusPending && !run.RunAfter.After(now) {
			cloned := *run
			due = append(due, &cloned)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAfter.Before(due[j].RunAfter) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// FindLatestRunForFlow returns the most recently created run of the flow.
func (r *InMemoryRepository) FindLatestRunForFlow(ctx context.Context, flowID string) (*model.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *model.Run
	for _, run := range r.runs {
		if run.FlowID != flowID {
			continue
		}
		if latest == nil || run.CreateTime.After(latest.CreateTime) {
			latest = run
		}
	}
	if latest == nil {
		return nil, repository.ErrRunNotFound
	}
	cloned := *latest
	return &cloned, nil
}

// CountInProgressByKey returns the number of in-progress runs holding the given concurrency key.
func (r *InMemoryRepository) CountInProgressByKey(ctx context.Context, key string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.countInProgressLocked(key), nil
}

// countInProgressLocked counts in-progress runs for a key. Callers must hold the mutex.
func (r *InMemoryRepository) countInProgressLocked(key string) int64 {
	var count int64
	for _, run := range r.runs {
		if run.Status == model.RunStatusInProgress && run.ConcurrencyKey == key {
			count++
		}
	}
	return count
}

// ClaimRun atomically transitions a pending run to in-progress on behalf of workerID.
// The mutex is held across the limit check and the status change, so concurrent
// claims can never overshoot the limit: exactly one caller wins each run and the
// in-progress count per key never exceeds the limit.
func (r *InMemoryRepository) ClaimRun(ctx context.Context, run *model.Run, workerID string, concurrencyKey string, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.runs[run.ID]
	if !exists {
		return repository.ErrRunNotFound
	}
	if stored.Status != model.RunStatusPending || stored.Version != run.Version {
		return repository.ErrRunAlreadyClaimed
	}
	if limit > 0 && r.countInProgressLocked(concurrencyKey) >= int64(limit) {
		return repository.ErrConcurrencyLimitReached
	}

	claimed := *stored
	if err := claimed.MarkAsStarted(workerID); err != nil {
		return err
	}
	claimed.ConcurrencyKey = concurrencyKey
	claimed.Version = stored.Version + 1
	r.runs[run.ID] = &claimed

	// Refresh the caller's copy with the claimed state.
	*run = claimed
	return nil
}

// UpdateRunCheckpoint atomically persists a new cursor position and adds
// recordsDelta to the processed-record count of the run.
func (r *InMemoryRepository) UpdateRunCheckpoint(ctx context.Context, run *model.Run, cursor model.Cursor, recordsDelta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.runs[run.ID]
	if !exists {
		return repository.ErrRunNotFound
	}
	updated := *stored
	if err := updated.AdvanceCursor(cursor, recordsDelta); err != nil {
		return err
	}
	// Checkpoints refresh the claim lease.
	now := time.Now()
	updated.ClaimedAt = &now
	updated.Version = stored.Version + 1
	r.runs[run.ID] = &updated

	// Refresh the caller's copy so its version tracks the stored row.
	*run = updated
	return nil
}

// RequestCancel flags a run for cancellation. Pending runs transition to
// cancelled immediately; in-progress runs are flagged for the executor to
// observe at the next batch boundary.
func (r *InMemoryRepository) RequestCancel(ctx context.Context, runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.runs[runID]
	if !exists {
		return repository.ErrRunNotFound
	}
	updated := *stored
	switch updated.Status {
	case model.RunStatusPending:
		updated.MarkAsCancelled()
	case model.RunStatusInProgress:
		updated.CancelRequested = true
		updated.LastUpdated = time.Now()
	default:
		// Terminal runs are left as they are.
		return nil
	}
	updated.Version = stored.Version + 1
	r.runs[runID] = &updated
	return nil
}

// RequeueStaleClaims returns in-progress runs whose claim lease expired before
// the deadline back to pending, so another worker can resume them from the
// last checkpoint.
func (r *InMemoryRepository) RequeueStaleClaims(ctx context.Context, deadline time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var requeued int64
	for id, run := range r.runs {
		if run.Status != model.RunStatusInProgress {
			continue
		}
		if run.ClaimedAt == nil || run.ClaimedAt.After(deadline) {
			continue
		}
		updated := *run
		updated.Status = model.RunStatusPending
		updated.ClaimedBy = ""
		updated.ClaimedAt = nil
		updated.ResumptionCount++
		updated.LastUpdated = time.Now()
		updated.Version = run.Version + 1
		r.runs[id] = &updated
		requeued++
	}
	return requeued, nil
}
