// Package repository defines the persistence contracts for flows, runs, and
// error records. Implementations live under infrastructure/repository.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/flowmill/flowmill/pkg/flow/core/domain/model"
	"github.com/flowmill/flowmill/pkg/flow/support/util/exception"
)

// ErrFlowNotFound is returned when the specified flow does not exist.
var ErrFlowNotFound = errors.New("flow not found")

// ErrRunNotFound is returned when the specified run does not exist.
var ErrRunNotFound = errors.New("run not found")

// ErrRunAlreadyClaimed is returned when a claim races another worker and loses.
// Losing a claim race is normal operation, not a failure.
var ErrRunAlreadyClaimed = errors.New("run already claimed by another worker")

// ErrConcurrencyLimitReached is returned when claiming a run would exceed the
// in-progress limit for its concurrency key. The run stays pending and is
// retried on a later scheduler pass.
var ErrConcurrencyLimitReached = errors.New("concurrency limit reached for key")

// ErrOptimisticLock is returned when a versioned update found a stale row.
var ErrOptimisticLock = errors.New("optimistic locking failure: run was modified concurrently")

func init() {
	exception.RegisterErrorType("FlowNotFoundException", ErrFlowNotFound)
	exception.RegisterErrorType("RunNotFoundException", ErrRunNotFound)
	exception.RegisterErrorType("RunAlreadyClaimedException", ErrRunAlreadyClaimed)
	exception.RegisterErrorType("ConcurrencyLimitException", ErrConcurrencyLimitReached)
	exception.RegisterErrorType("OptimisticLockingFailureException", ErrOptimisticLock)
}

// FlowRepository defines the persistence operations for flow definitions.
type FlowRepository interface {
	// SaveFlow persists a new flow definition.
	SaveFlow(ctx context.Context, flow *model.Flow) error
	// UpdateFlow updates an existing flow definition using optimistic locking.
	UpdateFlow(ctx context.Context, flow *model.Flow) error
	// FindFlowByID retrieves a flow by its unique ID.
	// Returns ErrFlowNotFound if the flow does not exist.
	FindFlowByID(ctx context.Context, id string) (*model.Flow, error)
	// FindFlowByName retrieves a flow by its unique name.
	// Returns ErrFlowNotFound if the flow does not exist.
	FindFlowByName(ctx context.Context, name string) (*model.Flow, error)
	// FindSchedulableFlows returns all flows that are enabled and active.
	FindSchedulableFlows(ctx context.Context) ([]*model.Flow, error)
}

// RunRepository defines the persistence operations for runs, including the
// atomic claim protocol used by competing scheduler instances.
type RunRepository interface {
	// SaveRun persists a new run.
	SaveRun(ctx context.Context, run *model.Run) error
	// UpdateRun updates an existing run using optimistic locking.
	// Returns ErrOptimisticLock if the stored version does not match.
	UpdateRun(ctx context.Context, run *model.Run) error
	// FindRunByID retrieves a run by its unique ID.
	// Returns ErrRunNotFound if the run does not exist.
	FindRunByID(ctx context.Context, id string) (*model.Run, error)
	// FindDueRuns returns pending runs whose run_after is at or before now,
	// ordered by run_after ascending, up to limit rows.
	FindDueRuns(ctx context.Context, now time.Time, limit int) ([]*model.Run, error)
	// FindLatestRunForFlow returns the most recently created run of the flow,
	// or ErrRunNotFound if the flow has never run.
	FindLatestRunForFlow(ctx context.Context, flowID string) (*model.Run, error)
	// CountInProgressByKey returns the number of in-progress runs holding the
	// given concurrency key.
	CountInProgressByKey(ctx context.Context, key string) (int64, error)

	// ClaimRun atomically transitions a pending run to in-progress on behalf of
	// workerID, but only while the number of in-progress runs holding
	// concurrencyKey stays below limit (limit <= 0 means unlimited). The
	// limit check and the claim are indivisible: no interleaving of concurrent
	// claims can overshoot the limit.
	//
	// Returns ErrRunAlreadyClaimed if another worker won the race, and
	// ErrConcurrencyLimitReached if the run must wait for capacity.
	// On success the passed run is refreshed with the claimed state.
	ClaimRun(ctx context.Context, run *model.Run, workerID string, concurrencyKey string, limit int) error

	// UpdateRunCheckpoint atomically persists a new cursor position and adds
	// recordsDelta to the processed-record count of the run. Either both land
	// or neither does. On success the passed run is refreshed with the stored
	// state, so the claim holder's version never drifts from the row it owns.
	UpdateRunCheckpoint(ctx context.Context, run *model.Run, cursor model.Cursor, recordsDelta int64) error

	// RequestCancel flags a run for cancellation. Pending runs transition to
	// cancelled immediately; in-progress runs are flagged and observed by the
	// executor at the next batch boundary.
	RequestCancel(ctx context.Context, runID string) error

	// RequeueStaleClaims returns in-progress runs whose claim lease expired
	// before the deadline back to pending, so another worker can resume them
	// from the last checkpoint. It returns the number of requeued runs.
	RequeueStaleClaims(ctx context.Context, deadline time.Time) (int64, error)
}

// ErrorRecordRepository defines the persistence operations for failure occurrences.
type ErrorRecordRepository interface {
	// SaveErrorRecord persists a failure occurrence.
	SaveErrorRecord(ctx context.Context, record *model.ErrorRecord) error
	// FindErrorRecordsByFlow returns the failure occurrences of a flow, newest first.
	FindErrorRecordsByFlow(ctx context.Context, flowID string, limit int) ([]*model.ErrorRecord, error)
	// PurgeErrorRecordsBefore deletes records older than the cutoff and returns
	// the number deleted.
	PurgeErrorRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Repository is the aggregate persistence interface the engine depends on.
type Repository interface {
	FlowRepository
	RunRepository
	ErrorRecordRepository

	// Close releases any resources held by the repository.
	Close() error
}
