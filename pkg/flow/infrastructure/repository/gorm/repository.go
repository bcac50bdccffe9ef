// Package gorm provides a GORM-backed implementation of the Repository interface.
// It supports SQLite, PostgreSQL, and MySQL through the dialector registry of
// the database adaptor.
package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	model "github.com/flowmill/flowmill/pkg/flow/core/domain/model"
	repository "github.com/flowmill/flowmill/pkg/flow/core/domain/repository"
	"github.com/flowmill/flowmill/pkg/flow/support/util/exception"
	logger "github.com/flowmill/flowmill/pkg/flow/support/util/logger"
)

const moduleName = "gorm_repository"

// GormRepository implements the repository.Repository interface on a GORM connection.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a new instance of GormRepository.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Close closes the underlying database connection.
func (r *GormRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- FlowRepository implementation ---

// SaveFlow persists a new flow definition.
func (r *GormRepository) SaveFlow(ctx context.Context, flow *model.Flow) error {
	entity := fromDomainFlow(flow)
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return exception.NewTransientError(moduleName, fmt.Sprintf("failed to save Flow (Name: %s)", flow.Name), err)
	}
	return nil
}

// UpdateFlow updates an existing flow definition using optimistic locking.
func (r *GormRepository) UpdateFlow(ctx context.Context, flow *model.Flow) error {
	originalVersion := flow.Version
	flow.Version++
	flow.LastUpdated = time.Now()
	entity := fromDomainFlow(flow)

	res := r.db.WithContext(ctx).
		Model(&flowEntity{}).
		Where("id = ? AND version = ?", entity.ID, originalVersion).
		Updates(entity)
	if res.Error != nil {
		flow.Version = originalVersion
		return exception.NewTransientError(moduleName, fmt.Sprintf("failed to update Flow (Name: %s)", flow.Name), res.Error)
	}
	if res.RowsAffected == 0 {
		flow.Version = originalVersion
		return repository.ErrOptimisticLock
	}
	return nil
}

// FindFlowByID retrieves a flow by its unique ID.
func (r *GormRepository) FindFlowByID(ctx context.Context, id string) (*model.Flow, error) {
	var entity flowEntity
	err := r.db.WithContext(ctx).First(&entity, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrFlowNotFound
	}
	if err != nil {
		return nil, exception.NewTransientError(moduleName, fmt.Sprintf("failed to find Flow (ID: %s)", id), err)
	}
	return toDomainFlow(&entity), nil
}

// FindFlowByName retrieves a flow by its unique name.
func (r *GormRepository) FindFlowByName(ctx context.Context, name string) (*model.Flow, error) {
	var entity flowEntity
	err := r.db.WithContext(ctx).First(&entity, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrFlowNotFound
	}
	if err != nil {
		return nil, exception.NewTransientError(moduleName, fmt.Sprintf("failed to find Flow (Name: %s)", name), err)
	}
	return toDomainFlow(&entity), nil
}

// FindSchedulableFlows returns all flows that are enabled and active.
func (r *GormRepository) FindSchedulableFlows(ctx context.Context) ([]*model.Flow, error) {
	var entities []flowEntity
	err := r.db.WithContext(ctx).
		Where("enabled = ? AND status = ?", true, model.FlowStatusActive.String()).
		Order("name ASC").
		Find(&entities).Error
	if err != nil {
		return nil, exception.NewTransientError(moduleName, "failed to find schedulable flows", err)
	}
	flows := make([]*model.Flow, 0, len(entities))
	for i := range entities {
		flows = append(flows, toDomainFlow(&entities[i]))
	}
	return flows, nil
}

// --- RunRepository implementation ---

// SaveRun persists a new run.
func (r *GormRepository) SaveRun(ctx context.Context, run *model.Run) error {
	entity := fromDomainRun(run)
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return exception.NewTransientError(moduleName, fmt.Sprintf("failed to save Run (ID: %s)", run.ID), err)
	}
	return nil
}

// UpdateRun updates an existing run using optimistic locking.
func (r *GormRepository) UpdateRun(ctx context.Context, run *model.Run) error {
	originalVersion := run.Version
	run.Version++
	run.LastUpdated = time.Now()
	entity := fromDomainRun(run)

	res := r.db.WithContext(ctx).
		Model(&runEntity{}).
		Where("id = ? AND version = ?", entity.ID, originalVersion).
		Select("*").Omit("id", "create_time").
		Updates(entity)
	if res.Error != nil {
		run.Version = originalVersion
		return exception.NewTransientError(moduleName, fmt.Sprintf("failed to update Run (ID: %s)", run.ID), res.Error)
	}
	if res.RowsAffected == 0 {
		run.Version = originalVersion
		return repository.ErrOptimisticLock
	}
	return nil
}

// FindRunByID retrieves a run by its unique ID.
func (r *GormRepository) FindRunByID(ctx context.Context, id string) (*model.Run, error) {
	var entity runEntity
	err := r.db.WithContext(ctx).First(&entity, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrRunNotFound
	}
	if err != nil {
		return nil, exception.NewTransientError(moduleName, fmt.Sprintf("failed to find Run (ID: %s)", id), err)
	}
	return toDomainRun(&entity), nil
}

// FindDueRuns returns pending runs whose run_after is at or before now.
func (r *GormRepository) FindDueRuns(ctx context.Context, now time.Time, limit int) ([]*model.Run, error) {
	var entities []runEntity
	query := r.db.WithContext(ctx).
		Where("status = ? AND run_after <= ?", model.RunStatusPending.String(), now).
		Order("run_after ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&entities).Error; err != nil {
		return nil, exception.NewTransientError(moduleName, "failed to find due runs", err)
	}
	runs := make([]*model.Run, 0, len(entities))
	for i := range entities {
		runs = append(runs, toDomainRun(&entities[i]))
	}
	return runs, nil
}

// FindLatestRunForFlow returns the most recently created run of the flow.
func (r *GormRepository) FindLatestRunForFlow(ctx context.Context, flowID string) (*model.Run, error) {
	var entity runEntity
	err := r.db.WithContext(ctx).
		Where("flow_id = ?", flowID).
		Order("create_time DESC").
		First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrRunNotFound
	}
	if err != nil {
		return nil, exception.NewTransientError(moduleName, fmt.Sprintf("failed to find latest run for flow (ID: %s)", flowID), err)
	}
	return toDomainRun(&entity), nil
}

// CountInProgressByKey returns the number of in-progress runs holding the given concurrency key.
func (r *GormRepository) CountInProgressByKey(ctx context.Context, key string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&runEntity{}).
		Where("status = ? AND concurrency_key = ?", model.RunStatusInProgress.String(), key).
		Count(&count).Error
	if err != nil {
		return 0, exception.NewTransientError(moduleName, fmt.Sprintf("failed to count in-progress runs for key '%s'", key), err)
	}
	return count, nil
}

// ClaimRun atomically transitions a pending run to in-progress on behalf of
// workerID. The claim runs in one transaction: it first takes a row lock on
// the concurrency key, then counts in-progress runs under that key, then flips
// the run with a status and version CAS. The key lock serializes competing
// claims under the same key, so two workers claiming different runs can never
// both read a count below the limit: READ COMMITTED engines re-snapshot
// between statements and a bare count subquery is not enough there. SQLite
// rejects FOR UPDATE but serializes writing transactions wholesale, which
// gives the same guarantee without the lock.
func (r *GormRepository) ClaimRun(ctx context.Context, run *model.Run, workerID string, concurrencyKey string, limit int) error {
	now := time.Now()
	claimErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if limit > 0 {
			if err := lockConcurrencyKey(tx, concurrencyKey); err != nil {
				return err
			}
			var busy int64
			err := tx.Model(&runEntity{}).
				Where("status = ? AND concurrency_key = ?", model.RunStatusInProgress.String(), concurrencyKey).
				Count(&busy).Error
			if err != nil {
				return exception.NewTransientError(moduleName, fmt.Sprintf("failed to count in-progress runs for key '%s'", concurrencyKey), err)
			}
			if busy >= int64(limit) {
				return repository.ErrConcurrencyLimitReached
			}
		}

		res := tx.Model(&runEntity{}).
			Where("id = ? AND status = ? AND version = ?", run.ID, model.RunStatusPending.String(), run.Version).
			Updates(map[string]interface{}{
				"status":          model.RunStatusInProgress.String(),
				"claimed_by":      workerID,
				"claimed_at":      now,
				"started_at":      now,
				"concurrency_key": concurrencyKey,
				"last_updated":    now,
				"version":         gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return exception.NewTransientError(moduleName, fmt.Sprintf("failed to claim Run (ID: %s)", run.ID), res.Error)
		}
		if res.RowsAffected == 0 {
			var exists int64
			if err := tx.Model(&runEntity{}).Where("id = ?", run.ID).Count(&exists).Error; err != nil {
				return exception.NewTransientError(moduleName, fmt.Sprintf("failed to verify Run (ID: %s)", run.ID), err)
			}
			if exists == 0 {
				return repository.ErrRunNotFound
			}
			return repository.ErrRunAlreadyClaimed
		}
		return nil
	})
	if claimErr != nil {
		if errors.Is(claimErr, repository.ErrConcurrencyLimitReached) {
			logger.Debugf("Claim of run '%s' blocked: concurrency limit reached for key '%s'.", run.ID, concurrencyKey)
		}
		return claimErr
	}

	claimed, err := r.FindRunByID(ctx, run.ID)
	if err != nil {
		return err
	}
	*run = *claimed
	return nil
}

// lockConcurrencyKey takes a row lock on the concurrency key, creating the row
// first if this key has never been claimed under. The lock is held until the
// surrounding transaction ends.
func lockConcurrencyKey(tx *gorm.DB, key string) error {
	entity := concurrencyKeyEntity{KeyName: key, CreateTime: time.Now()}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entity).Error; err != nil {
		return exception.NewTransientError(moduleName, fmt.Sprintf("failed to ensure concurrency key '%s'", key), err)
	}
	if tx.Dialector.Name() == "sqlite" {
		// SQLite has no FOR UPDATE; its single-writer transactions already
		// serialize the claim against other writers.
		return nil
	}
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("key_name = ?", key).
		First(&concurrencyKeyEntity{}).Error
	if err != nil {
		return exception.NewTransientError(moduleName, fmt.Sprintf("failed to lock concurrency key '%s'", key), err)
	}
	return nil
}

// UpdateRunCheckpoint atomically persists a new cursor position and adds
// recordsDelta to the processed-record count of the run. The single UPDATE
// makes the cursor and the counter land together or not at all. Checkpoints
// also refresh the claim lease. The row is read back into run afterwards so
// the claim holder's version tracks the stored one across checkpoints.
func (r *GormRepository) UpdateRunCheckpoint(ctx context.Context, run *model.Run, cursor model.Cursor, recordsDelta int64) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Exec(`
		UPDATE flow_runs
		SET last_cursor = ?,
		    first_cursor = CASE WHEN first_cursor = '' THEN ? ELSE first_cursor END,
		    records_processed = records_processed + ?,
		    claimed_at = ?,
		    last_updated = ?,
		    version = version + 1
		WHERE id = ?`,
		cursor.String(), cursor.String(), recordsDelta, now, now, run.ID,
	)
	if res.Error != nil {
		return exception.NewTransientError(moduleName, fmt.Sprintf("failed to checkpoint Run (ID: %s)", run.ID), res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrRunNotFound
	}

	current, err := r.FindRunByID(ctx, run.ID)
	if err != nil {
		return err
	}
	*run = *current
	return nil
}

// RequestCancel flags a run for cancellation. Pending runs transition to
// cancelled immediately; in-progress runs are flagged for the executor to
// observe at the next batch boundary.
func (r *GormRepository) RequestCancel(ctx context.Context, runID string) error {
	now := time.Now()

	// Pending runs are cancelled directly.
	res := r.db.WithContext(ctx).
		Model(&runEntity{}).
		Where("id = ? AND status = ?", runID, model.RunStatusPending.String()).
		Updates(map[string]interface{}{
			"status":       model.RunStatusCancelled.String(),
			"ended_at":     now,
			"last_updated": now,
			"version":      gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return exception.NewTransientError(moduleName, fmt.Sprintf("failed to cancel Run (ID: %s)", runID), res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// In-progress runs get the flag; the executor transitions them at the next boundary.
	res = r.db.WithContext(ctx).
		Model(&runEntity{}).
		Where("id = ? AND status = ?", runID, model.RunStatusInProgress.String()).
		Updates(map[string]interface{}{
			"cancel_requested": true,
			"last_updated":     now,
			"version":          gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return exception.NewTransientError(moduleName, fmt.Sprintf("failed to flag Run (ID: %s) for cancellation", runID), res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// Neither pending nor in-progress: verify the run exists, terminal runs are left alone.
	if _, err := r.FindRunByID(ctx, runID); err != nil {
		return err
	}
	return nil
}

// RequeueStaleClaims returns in-progress runs whose claim lease expired before
// the deadline back to pending, so another worker can resume them from the
// last checkpoint.
func (r *GormRepository) RequeueStaleClaims(ctx context.Context, deadline time.Time) (int64, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&runEntity{}).
		Where("status = ? AND claimed_at IS NOT NULL AND claimed_at <= ?", model.RunStatusInProgress.String(), deadline).
		Updates(map[string]interface{}{
			"status":           model.RunStatusPending.String(),
			"claimed_by":       "",
			"claimed_at":       nil,
			"resumption_count": gorm.Expr("resumption_count + 1"),
			"last_updated":     now,
			"version":          gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return 0, exception.NewTransientError(moduleName, "failed to requeue stale claims", res.Error)
	}
	if res.RowsAffected > 0 {
		logger.Infof("Requeued %d stale run claim(s) older than %s.", res.RowsAffected, deadline.Format(time.RFC3339))
	}
	return res.RowsAffected, nil
}

// --- ErrorRecordRepository implementation ---

// SaveErrorRecord persists a failure occurrence.
func (r *GormRepository) SaveErrorRecord(ctx context.Context, record *model.ErrorRecord) error {
	entity := fromDomainErrorRecord(record)
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return exception.NewTransientError(moduleName, fmt.Sprintf("failed to save ErrorRecord (ID: %s)", record.ID), err)
	}
	return nil
}

// FindErrorRecordsByFlow returns the failure occurrences of a flow, newest first.
func (r *GormRepository) FindErrorRecordsByFlow(ctx context.Context, flowID string, limit int) ([]*model.ErrorRecord, error) {
	var entities []errorRecordEntity
	query := r.db.WithContext(ctx).
		Where("flow_id = ?", flowID).
		Order("occurred_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&entities).Error; err != nil {
		return nil, exception.NewTransientError(moduleName, fmt.Sprintf("failed to find error records for flow (ID: %s)", flowID), err)
	}
	records := make([]*model.ErrorRecord, 0, len(entities))
	for i := range entities {
		records = append(records, toDomainErrorRecord(&entities[i]))
	}
	return records, nil
}

// PurgeErrorRecordsBefore deletes records older than the cutoff.
func (r *GormRepository) PurgeErrorRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("occurred_at < ?", cutoff).
		Delete(&errorRecordEntity{})
	if res.Error != nil {
		return 0, exception.NewTransientError(moduleName, "failed to purge error records", res.Error)
	}
	return res.RowsAffected, nil
}

// Verify interfaces
var _ repository.Repository = (*GormRepository)(nil)
