package inmemory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/flowmill/flowmill/pkg/flow/core/domain/model"
)

// SaveErrorRecord persists a failure occurrence.
func (r *InMemoryRepository) SaveErrorRecord(ctx context.Context, record *model.ErrorRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.errorRecords[record.ID]; exists {
		return fmt.Errorf("ErrorRecord with ID %s already exists", record.ID)
	}
	cloned := *record
	r.errorRecords[record.ID] = &cloned
	return nil
}

// FindErrorRecordsByFlow returns the failure occurrences of a flow, newest first.
func (r *InMemoryRepository) FindErrorRecordsByFlow(ctx context.Context, flowID string, limit int) ([]*model.ErrorRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []*model.ErrorRecord
	for _, record := range r.errorRecords {
		if record.FlowID == flowID {
			cloned := *record
			records = append(records, &cloned)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].OccurredAt.After(records[j].OccurredAt) })
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// PurgeErrorRecordsBefore deletes records older than the cutoff.
func (r *InMemoryRepository) PurgeErrorRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var purged int64
	for id, record := range r.errorRecords {
		if record.OccurredAt.Before(cutoff) {
			delete(r.errorRecords, id)
			purged++
		}
	}
	return purged, nil
}
