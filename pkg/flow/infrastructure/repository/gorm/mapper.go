package gorm

import (
	"encoding/json"

	model "github.com/flowmill/flowmill/pkg/flow/core/domain/model"
	logger "github.com/flowmill/flowmill/pkg/flow/support/util/logger"
)

// fromDomainFlow converts a domain Flow to its persistence entity.
func fromDomainFlow(flow *model.Flow) *flowEntity {
	retrySpec := ""
	if !flow.Retry.IsZero() {
		data, err := json.Marshal(flow.Retry)
		if err != nil {
			logger.Warnf("Failed to serialize retry spec for flow '%s': %v", flow.Name, err)
		} else {
			retrySpec = string(data)
		}
	}
	return &flowEntity{
		ID:                    flow.ID,
		Name:                  flow.Name,
		Enabled:               flow.Enabled,
		Status:                flow.Status.String(),
		IntervalSeconds:       flow.IntervalSeconds,
		ConcurrencyLimit:      flow.ConcurrencyLimit,
		ConcurrencyGroup:      flow.ConcurrencyGroup,
		ConcurrencyGroupLimit: flow.ConcurrencyGroupLimit,
		Source:                flow.Source,
		Runtime:               flow.Runtime,
		Sink:                  flow.Sink,
		BatchSize:             flow.BatchSize,
		MaxResumptions:        flow.MaxResumptions,
		RetrySpec:             retrySpec,
		CreateTime:            flow.CreateTime,
		LastUpdated:           flow.LastUpdated,
		Version:               flow.Version,
	}
}

// toDomainFlow converts a persistence entity to a domain Flow.
func toDomainFlow(entity *flowEntity) *model.Flow {
	var retrySpec model.RetryPolicySpec
	if entity.RetrySpec != "" {
		if err := json.Unmarshal([]byte(entity.RetrySpec), &retrySpec); err != nil {
			logger.Warnf("Failed to deserialize retry spec for flow '%s': %v", entity.Name, err)
		}
	}
	return &model.Flow{
		ID:                    entity.ID,
		Name:                  entity.Name,
		Enabled:               entity.Enabled,
		Status:                model.FlowStatus(entity.Status),
		IntervalSeconds:       entity.IntervalSeconds,
		ConcurrencyLimit:      entity.ConcurrencyLimit,
		ConcurrencyGroup:      entity.ConcurrencyGroup,
		ConcurrencyGroupLimit: entity.ConcurrencyGroupLimit,
		Source:                entity.Source,
		Runtime:               entity.Runtime,
		Sink:                  entity.Sink,
		BatchSize:             entity.BatchSize,
		MaxResumptions:        entity.MaxResumptions,
		Retry:                 retrySpec,
		CreateTime:            entity.CreateTime,
		LastUpdated:           entity.LastUpdated,
		Version:               entity.Version,
	}
}

// fromDomainRun converts a domain Run to its persistence entity.
func fromDomainRun(run *model.Run) *runEntity {
	return &runEntity{
		ID:               run.ID,
		FlowID:           run.FlowID,
		FlowName:         run.FlowName,
		Status:           run.Status.String(),
		Attempt:          run.Attempt,
		RunAfter:         run.RunAfter,
		StartedAt:        run.StartedAt,
		EndedAt:          run.EndedAt,
		ErrorMessage:     run.ErrorMessage,
		ErrorClass:       run.ErrorClass,
		FirstCursor:      run.FirstCursor.String(),
		LastCursor:       run.LastCursor.String(),
		RecordsProcessed: run.RecordsProcessed,
		ResumptionCount:  run.ResumptionCount,
		ConcurrencyKey:   run.ConcurrencyKey,
		ClaimedBy:        run.ClaimedBy,
		ClaimedAt:        run.ClaimedAt,
		CancelRequested:  run.CancelRequested,
		CreateTime:       run.CreateTime,
		LastUpdated:      run.LastUpdated,
		Version:          run.Version,
	}
}

// toDomainRun converts a persistence entity to a domain Run.
func toDomainRun(entity *runEntity) *model.Run {
	return &model.Run{
		ID:               entity.ID,
		FlowID:           entity.FlowID,
		FlowName:         entity.FlowName,
		Status:           model.RunStatus(entity.Status),
		Attempt:          entity.Attempt,
		RunAfter:         entity.RunAfter,
		StartedAt:        entity.StartedAt,
		EndedAt:          entity.EndedAt,
		ErrorMessage:     entity.ErrorMessage,
		ErrorClass:       entity.ErrorClass,
		FirstCursor:      model.Cursor(entity.FirstCursor),
		LastCursor:       model.Cursor(entity.LastCursor),
		RecordsProcessed: entity.RecordsProcessed,
		ResumptionCount:  entity.ResumptionCount,
		ConcurrencyKey:   entity.ConcurrencyKey,
		ClaimedBy:        entity.ClaimedBy,
		ClaimedAt:        entity.ClaimedAt,
		CancelRequested:  entity.CancelRequested,
		CreateTime:       entity.CreateTime,
		LastUpdated:      entity.LastUpdated,
		Version:          entity.Version,
	}
}

// fromDomainErrorRecord converts a domain ErrorRecord to its persistence entity.
func fromDomainErrorRecord(record *model.ErrorRecord) *errorRecordEntity {
	return &errorRecordEntity{
		ID:             record.ID,
		FlowID:         record.FlowID,
		FlowName:       record.FlowName,
		RunID:          record.RunID,
		Attempt:        record.Attempt,
		Classification: record.Classification,
		Module:         record.Module,
		Message:        record.Message,
		OccurredAt:     record.OccurredAt,
	}
}

// toDomainErrorRecord converts a persistence entity to a domain ErrorRecord.
func toDomainErrorRecord(entity *errorRecordEntity) *model.ErrorRecord {
	return &model.ErrorRecord{
		ID:             entity.ID,
		FlowID:         entity.FlowID,
		FlowName:       entity.FlowName,
		RunID:          entity.RunID,
		Attempt:        entity.Attempt,
		Classification: entity.Classification,
		Module:         entity.Module,
		Message:        entity.Message,
		OccurredAt:     entity.OccurredAt,
	}
}
