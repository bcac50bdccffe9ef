package model

import "time"

// ErrorRecord is one logged failure occurrence, kept for operator inspection.
// Records are purged after a configurable retention period.
type ErrorRecord struct {
	ID             string
	FlowID         string
	FlowName       string
	RunID          string
	Attempt        int
	Classification string
	Module         string
	Message        string
	OccurredAt     time.Time
}

// NewErrorRecord creates an ErrorRecord for the given run failure.
func NewErrorRecord(run *Run, module, message, classification string) *ErrorRecord {
	return &ErrorRecord{
		ID:             NewID(),
		FlowID:         run.FlowID,
		FlowName:       run.FlowName,
		RunID:          run.ID,
		Attempt:        run.Attempt,
		Classification: classification,
		Module:         module,
		Message:        message,
		OccurredAt:     time.Now(),
	}
}
