package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowmill/flowmill/pkg/flow/support/util/exception"
	logger "github.com/flowmill/flowmill/pkg/flow/support/util/logger"

	"github.com/google/uuid"
)

// RunStatus represents the state of a flow run.
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusSuccess    RunStatus = "success"
	RunStatusFailed     RunStatus = "failed"
	RunStatusCancelled  RunStatus = "cancelled"
)

// String returns the string representation of the RunStatus.
func (s RunStatus) String() string {
	return string(s)
}

// IsTerminal checks if the RunStatus represents a terminal state.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// Cursor is an opaque, source-defined position token. It is the single source
// of truth for resumption: a new executor instance resumes exactly after the
// last checkpointed position. An empty Cursor means "from the beginning".
type Cursor string

// IsZero reports whether the cursor marks the beginning of the source.
func (c Cursor) IsZero() bool {
	return c == ""
}

// String returns the cursor token.
func (c Cursor) String() string {
	return string(c)
}

// Run is one execution attempt of a Flow.
// Retries are new Run rows, never mutations of a failed one, preserving an audit trail.
type Run struct {
	ID               string
	FlowID           string
	FlowName         string
	Status           RunStatus
	Attempt          int
	RunAfter         time.Time
	StartedAt        *time.Time
	EndedAt          *time.Time
	ErrorMessage     string
	ErrorClass       string
	FirstCursor      Cursor
	LastCursor       Cursor
	RecordsProcessed int64
	ResumptionCount  int
	// ConcurrencyKey is the limiter key of the owning flow, denormalized onto the
	// run row so the claim operation can count in-progress runs per key in one statement.
	ConcurrencyKey  string
	ClaimedBy       string
	ClaimedAt       *time.Time
	CancelRequested bool
	CreateTime      time.Time
	LastUpdated     time.Time
	Version         int
}

// NewRun creates a new pending Run for the given flow, eligible for claim at runAfter.
func NewRun(flow *Flow, runAfter time.Time, attempt int, concurrencyKey string) *Run {
	now := time.Now()
	return &Run{
		ID:             NewID(),
		FlowID:         flow.ID,
		FlowName:       flow.Name,
		Status:         RunStatusPending,
		Attempt:        attempt,
		RunAfter:       runAfter,
		ConcurrencyKey: concurrencyKey,
		CreateTime:     now,
		LastUpdated:    now,
		Version:        0,
	}
}

// isValidRunTransition checks if the state transition for a Run is valid.
func isValidRunTransition(current, next RunStatus) bool {
	switch current {
	case RunStatusPending:
		// PENDING can transition to IN_PROGRESS (claim), CANCELLED (operator action),
		// or FAILED (enqueue-time configuration failure).
		return next == RunStatusInProgress || next == RunStatusCancelled || next == RunStatusFailed
	case RunStatusInProgress:
		return next == RunStatusSuccess || next == RunStatusFailed || next == RunStatusCancelled
	case RunStatusSuccess, RunStatusFailed, RunStatusCancelled:
		return false // Cannot transition out of terminal states
	default:
		return false
	}
}

// TransitionTo safely transitions the state of the Run.
// Note: Fields other than Status and LastUpdated must be set separately by the caller.
func (r *Run) TransitionTo(newStatus RunStatus) error {
	if !isValidRunTransition(r.Status, newStatus) {
		return fmt.Errorf("Run (ID: %s): Invalid state transition: %s -> %s", r.ID, r.Status, newStatus)
	}
	r.Status = newStatus
	r.LastUpdated = time.Now()
	return nil
}

// MarkAsStarted updates the Run status to IN_PROGRESS and stamps StartedAt.
// Starting an already IN_PROGRESS run (a crashed worker resuming) is a no-op, not an error.
func (r *Run) MarkAsStarted(workerID string) error {
	if r.Status == RunStatusInProgress {
		logger.Debugf("Run (ID: %s) is already IN_PROGRESS. Start is a no-op.", r.ID)
		return nil
	}
	if err := r.TransitionTo(RunStatusInProgress); err != nil {
		return err
	}
	now := time.Now()
	r.StartedAt = &now
	r.ClaimedBy = workerID
	r.ClaimedAt = &now
	return nil
}

// MarkAsSucceeded updates the Run status to SUCCESS and stamps EndedAt.
func (r *Run) MarkAsSucceeded() {
	if err := r.TransitionTo(RunStatusSuccess); err != nil {
		logger.Warnf("Could not update Run (ID: %s) status to SUCCESS: %v", r.ID, err)
		r.Status = RunStatusSuccess
	}
	now := time.Now()
	r.EndedAt = &now
	r.LastUpdated = now
}

// MarkAsFailed updates the Run status to FAILED and records the error message and classification.
func (r *Run) MarkAsFailed(err error, class exception.Classification) {
	if terr := r.TransitionTo(RunStatusFailed); terr != nil {
		logger.Warnf("Could not update Run (ID: %s) status to FAILED: %v", r.ID, terr)
		r.Status = RunStatusFailed
	}
	now := time.Now()
	r.EndedAt = &now
	r.LastUpdated = now
	if err != nil {
		r.ErrorMessage = exception.ExtractErrorMessage(err)
	}
	r.ErrorClass = class.String()
}

// MarkAsCancelled updates the Run status to CANCELLED and stamps EndedAt.
// The last checkpoint is left intact so a future re-run can resume or restart.
func (r *Run) MarkAsCancelled() {
	if err := r.TransitionTo(RunStatusCancelled); err != nil {
		logger.Warnf("Could not update Run (ID: %s) status to CANCELLED: %v", r.ID, err)
		r.Status = RunStatusCancelled
	}
	now := time.Now()
	r.EndedAt = &now
	r.LastUpdated = now
}

// AdvanceCursor records a new checkpoint position and processed-record delta.
// The cursor is monotonically non-decreasing within a Run's lifetime; an attempt
// to move it backwards is rejected.
func (r *Run) AdvanceCursor(cursor Cursor, recordsDelta int64) error {
	if r.LastCursor != "" && cursor == "" {
		return fmt.Errorf("Run (ID: %s): cursor cannot move backwards from %q to empty", r.ID, r.LastCursor)
	}
	if r.FirstCursor.IsZero() && !cursor.IsZero() {
		r.FirstCursor = cursor
	}
	r.LastCursor = cursor
	r.RecordsProcessed += recordsDelta
	r.LastUpdated = time.Now()
	return nil
}

// IncrementResumptionCount increments the resumption count of the Run by 1.
func (r *Run) IncrementResumptionCount() {
	r.ResumptionCount++
	r.LastUpdated = time.Now()
	logger.Debugf("Run (ID: %s) resumption count updated to %d.", r.ID, r.ResumptionCount)
}

// DebugString returns a debug string representation of the Run.
func (r *Run) DebugString() string {
	endedAtStr := "nil"
	if r.EndedAt != nil {
		endedAtStr = r.EndedAt.Format(time.RFC3339Nano)
	}
	return fmt.Sprintf(
		"&{ID:%s Flow:%s Status:%s Attempt:%d RunAfter:%s EndedAt:%s LastCursor:%s Records:%d Resumptions:%d Version:%d}",
		r.ID, r.FlowName, r.Status, r.Attempt, r.RunAfter.Format(time.RFC3339Nano),
		endedAtStr, r.LastCursor, r.RecordsProcessed, r.ResumptionCount, r.Version,
	)
}

// ComponentConfig is an opaque tagged record used to reconstruct a Source,
// Sink, or Runtime instance through the kind registry.
type ComponentConfig struct {
	Kind   string                 `yaml:"kind" json:"kind"`
	Params map[string]interface{} `yaml:"params,omitempty" json:"params,omitempty"`
}

// Value implements the `driver.Valuer` interface, converting the ComponentConfig to a JSON string.
func (c ComponentConfig) Value() (driver.Value, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to a ComponentConfig.
func (c *ComponentConfig) Scan(value interface{}) error {
	if value == nil {
		*c = ComponentConfig{}
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for ComponentConfig: %T", value)
	}

	if len(b) == 0 {
		*c = ComponentConfig{}
		return nil
	}

	if err := json.Unmarshal(b, c); err != nil {
		return fmt.Errorf("failed to unmarshal ComponentConfig JSON: %w", err)
	}
	return nil
}

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}
