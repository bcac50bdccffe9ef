package gorm

import (
	"time"

	model "github.com/flowmill/flowmill/pkg/flow/core/domain/model"
)

// flowEntity is the persistence shape of model.Flow.
// Component configs are stored as JSON text through their Valuer/Scanner implementations.
type flowEntity struct {
	ID                    string                `gorm:"column:id;primaryKey"`
	Name                  string                `gorm:"column:name;uniqueIndex"`
	Enabled               bool                  `gorm:"column:enabled"`
	Status                string                `gorm:"column:status"`
	IntervalSeconds       int                   `gorm:"column:interval_seconds"`
	ConcurrencyLimit      int                   `gorm:"column:concurrency_limit"`
	ConcurrencyGroup      string                `gorm:"column:concurrency_group"`
	ConcurrencyGroupLimit int                   `gorm:"column:concurrency_group_limit"`
	Source                model.ComponentConfig `gorm:"column:source;type:text"`
	Runtime               model.ComponentConfig `gorm:"column:runtime;type:text"`
	Sink                  model.ComponentConfig `gorm:"column:sink;type:text"`
	BatchSize             int                   `gorm:"column:batch_size"`
	MaxResumptions        int                   `gorm:"column:max_resumptions"`
	RetrySpec             string                `gorm:"column:retry_spec;type:text"`
	CreateTime            time.Time             `gorm:"column:create_time"`
	LastUpdated           time.Time             `gorm:"column:last_updated"`
	Version               int                   `gorm:"column:version"`
}

// TableName returns the table name for flowEntity.
func (flowEntity) TableName() string { return "flows" }

// runEntity is the persistence shape of model.Run.
type runEntity struct {
	ID               string     `gorm:"column:id;primaryKey"`
	FlowID           string     `gorm:"column:flow_id;index"`
	FlowName         string     `gorm:"column:flow_name"`
	Status           string     `gorm:"column:status;index:idx_runs_status_run_after"`
	Attempt          int        `gorm:"column:attempt"`
	RunAfter         time.Time  `gorm:"column:run_after;index:idx_runs_status_run_after"`
	StartedAt        *time.Time `gorm:"column:started_at"`
	EndedAt          *time.Time `gorm:"column:ended_at"`
	ErrorMessage     string     `gorm:"column:error_message"`
	ErrorClass       string     `gorm:"column:error_class"`
	FirstCursor      string     `gorm:"column:first_cursor"`
	LastCursor       string     `gorm:"column:last_cursor"`
	RecordsProcessed int64      `gorm:"column:records_processed"`
	ResumptionCount  int        `gorm:"column:resumption_count"`
	ConcurrencyKey   string     `gorm:"column:concurrency_key;index"`
	ClaimedBy        string     `gorm:"column:claimed_by"`
	ClaimedAt        *time.Time `gorm:"column:claimed_at"`
	CancelRequested  bool       `gorm:"column:cancel_requested"`
	CreateTime       time.Time  `gorm:"column:create_time"`
	LastUpdated      time.Time  `gorm:"column:last_updated"`
	Version          int        `gorm:"column:version"`
}

// TableName returns the table name for runEntity.
func (runEntity) TableName() string { return "flow_runs" }

// concurrencyKeyEntity is one row per concurrency key. Claims take a row lock
// on the key to serialize the in-progress count against competing claimers.
type concurrencyKeyEntity struct {
	KeyName    string    `gorm:"column:key_name;primaryKey"`
	CreateTime time.Time `gorm:"column:create_time"`
}

// TableName returns the table name for concurrencyKeyEntity.
func (concurrencyKeyEntity) TableName() string { return "flow_concurrency_keys" }

// errorRecordEntity is the persistence shape of model.ErrorRecord.
type errorRecordEntity struct {
	ID             string    `gorm:"column:id;primaryKey"`
	FlowID         string    `gorm:"column:flow_id;index"`
	FlowName       string    `gorm:"column:flow_name"`
	RunID          string    `gorm:"column:run_id;index"`
	Attempt        int       `gorm:"column:attempt"`
	Classification string    `gorm:"column:classification"`
	Module         string    `gorm:"column:module"`
	Message        string    `gorm:"column:message"`
	OccurredAt     time.Time `gorm:"column:occurred_at;index"`
}

// TableName returns the table name for errorRecordEntity.
func (errorRecordEntity) TableName() string { return "flow_error_records" }
