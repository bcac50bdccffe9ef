package model

import (
	"fmt"
	"time"

	logger "github.com/flowmill/flowmill/pkg/flow/support/util/logger"
)

// FlowStatus represents the lifecycle state of a flow definition.
type FlowStatus string

const (
	FlowStatusDraft    FlowStatus = "draft"
	FlowStatusActive   FlowStatus = "active"
	FlowStatusInactive FlowStatus = "inactive"
)

// String returns the string representation of the FlowStatus.
func (s FlowStatus) String() string {
	return string(s)
}

// RetryPolicySpec is a per-flow override of the engine-wide retry policy.
// Zero-valued fields inherit the global setting when policies are merged.
type RetryPolicySpec struct {
	MaxAttempts     int      `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	TransientErrors []string `yaml:"transient_errors,omitempty" json:"transient_errors,omitempty"`
	PermanentErrors []string `yaml:"permanent_errors,omitempty" json:"permanent_errors,omitempty"`
	JitterFraction  float64  `yaml:"jitter_fraction,omitempty" json:"jitter_fraction,omitempty"`
}

// IsZero reports whether no field of the spec was set.
func (s RetryPolicySpec) IsZero() bool {
	return s.MaxAttempts == 0 && len(s.TransientErrors) == 0 && len(s.PermanentErrors) == 0 && s.JitterFraction == 0
}

// Flow is a recurring data movement definition. It names the source, runtime,
// and sink components by kind, carries scheduling and concurrency settings,
// and optionally overrides the engine-wide retry policy.
type Flow struct {
	ID      string     `yaml:"id,omitempty" json:"id,omitempty"`
	Name    string     `yaml:"name" json:"name"`
	Enabled bool       `yaml:"enabled" json:"enabled"`
	Status  FlowStatus `yaml:"status,omitempty" json:"status,omitempty"`
	// IntervalSeconds is the scheduling period. After a run reaches a terminal
	// state the next one becomes eligible at terminal time plus this interval.
	IntervalSeconds int `yaml:"interval_seconds" json:"interval_seconds"`
	// ConcurrencyLimit bounds simultaneous in-progress runs of this flow.
	// Flows that declare no limit run one at a time.
	ConcurrencyLimit int `yaml:"concurrency_limit,omitempty" json:"concurrency_limit,omitempty"`
	// ConcurrencyGroup, when set, pools this flow with others under a shared
	// group limit instead of a per-flow one.
	ConcurrencyGroup      string          `yaml:"concurrency_group,omitempty" json:"concurrency_group,omitempty"`
	ConcurrencyGroupLimit int             `yaml:"concurrency_group_limit,omitempty" json:"concurrency_group_limit,omitempty"`
	Source                ComponentConfig `yaml:"source" json:"source"`
	Runtime               ComponentConfig `yaml:"runtime,omitempty" json:"runtime,omitempty"`
	Sink                  ComponentConfig `yaml:"sink" json:"sink"`
	BatchSize             int             `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
	MaxResumptions        int             `yaml:"max_resumptions,omitempty" json:"max_resumptions,omitempty"`
	Retry                 RetryPolicySpec `yaml:"retry,omitempty" json:"retry,omitempty"`
	CreateTime            time.Time       `yaml:"-" json:"create_time,omitempty"`
	LastUpdated           time.Time       `yaml:"-" json:"last_updated,omitempty"`
	Version               int             `yaml:"-" json:"version,omitempty"`
}

// NewFlow creates a new Flow definition in the DRAFT state.
func NewFlow(name string, intervalSeconds int, source, sink ComponentConfig) *Flow {
	now := time.Now()
	return &Flow{
		ID:              NewID(),
		Name:            name,
		Enabled:         true,
		Status:          FlowStatusDraft,
		IntervalSeconds: intervalSeconds,
		Source:          source,
		Sink:            sink,
		CreateTime:      now,
		LastUpdated:     now,
		Version:         0,
	}
}

// isValidFlowTransition checks if the state transition for a Flow is valid.
func isValidFlowTransition(current, next FlowStatus) bool {
	switch current {
	case FlowStatusDraft:
		return next == FlowStatusActive
	case FlowStatusActive:
		return next == FlowStatusInactive
	case FlowStatusInactive:
		return next == FlowStatusActive
	default:
		return false
	}
}

// TransitionTo safely transitions the state of the Flow.
func (f *Flow) TransitionTo(newStatus FlowStatus) error {
	if !isValidFlowTransition(f.Status, newStatus) {
		return fmt.Errorf("Flow (Name: %s): Invalid state transition: %s -> %s", f.Name, f.Status, newStatus)
	}
	f.Status = newStatus
	f.LastUpdated = time.Now()
	return nil
}

// Activate marks the flow active. Draft and inactive flows may be activated.
func (f *Flow) Activate() error {
	if f.Status == FlowStatusActive {
		logger.Debugf("Flow (Name: %s) is already ACTIVE. Activate is a no-op.", f.Name)
		return nil
	}
	return f.TransitionTo(FlowStatusActive)
}

// Deactivate marks the flow inactive. Inactive flows are not scheduled.
func (f *Flow) Deactivate() error {
	if f.Status == FlowStatusInactive {
		logger.Debugf("Flow (Name: %s) is already INACTIVE. Deactivate is a no-op.", f.Name)
		return nil
	}
	return f.TransitionTo(FlowStatusInactive)
}

// IsSchedulable reports whether the engine should enqueue and claim runs for this flow.
// A flow must be both enabled and active. Disabling never touches existing runs.
func (f *Flow) IsSchedulable() bool {
	return f.Enabled && f.Status == FlowStatusActive
}

// Interval returns the scheduling period as a Duration.
func (f *Flow) Interval() time.Duration {
	return time.Duration(f.IntervalSeconds) * time.Second
}
