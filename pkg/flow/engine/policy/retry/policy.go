// Package retry decides whether a failed run gets another attempt and how
// long to wait before it. Waits grow polynomially with the attempt number and
// carry random jitter so that retries of many flows do not synchronize.
package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/flowmill/flowmill/pkg/flow/core/config"
	model "github.com/flowmill/flowmill/pkg/flow/core/domain/model"
	"github.com/flowmill/flowmill/pkg/flow/support/util/exception"
)

// RetryPolicy is an interface that defines the retry decision for failed runs.
type RetryPolicy interface {
	// ShouldRetry determines if a run that failed with the given classification
	// on the given attempt number gets another attempt.
	// classification: The failure classification assigned by the classifier.
	// attempt: The attempt number that just failed (starting from 1).
	// Returns: true if another attempt should be scheduled.
	ShouldRetry(classification exception.Classification, attempt int) bool
	// GetBackoffInterval returns the wait duration before the given attempt number runs.
	// attempt: The attempt number that just failed (starting from 1).
	// Returns: The waiting time until the next attempt becomes eligible.
	GetBackoffInterval(attempt int) time.Duration
	// GetMaxAttempts returns the maximum number of attempts, counting the first one.
	GetMaxAttempts() int
	// TransientErrors returns the transient membership list of this policy.
	TransientErrors() []string
	// PermanentErrors returns the permanent membership list of this policy.
	PermanentErrors() []string
}

// DefaultRetryPolicyFactory is a factory for creating RetryPolicy instances.
type DefaultRetryPolicyFactory struct{}

// NewDefaultRetryPolicyFactory creates a new DefaultRetryPolicyFactory.
func NewDefaultRetryPolicyFactory() *DefaultRetryPolicyFactory {
	return &DefaultRetryPolicyFactory{}
}

// Create creates a new RetryPolicy instance based on the given settings.
// maxAttempts: The maximum number of attempts, counting the first one.
// transientErrors: Error names or message substrings considered transient.
// permanentErrors: Error names or message substrings considered permanent.
// jitterFraction: The fraction of random jitter added to backoff waits.
// Returns: A new RetryPolicy instance.
func (f *DefaultRetryPolicyFactory) Create(maxAttempts int, transientErrors, permanentErrors []string, jitterFraction float64) RetryPolicy {
	return &defaultRetryPolicy{
		maxAttempts:     maxAttempts,
		transientErrors: transientErrors,
		permanentErrors: permanentErrors,
		jitterFraction:  jitterFraction,
	}
}

// CreateForFlow creates a RetryPolicy for one flow by merging the flow's
// override onto the engine-wide settings. Zero-valued override fields inherit
// the global value; set fields replace it entirely.
func (f *DefaultRetryPolicyFactory) CreateForFlow(global config.RetryConfig, override model.RetryPolicySpec) RetryPolicy {
	merged := global
	if override.MaxAttempts != 0 {
		merged.MaxAttempts = override.MaxAttempts
	}
	if override.TransientErrors != nil {
		merged.TransientErrors = override.TransientErrors
	}
	if override.PermanentErrors != nil {
		merged.PermanentErrors = override.PermanentErrors
	}
	if override.JitterFraction != 0 {
		merged.JitterFraction = override.JitterFraction
	}
	return f.Create(merged.MaxAttempts, merged.TransientErrors, merged.PermanentErrors, merged.JitterFraction)
}

// defaultRetryPolicy is the default implementation of RetryPolicy.
type defaultRetryPolicy struct {
	maxAttempts     int
	transientErrors []string
	permanentErrors []string
	jitterFraction  float64
}

// GetMaxAttempts returns the maximum number of attempts.
func (p *defaultRetryPolicy) GetMaxAttempts() int {
	return p.maxAttempts
}

// TransientErrors returns the transient membership list of this policy.
func (p *defaultRetryPolicy) TransientErrors() []string {
	return p.transientErrors
}

// PermanentErrors returns the permanent membership list of this policy.
func (p *defaultRetryPolicy) PermanentErrors() []string {
	return p.permanentErrors
}

// ShouldRetry determines if a run gets another attempt.
// Permanent failures are never retried. Transient and unknown failures are
// retried while the attempt count stays below the maximum.
func (p *defaultRetryPolicy) ShouldRetry(classification exception.Classification, attempt int) bool {
	if classification == exception.ClassPermanent {
		return false
	}
	return attempt < p.maxAttempts
}

// GetBackoffInterval returns the wait before the next attempt.
// The base wait for attempt n is (n^4 + 2) seconds, so waits grow from 3s
// through 18s, 83s, 258s for attempts 1 through 4. Random jitter of up to
// jitterFraction of the base is added on top.
func (p *defaultRetryPolicy) GetBackoffInterval(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	baseSeconds := math.Pow(float64(attempt), 4) + 2
	jitter := baseSeconds * p.jitterFraction * rand.Float64()
	return time.Duration((baseSeconds + jitter) * float64(time.Second))
}

// Verify interfaces
var _ RetryPolicy = (*defaultRetryPolicy)(nil)
