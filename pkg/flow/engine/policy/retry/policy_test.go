package retry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/flowmill/flowmill/pkg/flow/core/config"
	model "github.com/flowmill/flowmill/pkg/flow/core/domain/model"
	"github.com/flowmill/flowmill/pkg/flow/engine/policy/retry"
	"github.com/flowmill/flowmill/pkg/flow/support/util/exception"
)

func TestShouldRetry(t *testing.T) {
	factory := retry.NewDefaultRetryPolicyFactory()
	policy := factory.Create(3, nil, nil, 0.15)

	// Permanent failures are never retried, regardless of attempt count.
	assert.False(t, policy.ShouldRetry(exception.ClassPermanent, 1))

	// Transient and unknown failures retry while attempts remain.
	assert.True(t, policy.ShouldRetry(exception.ClassTransient, 1))
	assert.True(t, policy.ShouldRetry(exception.ClassTransient, 2))
	assert.False(t, policy.ShouldRetry(exception.ClassTransient, 3))
	assert.True(t, policy.ShouldRetry(exception.ClassUnknown, 2))
	assert.False(t, policy.ShouldRetry(exception.ClassUnknown, 3))
}

func TestGetBackoffInterval_Bounds(t *testing.T) {
	factory := retry.NewDefaultRetryPolicyFactory()
	policy := factory.Create(5, nil, nil, 0.15)

	// The base wait for attempt n is (n^4 + 2) seconds; jitter adds at most
	// 15% of the base on top.
	cases := map[int]float64{
		1: 3,
		2: 18,
		3: 83,
		4: 258,
	}
	for attempt, baseSeconds := range cases {
		for i := 0; i < 20; i++ {
			interval := policy.GetBackoffInterval(attempt)
			min := time.Duration(baseSeconds * float64(time.Second))
			max := time.Duration(baseSeconds * 1.15 * float64(time.Second))
			assert.GreaterOrEqual(t, interval, min, "attempt %d", attempt)
			assert.LessOrEqual(t, interval, max, "attempt %d", attempt)
		}
	}
}

func TestGetBackoffInterval_NoJitter(t *testing.T) {
	factory := retry.NewDefaultRetryPolicyFactory()
	policy := factory.Create(3, nil, nil, 0)

	assert.Equal(t, 3*time.Second, policy.GetBackoffInterval(1))
	assert.Equal(t, 18*time.Second, policy.GetBackoffInterval(2))

	// Attempt numbers below 1 are clamped.
	assert.Equal(t, 3*time.Second, policy.GetBackoffInterval(0))
}

func TestCreateForFlow_MergesOverrides(t *testing.T) {
	factory := retry.NewDefaultRetryPolicyFactory()
	global := config.RetryConfig{
		MaxAttempts:     3,
		TransientErrors: []string{"connection refused"},
		PermanentErrors: []string{"schema mismatch"},
		JitterFraction:  0.15,
	}

	// Zero-valued override fields inherit the global settings.
	policy := factory.CreateForFlow(global, model.RetryPolicySpec{})
	assert.Equal(t, 3, policy.GetMaxAttempts())
	assert.Equal(t, []string{"connection refused"}, policy.TransientErrors())
	assert.Equal(t, []string{"schema mismatch"}, policy.PermanentErrors())

	// Set override fields replace the global value entirely.
	policy = factory.CreateForFlow(global, model.RetryPolicySpec{
		MaxAttempts:     5,
		TransientErrors: []string{"throttled"},
	})
	assert.Equal(t, 5, policy.GetMaxAttempts())
	assert.Equal(t, []string{"throttled"}, policy.TransientErrors())
	assert.Equal(t, []string{"schema mismatch"}, policy.PermanentErrors())
}
