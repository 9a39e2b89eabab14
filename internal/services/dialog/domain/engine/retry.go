package engine

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how often a command is re-run after a concurrency
// conflict or a transient storage failure.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     250 * time.Millisecond,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	defaults := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = defaults.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = max(defaults.MaxInterval, p.InitialInterval)
	}
	return p
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	return b
}
