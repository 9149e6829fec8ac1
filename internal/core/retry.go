package core

import (
	"errors"
	"time"
)

// RetryPolicy defines how failed tasks are retried.
type RetryPolicy struct {
	// BackoffBase is the exponent base; delays are BackoffBase^n * Unit.
	BackoffBase float64
	// Unit is the delay multiplier. One minute unless tests shrink it.
	Unit               time.Duration
	MaxRetries         int
	MaxCallbackRetries int
	// MaxInterval caps a single delay when positive. Zero means uncapped.
	MaxInterval time.Duration
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BackoffBase:        3,
		Unit:               time.Minute,
		MaxRetries:         3,
		MaxCallbackRetries: 4,
	}
}

// Validate rejects policies whose delays would not grow with each attempt.
func (p RetryPolicy) Validate() error {
	if p.BackoffBase <= 1 {
		return errors.New("retry policy: backoff base must be greater than 1")
	}
	if p.MaxRetries < 0 {
		return errors.New("retry policy: max retries must not be negative")
	}
	if p.MaxCallbackRetries < 1 {
		return errors.New("retry policy: max callback retries must be at least 1")
	}
	return nil
}
