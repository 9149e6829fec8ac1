package core

import (
	"math"
	"time"
)

// Decision is the outcome of the backoff policy for one failed execution.
type Decision struct {
	Status Status
	// Delay until the next attempt; zero when Status is StatusFailed.
	Delay time.Duration
}

// Terminal reports whether the decision ends the task.
func (d Decision) Terminal() bool { return d.Status == StatusFailed }

// CalculateBackoff returns BackoffBase^n * Unit, capped by MaxInterval when set.
func CalculateBackoff(policy RetryPolicy, n int) time.Duration {
	unit := policy.Unit
	if unit <= 0 {
		unit = time.Minute
	}
	base := policy.BackoffBase
	if base <= 1 {
		base = DefaultRetryPolicy().BackoffBase
	}

	delay := float64(unit) * math.Pow(base, float64(n))
	if policy.MaxInterval > 0 && delay > float64(policy.MaxInterval) {
		delay = float64(policy.MaxInterval)
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Decide maps the attempts already recorded on a task and the kind of the
// latest failure to either a retry delay or a terminal failure.
//
// Login failures are retryable regardless of kind. Join failures are retried
// only for server-side or explicitly retryable kinds. Once the incremented
// attempt count would exceed MaxRetries the task fails.
func Decide(policy RetryPolicy, attempts int, kind ErrorKind, fromLogin bool) Decision {
	if !fromLogin && !kind.Retryable() {
		return Decision{Status: StatusFailed}
	}
	next := attempts + 1
	if next > policy.MaxRetries {
		return Decision{Status: StatusFailed}
	}
	return Decision{Status: StatusRetrying, Delay: CalculateBackoff(policy, next)}
}

// DecideCallback applies the callback-cycle threshold. Reaching
// MaxCallbackRetries fails the task regardless of kind.
func DecideCallback(policy RetryPolicy, callbackRetries int) Decision {
	next := callbackRetries + 1
	if next >= policy.MaxCallbackRetries {
		return Decision{Status: StatusFailed}
	}
	return Decision{Status: StatusRetrying, Delay: CalculateBackoff(policy, next)}
}
