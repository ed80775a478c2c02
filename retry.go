package connector

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// deterministicBackOff reproduces the connector's documented retry formula,
// backoff · 2^(attempt-1), as a backoff.BackOff so the exponential/ backoff/v4
// retry engine (component C's concrete library) drives the sleep/attempt
// loop instead of a hand-rolled one.
type deterministicBackOff struct {
	base    time.Duration
	attempt int
}

func (b *deterministicBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(float64(b.base) * math.Pow(2, float64(b.attempt-1)))
}

func (b *deterministicBackOff) Reset() { b.attempt = 0 }

// BackoffDuration exposes the formula directly so callers/tests can assert
// the documented property without running a full retry loop.
func BackoffDuration(base time.Duration, attempt int) time.Duration {
	return time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
}

// Retry executes op, retrying up to n total attempts with base·2^(k-1)
// delay between attempts. onAttemptFail runs once per failed attempt,
// including the last one (with that attempt's error); onExceeded runs once
// after the final failed attempt and, if non-nil, supplies the value Retry
// returns alongside the final error. n <= 0 is treated as 1 (no retries).
//
// onAttemptFail is invoked from inside the operation wrapper rather than
// via backoff.RetryNotify's notify callback: RetryNotify only calls notify
// between attempts, so the final failed attempt — the one for which
// NextBackOff returns Stop — never reaches it. Driving the hook ourselves
// means every failure is reported, matching the "per failure" contract.
func Retry[T any](op func() (T, error), n int, baseBackoff time.Duration, onAttemptFail func(error), onExceeded func() T) (T, error) {
	if n <= 0 {
		n = 1
	}

	policy := backoff.WithMaxRetries(&deterministicBackOff{base: baseBackoff}, uint64(n-1))

	var result T
	err := backoff.Retry(func() error {
		r, opErr := op()
		if opErr != nil {
			if onAttemptFail != nil {
				onAttemptFail(opErr)
			}
			return opErr
		}
		result = r
		return nil
	}, policy)

	if err != nil {
		if onExceeded != nil {
			return onExceeded(), err
		}
		var zero T
		return zero, err
	}
	return result, nil
}

// RetryVoid is Retry for operations with no useful result, e.g. opening a
// connection that's stashed as a side effect.
func RetryVoid(op func() error, n int, baseBackoff time.Duration, onAttemptFail func(error), onExceeded func()) error {
	_, err := Retry(func() (struct{}, error) {
		return struct{}{}, op()
	}, n, baseBackoff, onAttemptFail, func() struct{} {
		if onExceeded != nil {
			onExceeded()
		}
		return struct{}{}
	})
	return err
}
