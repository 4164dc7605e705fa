/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package retry provides a guard that wraps a fallible call with bounded
// retries and a constant or exponentially growing delay between attempts.
// The scheduler never retries backend failures on its own; callers that need
// resilience compose this guard explicitly around their submissions.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default guard parameters.
const (
	DefaultMaxAttempts  = 5
	DefaultIntermission = time.Second
)

// GuardedCall is a function that does some work and reports its outcome in
// the uniform (success, result) shape. The guard only ever inspects the
// success flag; the result payload is passed through untouched.
type GuardedCall func(ctx context.Context) (ok bool, result interface{})

// Policy defines the backoff strategy between attempts.
type Policy interface {
	NewBackOff() backoff.BackOff
}

// The PolicyFunc type is an adapter to allow the use of ordinary functions as Policy.
type PolicyFunc func() backoff.BackOff

// NewBackOff implements Policy.
func (f PolicyFunc) NewBackOff() backoff.BackOff {
	return f()
}

// errAttemptFailed marks an attempt that reported ok == false so that the
// backoff machinery keeps going. It never escapes Guard.
var errAttemptFailed = errors.New("guarded call reported failure")

// Guard invokes call and, while it keeps reporting failure, retries it
// according to the policy, up to the policy's attempt limit. It returns the
// last (ok, result) pair once an attempt succeeds or attempts are exhausted.
// A nil policy means DefaultExponentialPolicy. Canceling ctx stops further
// attempts; the last observed pair is returned as is.
func Guard(ctx context.Context, p Policy, call GuardedCall) (bool, interface{}) {
	if p == nil {
		p = DefaultExponentialPolicy()
	}
	b := backoff.WithContext(p.NewBackOff(), ctx)

	var ok bool
	var result interface{}
	op := func() error {
		ok, result = call(b.Context())
		if !ok {
			return errAttemptFailed
		}
		return nil
	}
	// The error only reflects exhaustion or cancellation; the caller-facing
	// outcome is the pair the last attempt produced.
	_ = backoff.Retry(op, b)
	return ok, result
}

// ExponentialPolicy repeats up to maxAttempts times with delays growing
// twofold from the initial intermission: intermission, 2*intermission, and so
// on. No jitter is applied so that the delay arithmetic stays predictable.
type ExponentialPolicy struct {
	intermission time.Duration
	maxAttempts  int
}

// NewExponentialPolicy returns an exponential policy with the given
// intermission before the first retry and total attempt count.
func NewExponentialPolicy(intermission time.Duration, maxAttempts int) ExponentialPolicy {
	return ExponentialPolicy{intermission, maxAttempts}
}

// DefaultExponentialPolicy returns the guard's default policy:
// DefaultMaxAttempts attempts with exponential delays starting at
// DefaultIntermission.
func DefaultExponentialPolicy() ExponentialPolicy {
	return NewExponentialPolicy(DefaultIntermission, DefaultMaxAttempts)
}

// NewBackOff implements Policy.
func (p ExponentialPolicy) NewBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.intermission
	eb.RandomizationFactor = 0
	eb.Multiplier = 2
	eb.MaxInterval = time.Hour
	eb.MaxElapsedTime = 0
	var bf backoff.BackOff = eb
	if p.maxAttempts > 0 {
		bf = backoff.WithMaxRetries(eb, uint64(p.maxAttempts-1))
	}
	bf.Reset()
	return bf
}

// ConstantPolicy repeats up to maxAttempts times with a flat intermission
// between attempts.
type ConstantPolicy struct {
	intermission time.Duration
	maxAttempts  int
}

// NewConstantPolicy returns a constant policy with the given intermission and
// total attempt count.
func NewConstantPolicy(intermission time.Duration, maxAttempts int) ConstantPolicy {
	return ConstantPolicy{intermission, maxAttempts}
}

// NewBackOff implements Policy.
func (p ConstantPolicy) NewBackOff() backoff.BackOff {
	var bf backoff.BackOff = backoff.NewConstantBackOff(p.intermission)
	if p.maxAttempts > 0 {
		bf = backoff.WithMaxRetries(bf, uint64(p.maxAttempts-1))
	}
	bf.Reset()
	return bf
}
