/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package retry

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
)

func TestGuardSucceedsFirstAttempt(t *testing.T) {
	attempts := 0
	ok, result := Guard(context.Background(), NewConstantPolicy(time.Millisecond, 5),
		func(ctx context.Context) (bool, interface{}) {
			attempts++
			return true, "value"
		})
	require.True(t, ok)
	require.Equal(t, "value", result)
	require.Equal(t, 1, attempts)
}

func TestGuardRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	ok, result := Guard(context.Background(), NewConstantPolicy(time.Millisecond, 5),
		func(ctx context.Context) (bool, interface{}) {
			attempts++
			if attempts < 3 {
				return false, nil
			}
			return true, attempts
		})
	require.True(t, ok)
	require.Equal(t, 3, result)
	require.Equal(t, 3, attempts)
}

func TestGuardExhaustsAttempts(t *testing.T) {
	attempts := 0
	ok, result := Guard(context.Background(), NewConstantPolicy(time.Millisecond, 4),
		func(ctx context.Context) (bool, interface{}) {
			attempts++
			return false, "last failure"
		})
	require.False(t, ok)
	require.Equal(t, "last failure", result)
	require.Equal(t, 4, attempts)
}

func TestGuardExponentialDelaysGrow(t *testing.T) {
	const intermission = 20 * time.Millisecond
	attempts := 0
	start := time.Now()
	ok, _ := Guard(context.Background(), NewExponentialPolicy(intermission, 3),
		func(ctx context.Context) (bool, interface{}) {
			attempts++
			return false, nil
		})
	elapsed := time.Since(start)

	require.False(t, ok)
	require.Equal(t, 3, attempts)
	// Delays are intermission and then 2*intermission, with no jitter.
	require.GreaterOrEqual(t, elapsed, 3*intermission)
}

func TestGuardStopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	ok, _ := Guard(ctx, NewConstantPolicy(time.Minute, 10),
		func(ctx context.Context) (bool, interface{}) {
			attempts++
			cancel()
			return false, nil
		})
	require.False(t, ok)
	require.Equal(t, 1, attempts)
}

func TestGuardPassesContextToCall(t *testing.T) {
	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "marker")
	ok, _ := Guard(ctx, NewConstantPolicy(time.Millisecond, 2),
		func(ctx context.Context) (bool, interface{}) {
			require.Equal(t, "marker", ctx.Value(ctxKey{}))
			return true, nil
		})
	require.True(t, ok)
}

func TestPolicyFunc(t *testing.T) {
	attempts := 0
	ok, _ := Guard(context.Background(),
		PolicyFunc(NewConstantPolicy(time.Millisecond, 2).NewBackOff),
		func(ctx context.Context) (bool, interface{}) {
			attempts++
			return false, nil
		})
	require.False(t, ok)
	require.Equal(t, 2, attempts)
}

func TestDefaultExponentialPolicyShape(t *testing.T) {
	b := DefaultExponentialPolicy().NewBackOff()
	require.Equal(t, DefaultIntermission, b.NextBackOff())
	require.Equal(t, 2*DefaultIntermission, b.NextBackOff())
	require.Equal(t, 4*DefaultIntermission, b.NextBackOff())
	require.Equal(t, 8*DefaultIntermission, b.NextBackOff())
	// The fifth attempt is the last one.
	require.Equal(t, backoff.Stop, b.NextBackOff())
}