/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package budget defines the oracle interface the scheduler queries to learn
// how many more calls of an operation kind the backend will accept before
// throttling, and provides local oracle implementations (token bucket, leaky
// bucket, sliding window) for backends that do not report a budget of their
// own. The scheduler only reads the budget; accounting is the backend's
// business (or the Meter decorator's, when a local oracle simulates it).
package budget

import (
	"context"
	"math"
	"time"

	"github.com/acronis/go-kvsched/backend"
)

// Unlimited is the remaining budget reported for categories without a
// configured rate.
const Unlimited = math.MaxInt32

// Rate describes an allowance of requests per window.
type Rate struct {
	Count    int
	Duration time.Duration
}

// Oracle reports the remaining call allowance of an operation kind within the
// backend's current throttling window. The scheduler treats a value below 1
// as "ineligible now", without error.
type Oracle interface {
	RemainingBudget(kind backend.Kind) int
}

// OracleFunc is an adapter to allow the use of ordinary functions as Oracle.
type OracleFunc func(kind backend.Kind) int

// RemainingBudget implements the Oracle interface.
func (f OracleFunc) RemainingBudget(kind backend.Kind) int {
	return f(kind)
}

// Spender consumes one unit of budget for the kind and reports whether the
// allowance permitted it. Local oracles implement Spender so that executed
// operations deplete the budget the way a real backend would.
type Spender interface {
	Spend(kind backend.Kind) bool
}

// Meter wraps an executor so that every executed operation spends one unit
// from the given local oracle. It makes a local oracle behave like a
// backend-reported budget: the backend call depletes the allowance, and the
// oracle's replenishment schedule restores it.
func Meter(next backend.Executor, spender Spender) backend.Executor {
	return backend.ExecutorFunc(func(ctx context.Context, req backend.Request) backend.Result {
		spender.Spend(req.Kind)
		return next.Execute(ctx, req)
	})
}
