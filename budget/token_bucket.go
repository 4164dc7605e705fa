/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package budget

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/acronis/go-kvsched/backend"
)

// TokenBucketOracle tracks per-category budgets as token buckets that refill
// continuously. The remaining budget is the number of whole tokens currently
// in the bucket of the kind's category.
type TokenBucketOracle struct {
	mu       sync.Mutex
	limiters map[backend.Category]*rate.Limiter
}

// NewTokenBucketOracle creates a token bucket oracle with the given
// per-category rates. Categories without a rate are unlimited.
func NewTokenBucketOracle(rates map[backend.Category]Rate) *TokenBucketOracle {
	limiters := make(map[backend.Category]*rate.Limiter, len(rates))
	for category, r := range rates {
		limit := rate.Limit(float64(r.Count) / r.Duration.Seconds())
		limiters[category] = rate.NewLimiter(limit, r.Count)
	}
	return &TokenBucketOracle{limiters: limiters}
}

// RemainingBudget implements the Oracle interface.
func (o *TokenBucketOracle) RemainingBudget(kind backend.Kind) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	lim := o.limiters[kind.Category()]
	if lim == nil {
		return Unlimited
	}
	tokens := lim.Tokens()
	if tokens < 0 {
		return 0
	}
	return int(tokens)
}

// Spend implements the Spender interface.
func (o *TokenBucketOracle) Spend(kind backend.Kind) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	lim := o.limiters[kind.Category()]
	if lim == nil {
		return true
	}
	return lim.Allow()
}
