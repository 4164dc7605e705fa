/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package budget

import (
	"context"
	"fmt"

	"github.com/throttled/throttled/v2"
	"github.com/throttled/throttled/v2/store/memstore"

	"github.com/acronis/go-kvsched/backend"
)

// LeakyBucketOracle tracks per-category budgets with GCRA (Generic Cell Rate
// Algorithm), a leaky bucket variant. A good explanation of the algorithm is
// provided here: https://brandur.org/rate-limiting#gcra.
//
// The remaining budget is peeked with a zero-quantity rate limit query, which
// reports the current state without consuming any allowance.
type LeakyBucketOracle struct {
	limiters map[backend.Category]*throttled.GCRARateLimiterCtx
}

// NewLeakyBucketOracle creates a leaky bucket oracle with the given
// per-category rates and burst allowance. Categories without a rate are
// unlimited.
func NewLeakyBucketOracle(rates map[backend.Category]Rate, maxBurst int) (*LeakyBucketOracle, error) {
	limiters := make(map[backend.Category]*throttled.GCRARateLimiterCtx, len(rates))
	for category, r := range rates {
		gcraStore, err := memstore.NewCtx(0)
		if err != nil {
			return nil, fmt.Errorf("new in-memory store: %w", err)
		}
		quota := throttled.RateQuota{
			MaxRate:  throttled.PerDuration(r.Count, r.Duration),
			MaxBurst: maxBurst,
		}
		lim, err := throttled.NewGCRARateLimiterCtx(gcraStore, quota)
		if err != nil {
			return nil, fmt.Errorf("new GCRA rate limiter: %w", err)
		}
		limiters[category] = lim
	}
	return &LeakyBucketOracle{limiters: limiters}, nil
}

// RemainingBudget implements the Oracle interface.
func (o *LeakyBucketOracle) RemainingBudget(kind backend.Kind) int {
	category := kind.Category()
	lim := o.limiters[category]
	if lim == nil {
		return Unlimited
	}
	_, res, err := lim.RateLimitCtx(context.Background(), category.String(), 0)
	if err != nil {
		return 0
	}
	return res.Remaining
}

// Spend implements the Spender interface.
func (o *LeakyBucketOracle) Spend(kind backend.Kind) bool {
	category := kind.Category()
	lim := o.limiters[category]
	if lim == nil {
		return true
	}
	limited, _, err := lim.RateLimitCtx(context.Background(), category.String(), 1)
	if err != nil {
		return false
	}
	return !limited
}
