/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package budget

import (
	"sync"
	"time"

	"github.com/RussellLuo/slidingwindow"

	"github.com/acronis/go-kvsched/backend"
)

// SlidingWindowOracle tracks per-category budgets over a sliding window:
// usage of the previous window is weighted by its overlap with the sliding
// frame and added to the current window's count. Unlike a token bucket the
// allowance replenishes in window-sized steps, which matches backends that
// reset their quota per throttling window.
type SlidingWindowOracle struct {
	mu      sync.Mutex
	windows map[backend.Category]*categoryWindow
}

type categoryWindow struct {
	size  time.Duration
	limit int64
	prev  slidingwindow.Window
	curr  slidingwindow.Window
}

// NewSlidingWindowOracle creates a sliding window oracle with the given
// per-category rates. Categories without a rate are unlimited.
func NewSlidingWindowOracle(rates map[backend.Category]Rate) *SlidingWindowOracle {
	windows := make(map[backend.Category]*categoryWindow, len(rates))
	for category, r := range rates {
		prev, _ := slidingwindow.NewLocalWindow()
		curr, _ := slidingwindow.NewLocalWindow()
		windows[category] = &categoryWindow{
			size:  r.Duration,
			limit: int64(r.Count),
			prev:  prev,
			curr:  curr,
		}
	}
	return &SlidingWindowOracle{windows: windows}
}

// advance shifts the window pair so that curr covers the window containing
// now. A gap of more than one window size means the previous window has no
// overlap left and is zeroed.
func (w *categoryWindow) advance(now time.Time) {
	newCurrStart := now.Truncate(w.size)
	diffSize := newCurrStart.Sub(w.curr.Start()) / w.size
	if diffSize < 1 {
		return
	}
	newPrevCount := int64(0)
	if diffSize == 1 {
		newPrevCount = w.curr.Count()
	}
	w.prev.Reset(newCurrStart.Add(-w.size), newPrevCount)
	w.curr.Reset(newCurrStart, 0)
}

func (w *categoryWindow) used(now time.Time) int64 {
	w.advance(now)
	elapsed := now.Sub(w.curr.Start())
	weight := float64(w.size-elapsed) / float64(w.size)
	return int64(weight*float64(w.prev.Count())) + w.curr.Count()
}

// RemainingBudget implements the Oracle interface.
func (o *SlidingWindowOracle) RemainingBudget(kind backend.Kind) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	w := o.windows[kind.Category()]
	if w == nil {
		return Unlimited
	}
	remaining := w.limit - w.used(time.Now())
	if remaining < 0 {
		remaining = 0
	}
	return int(remaining)
}

// Spend implements the Spender interface.
func (o *SlidingWindowOracle) Spend(kind backend.Kind) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	w := o.windows[kind.Category()]
	if w == nil {
		return true
	}
	now := time.Now()
	if w.used(now) >= w.limit {
		return false
	}
	w.curr.AddCount(1)
	return true
}
