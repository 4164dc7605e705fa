/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package scheduler

import (
	"sync"

	"github.com/acronis/go-kvsched/backend"
)

// completionBus correlates operation ids with their eventual results and
// resumes the goroutine that submitted a queued operation. Each subscription
// is a oneshot: the channel is buffered, receives exactly one result and is
// detached on publish, so a publisher never blocks on a slow subscriber.
type completionBus struct {
	mu      sync.Mutex
	waiters map[uint64]chan backend.Result
}

func newCompletionBus() *completionBus {
	return &completionBus{waiters: make(map[uint64]chan backend.Result)}
}

// subscribe registers interest in the result of the operation with the given
// id. Must be called before the operation is enqueued, or the result may be
// published into the void.
func (b *completionBus) subscribe(id uint64) <-chan backend.Result {
	ch := make(chan backend.Result, 1)
	b.mu.Lock()
	b.waiters[id] = ch
	b.mu.Unlock()
	return ch
}

// publish delivers the result to the operation's subscriber, if any, and
// detaches it.
func (b *completionBus) publish(id uint64, res backend.Result) {
	b.mu.Lock()
	ch := b.waiters[id]
	delete(b.waiters, id)
	b.mu.Unlock()
	if ch != nil {
		ch <- res
	}
}
