/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package scheduler

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// workerPool runs dispatched operations on a pool of reusable goroutines.
// The pool grows on demand under bursty load; a worker that has been idle for
// idleTimeout exits, shrinking the pool back. Reuse matters here: dispatching
// N operations of a steady stream must not spawn N goroutines.
type workerPool struct {
	tasks       chan func()
	stop        chan struct{}
	stopOnce    sync.Once
	idleTimeout time.Duration
	size        atomic.Int32
}

func newWorkerPool(idleTimeout time.Duration) *workerPool {
	return &workerPool{
		tasks:       make(chan func()),
		stop:        make(chan struct{}),
		idleTimeout: idleTimeout,
	}
}

// do runs fn on an idle worker if one is ready to take it, otherwise on a
// freshly spawned one. It never blocks the caller.
func (p *workerPool) do(fn func()) {
	select {
	case p.tasks <- fn:
		return
	default:
	}
	p.size.Inc()
	go p.work(fn)
}

func (p *workerPool) work(fn func()) {
	defer p.size.Dec()
	fn()
	idle := time.NewTimer(p.idleTimeout)
	defer idle.Stop()
	for {
		select {
		case fn := <-p.tasks:
			fn()
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.idleTimeout)
		case <-idle.C:
			return
		case <-p.stop:
			return
		}
	}
}

// close releases all idle workers. Workers running a task finish it first.
// Safe to call more than once.
func (p *workerPool) close() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// poolSize returns the current number of live workers.
func (p *workerPool) poolSize() int {
	return int(p.size.Load())
}
