/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package scheduler implements a rate-limited request scheduler with
// key-level lock arbitration. It mediates all access to a quota-constrained
// key-value storage backend: callers submit logical operations against named
// keys, and the scheduler decides when each operation runs, which operations
// may run concurrently on the same key, and parks operations whose budget ran
// out until the backend's allowance replenishes.
//
// Submissions look synchronous to the caller. When the queues are empty and
// the target key is immediately lockable, the operation executes in-line with
// no queueing latency; otherwise the caller is suspended until the scheduling
// loop dispatches the operation and its result arrives.
package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/acronis/go-appkit/log"
	"go.uber.org/atomic"

	"github.com/acronis/go-kvsched/backend"
	"github.com/acronis/go-kvsched/budget"
	"github.com/acronis/go-kvsched/keylock"
)

// Default scheduler parameters.
const (
	DefaultIterationCycle    = 350 * time.Millisecond
	DefaultDrainGraceDelay   = 50 * time.Millisecond
	DefaultWorkerIdleTimeout = 30 * time.Second
)

const drainPollInterval = 10 * time.Millisecond

// Opts represents options for the Scheduler.
type Opts struct {
	// IterationCycle is the period of the scheduling tick.
	IterationCycle time.Duration

	// DrainGraceDelay is how long WaitUntilDrained waits before the first
	// check, to let in-flight submissions land in the queues.
	DrainGraceDelay time.Duration

	// WorkerIdleTimeout is how long an execution worker stays alive waiting
	// for its next operation before exiting.
	WorkerIdleTimeout time.Duration

	// MetricsCollector gathers scheduler metrics.
	// It can be nil, in this case, metrics will be disabled.
	MetricsCollector MetricsCollector
}

// Scheduler mediates access to a key-value storage backend. All its state is
// in-memory; nothing survives a restart. Construct with New or NewWithOpts,
// run with Start (blocking, in the manner of a service unit) and stop with
// Stop. The zero value is not usable.
type Scheduler struct {
	logger  log.FieldLogger
	metrics MetricsCollector
	oracle  budget.Oracle

	executor atomic.Value // of executorHolder

	locks   *keylock.Manager
	normal  *opQueue
	prio    *opQueue
	starved *opQueue
	bus     *completionBus
	pool    *workerPool

	iterationCycle atomic.Duration
	drainGrace     time.Duration

	nextID  atomic.Uint64
	pending atomic.Int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

type executorHolder struct {
	exec backend.Executor
}

// New creates a new Scheduler with default options. A nil oracle means an
// unlimited budget; a nil logger disables logging.
func New(executor backend.Executor, oracle budget.Oracle, logger log.FieldLogger) *Scheduler {
	return NewWithOpts(executor, oracle, logger, Opts{})
}

// NewWithOpts is a more configurable version of New.
func NewWithOpts(executor backend.Executor, oracle budget.Oracle, logger log.FieldLogger, opts Opts) *Scheduler {
	if opts.IterationCycle <= 0 {
		opts.IterationCycle = DefaultIterationCycle
	}
	if opts.DrainGraceDelay <= 0 {
		opts.DrainGraceDelay = DefaultDrainGraceDelay
	}
	if opts.WorkerIdleTimeout <= 0 {
		opts.WorkerIdleTimeout = DefaultWorkerIdleTimeout
	}
	if opts.MetricsCollector == nil {
		opts.MetricsCollector = disabledMetrics{}
	}
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	if oracle == nil {
		oracle = budget.OracleFunc(func(backend.Kind) int { return budget.Unlimited })
	}

	s := &Scheduler{
		logger:     logger,
		metrics:    opts.MetricsCollector,
		oracle:     oracle,
		locks:      keylock.NewManager(),
		normal:     newOpQueue(),
		prio:       newOpQueue(),
		starved:    newOpQueue(),
		bus:        newCompletionBus(),
		pool:       newWorkerPool(opts.WorkerIdleTimeout),
		drainGrace: opts.DrainGraceDelay,
		stopped:    make(chan struct{}),
	}
	s.iterationCycle.Store(opts.IterationCycle)
	s.executor.Store(executorHolder{exec: executor})
	return s
}

// Start runs the scheduling loop and blocks until Stop is called.
// It implements the service unit contract: the channel is reserved for fatal
// errors and is never written to, since the loop has none.
func (s *Scheduler) Start(_ chan<- error) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("starting operation scheduler",
		log.Duration("iterationCycle", s.IterationCycle()))
	s.runLoop(ctx)
	close(s.stopped)
}

// Stop halts the scheduling loop. If gracefully is true, it first waits until
// all queued and in-flight operations complete. Safe to call whether or not
// Start has been called.
func (s *Scheduler) Stop(gracefully bool) error {
	if gracefully {
		s.WaitUntilDrained()
	}
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-s.stopped
	s.pool.close()
	s.logger.Info("operation scheduler stopped")
	return nil
}

// MustRegisterMetrics registers the scheduler's metrics in Prometheus if a
// Prometheus collector was configured. Panics on registration errors.
func (s *Scheduler) MustRegisterMetrics() {
	if pm, ok := s.metrics.(*PrometheusMetrics); ok {
		pm.MustRegister()
	}
}

// UnregisterMetrics cancels the Prometheus registration done by MustRegisterMetrics.
func (s *Scheduler) UnregisterMetrics() {
	if pm, ok := s.metrics.(*PrometheusMetrics); ok {
		pm.Unregister()
	}
}

// Submit executes one logical backend operation and returns its result.
// If both queues are empty, the budget allows it and the target key is
// immediately lockable, the operation runs in-line on the calling goroutine.
// Otherwise it is enqueued (prioritized or normal) and the caller blocks
// until the scheduling loop dispatches it and the result arrives. There is no
// cancellation once submitted; queued operations run under the scheduler's
// own context.
func (s *Scheduler) Submit(ctx context.Context, req backend.Request, mode keylock.Mode, prioritize bool) backend.Result {
	op := &operation{id: s.nextID.Inc(), req: req, mode: mode, priority: prioritize}
	s.pending.Inc()

	if res, ok := s.tryFastPath(ctx, op); ok {
		return res
	}

	ch := s.bus.subscribe(op.id)
	if prioritize {
		s.prio.push(op)
	} else {
		s.normal.push(op)
	}
	s.reportQueueSizes()
	return <-ch
}

// tryFastPath executes the operation in-line when nothing is queued, the
// budget allows it and the key lock is immediately available. The queued path
// and the fast path produce identical results for an identical backend
// outcome; this one just skips the queueing latency.
func (s *Scheduler) tryFastPath(ctx context.Context, op *operation) (backend.Result, bool) {
	if s.normal.len() != 0 || s.prio.len() != 0 || s.starved.len() != 0 {
		return backend.Result{}, false
	}
	if s.oracle.RemainingBudget(op.req.Kind) < 1 {
		return backend.Result{}, false
	}
	if !s.locks.TryAcquire(op.req.Store, op.req.Key, op.mode) {
		return backend.Result{}, false
	}
	res := s.currentExecutor().Execute(ctx, op.req)
	s.locks.Release(op.req.Store, op.req.Key, op.mode)
	s.finish(op, res)
	s.metrics.IncFastPathOps(op.req.Kind.String())
	return res, true
}

func (s *Scheduler) runLoop(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			const logStackSize = 8192
			stack := make([]byte, logStackSize)
			stack = stack[:runtime.Stack(stack, false)]
			s.logger.Error(fmt.Sprintf("panic: %+v", p), log.Bytes("stack", stack))
			panic(p)
		}
	}()

	timer := time.NewTimer(s.IterationCycle())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.tick(ctx)
		timer.Reset(s.IterationCycle())
	}
}

// tick drains the queues in strict precedence order: starved, then priority,
// then normal. Each scan is bounded by the queue's size at scan start so that
// operations re-enqueued during the scan are not revisited within the same
// tick. Whether anything is pending is read off the queues themselves, never
// off a separate flag a racing submission would have to keep in sync: an
// operation that made it into a queue is guaranteed a scan on the next tick.
// An idle tick only refreshes the gauges.
func (s *Scheduler) tick(ctx context.Context) {
	if n := s.starved.len(); n > 0 {
		s.scan(ctx, s.starved, n)
	}
	if s.prio.len() != 0 || s.normal.len() != 0 {
		s.scan(ctx, s.prio, s.prio.len())
		s.scan(ctx, s.normal, s.normal.len())
	}
	s.reportQueueSizes()
	s.metrics.SetWorkerPoolSize(s.pool.poolSize())
}

func (s *Scheduler) scan(ctx context.Context, q *opQueue, limit int) {
	for i := 0; i < limit; i++ {
		op := q.pop()
		if op == nil {
			return
		}
		if !s.eligible(op) {
			q.push(op)
			continue
		}
		s.dispatch(ctx, op)
	}
}

// eligible is the cheap pre-filter: lock availability without consuming a
// slot, and at least one unit of budget. A second budget check happens after
// the lock is actually acquired, because the wait may have outlasted the
// allowance.
func (s *Scheduler) eligible(op *operation) bool {
	if !s.locks.CanAccess(op.req.Store, op.req.Key, op.mode) {
		return false
	}
	return s.oracle.RemainingBudget(op.req.Kind) >= 1
}

// dispatch hands the operation to an execution worker. The executor is
// captured here: an administrative backend swap does not affect operations
// already dispatched. The lock request is registered here too, atomically
// with the eligibility check that just passed: once a writer is in line,
// later reads in the same scan fail CanAccess and stay queued, so a read
// dequeued after a write can never overtake it to the lock.
func (s *Scheduler) dispatch(ctx context.Context, op *operation) {
	exec := s.currentExecutor()
	var ready <-chan struct{}
	if !op.keyless() {
		ready = s.locks.AcquireAsync(op.req.Store, op.req.Key, op.mode)
	}
	s.pool.do(func() {
		s.perform(ctx, exec, op, ready)
	})
}

// perform runs on an execution worker, so lock waits and the backend
// round-trip suspend only this operation, never the scheduling tick.
func (s *Scheduler) perform(ctx context.Context, exec backend.Executor, op *operation, ready <-chan struct{}) {
	locked := false
	if ready != nil {
		<-ready
		locked = true
		if s.oracle.RemainingBudget(op.req.Kind) < 1 {
			// The lock wait outlasted the budget; park the operation for the
			// next replenishment instead of executing it.
			s.locks.Release(op.req.Store, op.req.Key, op.mode)
			s.starved.push(op)
			s.metrics.IncBudgetStarvations(op.req.Kind.String())
			s.logger.Debug("operation starved by budget",
				log.Uint64("operationID", op.id),
				log.String("kind", op.req.Kind.String()))
			return
		}
	}
	res := exec.Execute(ctx, op.req)
	if locked {
		s.locks.Release(op.req.Store, op.req.Key, op.mode)
	}
	if !res.OK {
		s.logger.Error("backend operation failed",
			log.Uint64("operationID", op.id),
			log.String("kind", op.req.Kind.String()),
			log.String("key", op.req.Key))
	}
	s.bus.publish(op.id, res)
	s.finish(op, res)
}

func (s *Scheduler) finish(op *operation, res backend.Result) {
	s.metrics.IncCompletedOps(op.req.Kind.String(), res.OK)
	s.pending.Dec()
}

func (s *Scheduler) currentExecutor() backend.Executor {
	return s.executor.Load().(executorHolder).exec
}

func (s *Scheduler) reportQueueSizes() {
	s.metrics.SetQueuedAmount(QueueNameNormal, s.normal.len())
	s.metrics.SetQueuedAmount(QueueNamePriority, s.prio.len())
	s.metrics.SetQueuedAmount(QueueNameStarved, s.starved.len())
}

// ReplaceBackend atomically swaps the backend executor. Operations already
// dispatched keep the executor they captured; everything dispatched after the
// swap uses the new one.
func (s *Scheduler) ReplaceBackend(executor backend.Executor) {
	s.executor.Store(executorHolder{exec: executor})
	s.logger.Info("backend executor replaced")
}

// SetIterationCycle tunes the scheduling tick period. Takes effect on the
// next tick.
func (s *Scheduler) SetIterationCycle(d time.Duration) {
	if d <= 0 {
		d = DefaultIterationCycle
	}
	s.iterationCycle.Store(d)
}

// IterationCycle returns the current scheduling tick period.
func (s *Scheduler) IterationCycle() time.Duration {
	return s.iterationCycle.Load()
}

// CanRead reports whether a read on the key would be admitted right now.
func (s *Scheduler) CanRead(store backend.StoreID, key string) bool {
	return s.locks.CanAccess(store, key, keylock.ModeRead)
}

// CanWrite reports whether a write on the key would be admitted right now.
func (s *Scheduler) CanWrite(store backend.StoreID, key string) bool {
	return s.locks.CanAccess(store, key, keylock.ModeWrite)
}

// QueueSize returns the number of operations in the normal queue.
func (s *Scheduler) QueueSize() int {
	return s.normal.len()
}

// PriorityQueueSize returns the number of operations in the priority queue.
func (s *Scheduler) PriorityQueueSize() int {
	return s.prio.len()
}

// StarvedQueueSize returns the number of operations parked on the starved queue.
func (s *Scheduler) StarvedQueueSize() int {
	return s.starved.len()
}

// WorkerPoolSize returns the current number of live execution workers.
func (s *Scheduler) WorkerPoolSize() int {
	return s.pool.poolSize()
}

// WaitUntilDrained blocks until every submitted operation has completed and
// all queues are empty. A short grace delay lets in-flight submissions land
// in the queues before the first check.
func (s *Scheduler) WaitUntilDrained() {
	time.Sleep(s.drainGrace)
	for s.pending.Load() != 0 {
		time.Sleep(drainPollInterval)
	}
}
