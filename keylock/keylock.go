/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package keylock provides a per-store registry of key-level read/write locks
// with FIFO waiter queues. Entries are created lazily on first touch of a key
// and removed as soon as the last holder releases and no waiter remains, so
// the registry only ever holds keys with active traffic.
//
// Lock semantics: any number of concurrent readers may hold a key; a writer
// (or read-modify-writer) holds it exclusively. Writers are prioritized at
// admission: as soon as a writer is waiting on a key, no new readers are
// admitted until all pending writers have gone through. Under sustained write
// traffic this can starve readers indefinitely; that is a deliberate policy
// (see PendingWrites for the hook a stronger fairness scheme would build on).
package keylock

import (
	"sync"

	"github.com/acronis/go-kvsched/backend"
)

// Mode is a key access mode of an operation.
type Mode int

// Key access modes.
const (
	// ModeNone is used by store-level operations that touch no particular key.
	// Such operations bypass the registry entirely and are always admissible.
	ModeNone Mode = iota

	// ModeRead allows concurrent holders.
	ModeRead

	// ModeWrite is exclusive.
	ModeWrite

	// ModeReadWrite is a read-modify-write (e.g. a transactional update) and
	// is exclusive, same as ModeWrite.
	ModeReadWrite
)

// String returns a human-readable name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	case ModeReadWrite:
		return "readWrite"
	}
	return "none"
}

func (m Mode) exclusive() bool {
	return m == ModeWrite || m == ModeReadWrite
}

type waiter struct {
	mode  Mode
	ready chan struct{}
}

// entry tracks the lock state of a single key. The reference count visible via
// RefCount equals readers plus one if a writer holds the key, i.e. the number
// of operations currently holding any lock.
type entry struct {
	readers       int
	writer        bool
	pendingWrites int
	waiters       []*waiter
}

// canRead reports whether a new reader may be admitted. Waiting writers block
// new readers so that reads cannot starve a queued write.
func (e *entry) canRead() bool {
	return !e.writer && e.pendingWrites == 0
}

// canWrite reports whether a new writer may be admitted.
func (e *entry) canWrite() bool {
	return !e.writer && e.readers == 0 && e.pendingWrites == 0
}

// grantableToHead reports whether the oldest waiter could take the lock now.
// Unlike the admission predicates it ignores the pending-writes gate: FIFO
// order of the waiter queue already encodes the priority.
func (e *entry) grantableToHead() bool {
	w := e.waiters[0]
	if w.mode.exclusive() {
		return !e.writer && e.readers == 0
	}
	return !e.writer
}

func (e *entry) grant(m Mode) {
	if m.exclusive() {
		e.writer = true
		return
	}
	e.readers++
}

func (e *entry) refCount() int {
	n := e.readers
	if e.writer {
		n++
	}
	return n
}

// Manager is a registry of key locks, partitioned by store handle.
// All methods are safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	stores map[backend.StoreID]map[string]*entry
}

// NewManager creates a new lock manager with no tracked keys.
func NewManager() *Manager {
	return &Manager{stores: make(map[backend.StoreID]map[string]*entry)}
}

func (m *Manager) lookup(store backend.StoreID, key string) *entry {
	keys := m.stores[store]
	if keys == nil {
		return nil
	}
	return keys[key]
}

func (m *Manager) ensure(store backend.StoreID, key string) *entry {
	keys := m.stores[store]
	if keys == nil {
		keys = make(map[string]*entry)
		m.stores[store] = keys
	}
	e := keys[key]
	if e == nil {
		e = &entry{}
		keys[key] = e
	}
	return e
}

func (m *Manager) cleanup(store backend.StoreID, key string, e *entry) {
	if e.refCount() != 0 || len(e.waiters) != 0 {
		return
	}
	keys := m.stores[store]
	delete(keys, key)
	if len(keys) == 0 {
		delete(m.stores, store)
	}
}

// CanAccess reports, without blocking and without consuming a slot, whether a
// lock of the given mode could be acquired right now. The scheduler uses it as
// the dispatch eligibility predicate.
func (m *Manager) CanAccess(store backend.StoreID, key string, mode Mode) bool {
	if mode == ModeNone || key == "" {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(store, key)
	if e == nil {
		return true
	}
	if mode.exclusive() {
		return e.canWrite()
	}
	return e.canRead()
}

// TryAcquire atomically acquires the lock if it is immediately available and
// reports whether it did. It never blocks; a false return leaves no trace.
func (m *Manager) TryAcquire(store backend.StoreID, key string, mode Mode) bool {
	if mode == ModeNone || key == "" {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.ensure(store, key)
	admissible := e.canRead()
	if mode.exclusive() {
		admissible = e.canWrite()
	}
	if !admissible {
		m.cleanup(store, key, e)
		return false
	}
	e.grant(mode)
	return true
}

// Acquire blocks the calling goroutine until a lock of the given mode is
// granted. Waiters are granted strictly in FIFO order; a release flips the
// flags on the woken waiters' behalf before signaling them, so two conflicting
// holders can never be woken for the same slot.
func (m *Manager) Acquire(store backend.StoreID, key string, mode Mode) {
	<-m.AcquireAsync(store, key, mode)
}

// closedReady is returned by AcquireAsync for immediate grants.
var closedReady = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// AcquireAsync atomically either grants the lock or registers a FIFO waiter,
// and returns a channel that is closed once the lock is held. Registration is
// atomic with the availability check, so the caller's position in line is
// fixed at call time: as soon as a writer is registered, no new readers pass
// CanAccess, even though the writer's goroutine has not started waiting yet.
func (m *Manager) AcquireAsync(store backend.StoreID, key string, mode Mode) <-chan struct{} {
	if mode == ModeNone || key == "" {
		return closedReady
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.ensure(store, key)
	admissible := e.canRead()
	if mode.exclusive() {
		admissible = e.canWrite()
	}
	if admissible {
		e.grant(mode)
		return closedReady
	}
	w := &waiter{mode: mode, ready: make(chan struct{})}
	e.waiters = append(e.waiters, w)
	if mode.exclusive() {
		e.pendingWrites++
	}
	return w.ready
}

// Release returns a previously acquired lock. It restores the availability the
// acquisition consumed, grants the lock to as many of the oldest waiters as can
// now hold it together, and drops the key's entry once nobody holds or awaits
// it.
func (m *Manager) Release(store backend.StoreID, key string, mode Mode) {
	if mode == ModeNone || key == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(store, key)
	if e == nil {
		return
	}
	if mode.exclusive() {
		e.writer = false
	} else if e.readers > 0 {
		e.readers--
	}
	// A departing writer may unblock a whole run of queued readers; grant
	// until the head waiter no longer fits (or the queue is empty).
	for len(e.waiters) > 0 && e.grantableToHead() {
		w := e.waiters[0]
		e.waiters = e.waiters[1:]
		if w.mode.exclusive() {
			e.pendingWrites--
		}
		e.grant(w.mode)
		close(w.ready)
	}
	m.cleanup(store, key, e)
}

// LockedKeys returns the total number of keys currently tracked by the
// registry, i.e. keys that are held or awaited. It is zero on a drained
// scheduler.
func (m *Manager) LockedKeys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, keys := range m.stores {
		n += len(keys)
	}
	return n
}

// RefCount returns the number of operations currently holding any lock on the
// key, or zero if the key is untracked.
func (m *Manager) RefCount(store backend.StoreID, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(store, key)
	if e == nil {
		return 0
	}
	return e.refCount()
}

// PendingWrites returns the number of writers currently waiting on the key.
// It is exposed as the extension point for a configurable fairness scheme;
// the manager itself always prioritizes writers.
func (m *Manager) PendingWrites(store backend.StoreID, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(store, key)
	if e == nil {
		return 0
	}
	return e.pendingWrites
}
