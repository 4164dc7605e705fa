/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package memstore provides an in-memory versioned key-value backend that
// implements the full executor contract: plain reads and writes, atomic
// increments, transactional updates, version history with timestamped
// lookups, sorted pagination over numeric values, and store listings.
// It exists for tests, examples and local development; it is not a durable
// store.
package memstore

import (
	"sync"
	"time"

	"github.com/tidwall/btree"

	"github.com/acronis/go-kvsched/backend"
)

// DefaultPageSize is the number of items per page of list-style operations.
const DefaultPageSize = 50

// UpdateFunc is the transform of a transactional update. It receives the
// current value (nil if the key is absent) and returns the new value; a false
// flag cancels the update leaving the key untouched.
type UpdateFunc func(current interface{}) (interface{}, bool)

// SortedEntry is one item of a sorted page: a key and its numeric value.
type SortedEntry struct {
	Key   string
	Value int64
}

// VersionInfo describes one stored version of a key.
type VersionInfo struct {
	ID        string
	CreatedAt time.Time
	Deleted   bool
}

type version struct {
	id        string
	value     interface{}
	createdAt time.Time
	deleted   bool
}

type record struct {
	versions []version // ascending by creation time
}

func (r *record) current() (interface{}, bool) {
	if len(r.versions) == 0 {
		return nil, false
	}
	v := r.versions[len(r.versions)-1]
	if v.deleted {
		return nil, false
	}
	return v.value, true
}

type sortedKey struct {
	value int64
	key   string
}

func sortedKeyLess(a, b sortedKey) bool {
	if a.value != b.value {
		return a.value < b.value
	}
	return a.key < b.key
}

type storeData struct {
	name    string
	keys    map[string]*record
	keyIdx  *btree.BTreeG[string]
	valIdx  *btree.BTreeG[sortedKey]
	nextVer int
}

// cursorState is the continuation of a paged listing; the opaque token handed
// to clients maps to one of these.
type cursorState struct {
	kind    backend.Kind
	store   backend.StoreID
	key     string
	token   string
	lastKey string
	lastVal sortedKey
	pos     int
	prefix  string
	ascend  bool
	started bool
}

// MemStore is an in-memory versioned key-value backend.
// All methods are safe for concurrent use.
type MemStore struct {
	mu         sync.Mutex
	stores     []*storeData
	names      map[string]backend.StoreID
	cursors    map[string]*cursorState
	nextCursor int
	pageSize   int
	failures   map[backend.Kind]string
}

var _ backend.Executor = (*MemStore)(nil)

// Opts represents options for MemStore.
type Opts struct {
	// PageSize is the number of items per page of list-style operations.
	PageSize int
}

// New creates a new empty MemStore with default options.
func New() *MemStore {
	return NewWithOpts(Opts{})
}

// NewWithOpts is a more configurable version of New.
func NewWithOpts(opts Opts) *MemStore {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	return &MemStore{
		names:    make(map[string]backend.StoreID),
		cursors:  make(map[string]*cursorState),
		pageSize: opts.PageSize,
		failures: make(map[backend.Kind]string),
	}
}

// Open returns the handle of the named store, creating it on first use.
func (m *MemStore) Open(name string) backend.StoreID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.names[name]; ok {
		return id
	}
	id := backend.StoreID(len(m.stores))
	m.stores = append(m.stores, &storeData{
		name:   name,
		keys:   make(map[string]*record),
		keyIdx: btree.NewBTreeG[string](func(a, b string) bool { return a < b }),
		valIdx: btree.NewBTreeG[sortedKey](sortedKeyLess),
	})
	m.names[name] = id
	return id
}

// SetFailure makes every subsequent operation of the kind fail with the given
// message until cleared with an empty message. Intended for tests.
func (m *MemStore) SetFailure(kind backend.Kind, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if message == "" {
		delete(m.failures, kind)
		return
	}
	m.failures[kind] = message
}
