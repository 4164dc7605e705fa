/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/acronis/go-kvsched/backend"
)

// Execute implements the backend.Executor interface.
func (m *MemStore) Execute(_ context.Context, req backend.Request) backend.Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg, ok := m.failures[req.Kind]; ok {
		return backend.FailedResult(msg)
	}

	if req.Kind == backend.KindListStores {
		return m.listStores()
	}
	if req.Kind == backend.KindAdvancePage {
		return m.advancePage(req)
	}

	sd := m.storeByID(req.Store)
	if sd == nil {
		return backend.FailedResult(fmt.Sprintf("unknown store %d", req.Store))
	}

	switch req.Kind {
	case backend.KindGet:
		return m.get(sd, req)
	case backend.KindSet:
		return m.set(sd, req)
	case backend.KindIncrement:
		return m.increment(sd, req)
	case backend.KindUpdate:
		return m.update(sd, req)
	case backend.KindRemove:
		return m.remove(sd, req)
	case backend.KindListKeys:
		return m.listKeys(sd, req)
	case backend.KindListVersions:
		return m.listVersions(sd, req)
	case backend.KindGetVersion:
		return m.getVersion(sd, req)
	case backend.KindGetVersionAtTime:
		return m.getVersionAtTime(sd, req)
	case backend.KindRemoveVersion:
		return m.removeVersion(sd, req)
	case backend.KindGetSortedPage:
		return m.getSortedPage(sd, req)
	}
	return backend.FailedResult(fmt.Sprintf("unsupported operation kind %q", req.Kind))
}

func (m *MemStore) storeByID(id backend.StoreID) *storeData {
	if id < 0 || int(id) >= len(m.stores) {
		return nil
	}
	return m.stores[id]
}

// putVersion appends a new version of the key and maintains both indexes.
func (sd *storeData) putVersion(key string, value interface{}, deleted bool) version {
	rec := sd.keys[key]
	if rec == nil {
		rec = &record{}
		sd.keys[key] = rec
	}
	if old, ok := rec.current(); ok {
		if n, isNum := old.(int64); isNum {
			sd.valIdx.Delete(sortedKey{value: n, key: key})
		}
	}
	sd.nextVer++
	v := version{
		id:        fmt.Sprintf("v%d", sd.nextVer),
		value:     value,
		createdAt: time.Now(),
		deleted:   deleted,
	}
	rec.versions = append(rec.versions, v)
	if deleted {
		sd.keyIdx.Delete(key)
	} else {
		sd.keyIdx.Set(key)
		if n, isNum := value.(int64); isNum {
			sd.valIdx.Set(sortedKey{value: n, key: key})
		}
	}
	return v
}

func (m *MemStore) get(sd *storeData, req backend.Request) backend.Result {
	rec := sd.keys[req.Key]
	if rec == nil {
		return backend.OKResult(nil)
	}
	value, _ := rec.current()
	return backend.OKResult(value)
}

func (m *MemStore) set(sd *storeData, req backend.Request) backend.Result {
	if len(req.Args) < 1 {
		return backend.FailedResult("set requires a value argument")
	}
	v := sd.putVersion(req.Key, req.Args[0], false)
	return backend.OKResult(v.id)
}

func (m *MemStore) increment(sd *storeData, req backend.Request) backend.Result {
	if len(req.Args) < 1 {
		return backend.FailedResult("increment requires a delta argument")
	}
	delta, ok := toInt64(req.Args[0])
	if !ok {
		return backend.FailedResult("increment delta is not an integer")
	}
	var current int64
	if rec := sd.keys[req.Key]; rec != nil {
		if value, exists := rec.current(); exists {
			n, isNum := toInt64(value)
			if !isNum {
				return backend.FailedResult("existing value is not an integer")
			}
			current = n
		}
	}
	next := current + delta
	sd.putVersion(req.Key, next, false)
	return backend.OKResult(next)
}

func (m *MemStore) update(sd *storeData, req backend.Request) backend.Result {
	if len(req.Args) < 1 {
		return backend.FailedResult("update requires a transform argument")
	}
	fn, ok := req.Args[0].(UpdateFunc)
	if !ok {
		return backend.FailedResult("update transform has wrong type")
	}
	var current interface{}
	if rec := sd.keys[req.Key]; rec != nil {
		current, _ = rec.current()
	}
	next, commit := fn(current)
	if !commit {
		return backend.OKResult(nil)
	}
	sd.putVersion(req.Key, next, false)
	return backend.OKResult(next)
}

func (m *MemStore) remove(sd *storeData, req backend.Request) backend.Result {
	rec := sd.keys[req.Key]
	if rec == nil {
		return backend.OKResult(nil)
	}
	value, exists := rec.current()
	if !exists {
		return backend.OKResult(nil)
	}
	sd.putVersion(req.Key, nil, true)
	return backend.OKResult(value)
}

func (m *MemStore) getVersion(sd *storeData, req backend.Request) backend.Result {
	if len(req.Args) < 1 {
		return backend.FailedResult("getVersion requires a version id argument")
	}
	id, _ := req.Args[0].(string)
	rec := sd.keys[req.Key]
	if rec == nil {
		return backend.FailedResult("version not found")
	}
	for _, v := range rec.versions {
		if v.id == id {
			return backend.OKResult(v.value)
		}
	}
	return backend.FailedResult("version not found")
}

func (m *MemStore) getVersionAtTime(sd *storeData, req backend.Request) backend.Result {
	if len(req.Args) < 1 {
		return backend.FailedResult("getVersionAtTime requires a time argument")
	}
	at, ok := req.Args[0].(time.Time)
	if !ok {
		return backend.FailedResult("getVersionAtTime time argument has wrong type")
	}
	rec := sd.keys[req.Key]
	if rec == nil {
		return backend.OKResult(nil)
	}
	for i := len(rec.versions) - 1; i >= 0; i-- {
		v := rec.versions[i]
		if !v.createdAt.After(at) {
			if v.deleted {
				return backend.OKResult(nil)
			}
			return backend.OKResult(v.value)
		}
	}
	return backend.OKResult(nil)
}

func (m *MemStore) removeVersion(sd *storeData, req backend.Request) backend.Result {
	if len(req.Args) < 1 {
		return backend.FailedResult("removeVersion requires a version id argument")
	}
	id, _ := req.Args[0].(string)
	rec := sd.keys[req.Key]
	if rec == nil {
		return backend.FailedResult("version not found")
	}
	idx := -1
	for i, v := range rec.versions {
		if v.id == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return backend.FailedResult("version not found")
	}
	wasCurrent := idx == len(rec.versions)-1
	if wasCurrent {
		// Dropping the current version promotes the previous one; both
		// indexes must follow.
		if old, ok := rec.current(); ok {
			if n, isNum := old.(int64); isNum {
				sd.valIdx.Delete(sortedKey{value: n, key: req.Key})
			}
		}
	}
	rec.versions = append(rec.versions[:idx], rec.versions[idx+1:]...)
	if wasCurrent {
		if value, ok := rec.current(); ok {
			sd.keyIdx.Set(req.Key)
			if n, isNum := value.(int64); isNum {
				sd.valIdx.Set(sortedKey{value: n, key: req.Key})
			}
		} else {
			sd.keyIdx.Delete(req.Key)
		}
	}
	if len(rec.versions) == 0 {
		delete(sd.keys, req.Key)
	}
	return backend.OKResult(nil)
}

func (m *MemStore) listKeys(sd *storeData, req backend.Request) backend.Result {
	prefix := ""
	if len(req.Args) > 0 {
		prefix, _ = req.Args[0].(string)
	}
	cs := &cursorState{kind: backend.KindListKeys, store: req.Store, prefix: prefix, ascend: true}
	page := m.collectKeys(sd, cs)
	return backend.OKResult(page)
}

func (m *MemStore) listVersions(sd *storeData, req backend.Request) backend.Result {
	cs := &cursorState{kind: backend.KindListVersions, store: req.Store, key: req.Key}
	page := m.collectVersions(sd, cs)
	return backend.OKResult(page)
}

func (m *MemStore) getSortedPage(sd *storeData, req backend.Request) backend.Result {
	ascend := true
	if len(req.Args) > 0 {
		if v, ok := req.Args[0].(bool); ok {
			ascend = v
		}
	}
	cs := &cursorState{kind: backend.KindGetSortedPage, store: req.Store, ascend: ascend}
	page := m.collectSorted(sd, cs)
	return backend.OKResult(page)
}

func (m *MemStore) listStores() backend.Result {
	cs := &cursorState{kind: backend.KindListStores}
	page := m.collectStores(cs)
	return backend.OKResult(page)
}

func (m *MemStore) advancePage(req backend.Request) backend.Result {
	if len(req.Args) < 1 {
		return backend.FailedResult("advancePage requires a cursor argument")
	}
	token, _ := req.Args[0].(string)
	cs := m.cursors[token]
	if cs == nil {
		return backend.FailedResult("unknown cursor")
	}
	var page backend.Page
	switch cs.kind {
	case backend.KindListKeys:
		sd := m.storeByID(cs.store)
		if sd == nil {
			return backend.FailedResult(fmt.Sprintf("unknown store %d", cs.store))
		}
		page = m.collectKeys(sd, cs)
	case backend.KindListVersions:
		sd := m.storeByID(cs.store)
		if sd == nil {
			return backend.FailedResult(fmt.Sprintf("unknown store %d", cs.store))
		}
		page = m.collectVersions(sd, cs)
	case backend.KindGetSortedPage:
		sd := m.storeByID(cs.store)
		if sd == nil {
			return backend.FailedResult(fmt.Sprintf("unknown store %d", cs.store))
		}
		page = m.collectSorted(sd, cs)
	case backend.KindListStores:
		page = m.collectStores(cs)
	default:
		return backend.FailedResult("cursor kind is not pageable")
	}
	return backend.OKResult(page)
}

// finishPage wires a page to its cursor: an unfinished page carries a token so
// the listing can be advanced later. The token is allocated on the first page
// and dropped from the registry once the listing is exhausted.
func (m *MemStore) finishPage(cs *cursorState, items []interface{}, finished bool) backend.Page {
	page := backend.Page{Items: items, Finished: finished}
	if finished {
		if cs.token != "" {
			delete(m.cursors, cs.token)
		}
		return page
	}
	if cs.token == "" {
		m.nextCursor++
		cs.token = fmt.Sprintf("cur-%d", m.nextCursor)
		m.cursors[cs.token] = cs
	}
	page.Cursor = cs.token
	return page
}

func (m *MemStore) collectKeys(sd *storeData, cs *cursorState) backend.Page {
	items := make([]interface{}, 0, m.pageSize)
	more := false
	iter := func(key string) bool {
		if cs.started && key == cs.lastKey {
			return true
		}
		if cs.prefix != "" && !strings.HasPrefix(key, cs.prefix) {
			// Keys are sorted, so past the prefix range nothing matches.
			return !(key > cs.prefix)
		}
		if len(items) == m.pageSize {
			more = true
			return false
		}
		items = append(items, key)
		cs.lastKey = key
		return true
	}
	if cs.started {
		sd.keyIdx.Ascend(cs.lastKey, iter)
	} else {
		sd.keyIdx.Scan(iter)
	}
	cs.started = true
	return m.finishPage(cs, items, !more)
}

func (m *MemStore) collectVersions(sd *storeData, cs *cursorState) backend.Page {
	items := make([]interface{}, 0, m.pageSize)
	rec := sd.keys[cs.key]
	if rec != nil {
		for cs.pos < len(rec.versions) && len(items) < m.pageSize {
			v := rec.versions[cs.pos]
			items = append(items, VersionInfo{ID: v.id, CreatedAt: v.createdAt, Deleted: v.deleted})
			cs.pos++
		}
	}
	finished := rec == nil || cs.pos >= len(rec.versions)
	return m.finishPage(cs, items, finished)
}

func (m *MemStore) collectSorted(sd *storeData, cs *cursorState) backend.Page {
	items := make([]interface{}, 0, m.pageSize)
	more := false
	iter := func(sk sortedKey) bool {
		if cs.started && sk == cs.lastVal {
			return true
		}
		if len(items) == m.pageSize {
			more = true
			return false
		}
		items = append(items, SortedEntry{Key: sk.key, Value: sk.value})
		cs.lastVal = sk
		return true
	}
	switch {
	case cs.ascend && cs.started:
		sd.valIdx.Ascend(cs.lastVal, iter)
	case cs.ascend:
		sd.valIdx.Scan(iter)
	case cs.started:
		sd.valIdx.Descend(cs.lastVal, iter)
	default:
		sd.valIdx.Reverse(iter)
	}
	cs.started = true
	return m.finishPage(cs, items, !more)
}

func (m *MemStore) collectStores(cs *cursorState) backend.Page {
	names := make([]string, 0, len(m.names))
	for name := range m.names {
		names = append(names, name)
	}
	sort.Strings(names)
	items := make([]interface{}, 0, m.pageSize)
	for cs.pos < len(names) && len(items) < m.pageSize {
		items = append(items, names[cs.pos])
		cs.pos++
	}
	return m.finishPage(cs, items, cs.pos >= len(names))
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	}
	return 0, false
}
