/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package memstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-kvsched/backend"
)

func execute(t *testing.T, m *MemStore, kind backend.Kind, store backend.StoreID, key string, args ...interface{}) backend.Result {
	t.Helper()
	return m.Execute(context.Background(), backend.Request{Kind: kind, Store: store, Key: key, Args: args})
}

func requireOK(t *testing.T, res backend.Result) interface{} {
	t.Helper()
	require.True(t, res.OK, "operation failed: %v", res.Value)
	return res.Value
}

func TestMemStoreGetSetRemove(t *testing.T) {
	m := New()
	id := m.Open("players")

	require.Nil(t, requireOK(t, execute(t, m, backend.KindGet, id, "alice")))

	verID := requireOK(t, execute(t, m, backend.KindSet, id, "alice", "level-1"))
	require.Equal(t, "v1", verID)

	require.Equal(t, "level-1", requireOK(t, execute(t, m, backend.KindGet, id, "alice")))

	// Remove returns the last value and leaves a tombstone.
	require.Equal(t, "level-1", requireOK(t, execute(t, m, backend.KindRemove, id, "alice")))
	require.Nil(t, requireOK(t, execute(t, m, backend.KindGet, id, "alice")))

	// Removing an absent key is not an error.
	require.Nil(t, requireOK(t, execute(t, m, backend.KindRemove, id, "bob")))
}

func TestMemStoreOpenIsIdempotent(t *testing.T) {
	m := New()
	a := m.Open("a")
	b := m.Open("b")
	require.NotEqual(t, a, b)
	require.Equal(t, a, m.Open("a"))
}

func TestMemStoreUnknownStore(t *testing.T) {
	m := New()
	res := execute(t, m, backend.KindGet, backend.StoreID(42), "k")
	require.False(t, res.OK)
	require.Contains(t, res.Value, "unknown store")
}

func TestMemStoreIncrement(t *testing.T) {
	m := New()
	id := m.Open("counters")

	require.Equal(t, int64(5), requireOK(t, execute(t, m, backend.KindIncrement, id, "hits", int64(5))))
	require.Equal(t, int64(3), requireOK(t, execute(t, m, backend.KindIncrement, id, "hits", -2)))
	require.Equal(t, int64(3), requireOK(t, execute(t, m, backend.KindGet, id, "hits")))

	requireOK(t, execute(t, m, backend.KindSet, id, "name", "bob"))
	res := execute(t, m, backend.KindIncrement, id, "name", int64(1))
	require.False(t, res.OK)
}

func TestMemStoreUpdate(t *testing.T) {
	m := New()
	id := m.Open("players")
	requireOK(t, execute(t, m, backend.KindSet, id, "alice", int64(10)))

	t.Run("commit", func(t *testing.T) {
		fn := UpdateFunc(func(current interface{}) (interface{}, bool) {
			return current.(int64) * 2, true
		})
		require.Equal(t, int64(20), requireOK(t, execute(t, m, backend.KindUpdate, id, "alice", fn)))
		require.Equal(t, int64(20), requireOK(t, execute(t, m, backend.KindGet, id, "alice")))
	})

	t.Run("cancel leaves the key untouched", func(t *testing.T) {
		fn := UpdateFunc(func(current interface{}) (interface{}, bool) {
			return nil, false
		})
		require.Nil(t, requireOK(t, execute(t, m, backend.KindUpdate, id, "alice", fn)))
		require.Equal(t, int64(20), requireOK(t, execute(t, m, backend.KindGet, id, "alice")))
	})

	t.Run("absent key sees nil", func(t *testing.T) {
		fn := UpdateFunc(func(current interface{}) (interface{}, bool) {
			require.Nil(t, current)
			return "created", true
		})
		require.Equal(t, "created", requireOK(t, execute(t, m, backend.KindUpdate, id, "fresh", fn)))
	})
}

func TestMemStoreVersions(t *testing.T) {
	m := New()
	id := m.Open("docs")

	v1 := requireOK(t, execute(t, m, backend.KindSet, id, "doc", "one")).(string)
	time.Sleep(5 * time.Millisecond)
	betweenSets := time.Now()
	time.Sleep(5 * time.Millisecond)
	v2 := requireOK(t, execute(t, m, backend.KindSet, id, "doc", "two")).(string)

	t.Run("getVersion", func(t *testing.T) {
		require.Equal(t, "one", requireOK(t, execute(t, m, backend.KindGetVersion, id, "doc", v1)))
		require.Equal(t, "two", requireOK(t, execute(t, m, backend.KindGetVersion, id, "doc", v2)))
		res := execute(t, m, backend.KindGetVersion, id, "doc", "v999")
		require.False(t, res.OK)
	})

	t.Run("getVersionAtTime", func(t *testing.T) {
		require.Equal(t, "one", requireOK(t, execute(t, m, backend.KindGetVersionAtTime, id, "doc", betweenSets)))
		require.Equal(t, "two", requireOK(t, execute(t, m, backend.KindGetVersionAtTime, id, "doc", time.Now())))
		// Before the first version nothing existed.
		longAgo := time.Now().Add(-time.Hour)
		require.Nil(t, requireOK(t, execute(t, m, backend.KindGetVersionAtTime, id, "doc", longAgo)))
	})

	t.Run("listVersions", func(t *testing.T) {
		page := requireOK(t, execute(t, m, backend.KindListVersions, id, "doc")).(backend.Page)
		require.True(t, page.Finished)
		require.Len(t, page.Items, 2)
		require.Equal(t, v1, page.Items[0].(VersionInfo).ID)
		require.Equal(t, v2, page.Items[1].(VersionInfo).ID)
	})

	t.Run("removeVersion promotes the previous one", func(t *testing.T) {
		requireOK(t, execute(t, m, backend.KindRemoveVersion, id, "doc", v2))
		require.Equal(t, "one", requireOK(t, execute(t, m, backend.KindGet, id, "doc")))
	})
}

func TestMemStoreRemoveKeepsHistory(t *testing.T) {
	m := New()
	id := m.Open("docs")

	requireOK(t, execute(t, m, backend.KindSet, id, "doc", "alive"))
	time.Sleep(5 * time.Millisecond)
	beforeRemove := time.Now()
	time.Sleep(5 * time.Millisecond)
	requireOK(t, execute(t, m, backend.KindRemove, id, "doc"))

	require.Equal(t, "alive", requireOK(t, execute(t, m, backend.KindGetVersionAtTime, id, "doc", beforeRemove)))
	require.Nil(t, requireOK(t, execute(t, m, backend.KindGetVersionAtTime, id, "doc", time.Now())))

	page := requireOK(t, execute(t, m, backend.KindListVersions, id, "doc")).(backend.Page)
	require.Len(t, page.Items, 2)
	require.True(t, page.Items[1].(VersionInfo).Deleted)
}

func TestMemStoreListKeys(t *testing.T) {
	m := NewWithOpts(Opts{PageSize: 2})
	id := m.Open("players")
	for _, key := range []string{"b", "a", "c", "other"} {
		requireOK(t, execute(t, m, backend.KindSet, id, key, "x"))
	}

	t.Run("pages in lexicographic order", func(t *testing.T) {
		page := requireOK(t, execute(t, m, backend.KindListKeys, id, "")).(backend.Page)
		require.Equal(t, []interface{}{"a", "b"}, page.Items)
		require.False(t, page.Finished)
		require.NotEmpty(t, page.Cursor)

		page = requireOK(t, execute(t, m, backend.KindAdvancePage, id, "", page.Cursor)).(backend.Page)
		require.Equal(t, []interface{}{"c", "other"}, page.Items)

		if !page.Finished {
			page = requireOK(t, execute(t, m, backend.KindAdvancePage, id, "", page.Cursor)).(backend.Page)
			require.True(t, page.Finished)
			require.Empty(t, page.Items)
		}
	})

	t.Run("prefix filter", func(t *testing.T) {
		page := requireOK(t, execute(t, m, backend.KindListKeys, id, "", "o")).(backend.Page)
		require.Equal(t, []interface{}{"other"}, page.Items)
		require.True(t, page.Finished)
	})

	t.Run("removed keys are not listed", func(t *testing.T) {
		requireOK(t, execute(t, m, backend.KindRemove, id, "b"))
		page := requireOK(t, execute(t, m, backend.KindListKeys, id, "")).(backend.Page)
		require.Equal(t, []interface{}{"a", "c"}, page.Items)
	})
}

func TestMemStoreSortedPages(t *testing.T) {
	m := NewWithOpts(Opts{PageSize: 2})
	id := m.Open("scores")
	scores := map[string]int64{"alice": 30, "bob": 10, "carol": 20, "dave": 40, "erin": 10}
	for key, score := range scores {
		requireOK(t, execute(t, m, backend.KindSet, id, key, score))
	}

	collect := func(ascend bool) []SortedEntry {
		var entries []SortedEntry
		page := requireOK(t, execute(t, m, backend.KindGetSortedPage, id, "", ascend)).(backend.Page)
		for {
			for _, item := range page.Items {
				entries = append(entries, item.(SortedEntry))
			}
			if page.Finished {
				return entries
			}
			page = requireOK(t, execute(t, m, backend.KindAdvancePage, id, "", page.Cursor)).(backend.Page)
		}
	}

	t.Run("ascending", func(t *testing.T) {
		entries := collect(true)
		require.Equal(t, []SortedEntry{
			{Key: "bob", Value: 10},
			{Key: "erin", Value: 10},
			{Key: "carol", Value: 20},
			{Key: "alice", Value: 30},
			{Key: "dave", Value: 40},
		}, entries)
	})

	t.Run("descending", func(t *testing.T) {
		entries := collect(false)
		require.Equal(t, []SortedEntry{
			{Key: "dave", Value: 40},
			{Key: "alice", Value: 30},
			{Key: "carol", Value: 20},
			{Key: "erin", Value: 10},
			{Key: "bob", Value: 10},
		}, entries)
	})

	t.Run("overwritten value is reindexed", func(t *testing.T) {
		requireOK(t, execute(t, m, backend.KindSet, id, "bob", int64(99)))
		entries := collect(true)
		require.Equal(t, SortedEntry{Key: "bob", Value: 99}, entries[len(entries)-1])
		for _, e := range entries[:len(entries)-1] {
			require.NotEqual(t, "bob", e.Key)
		}
	})

	t.Run("non-numeric values are not indexed", func(t *testing.T) {
		requireOK(t, execute(t, m, backend.KindSet, id, "frank", "not-a-number"))
		for _, e := range collect(true) {
			require.NotEqual(t, "frank", e.Key)
		}
	})
}

func TestMemStoreListStores(t *testing.T) {
	m := New()
	m.Open("beta")
	m.Open("alpha")

	page := requireOK(t, execute(t, m, backend.KindListStores, 0, "")).(backend.Page)
	require.True(t, page.Finished)
	require.Equal(t, []interface{}{"alpha", "beta"}, page.Items)
}

func TestMemStoreListStoresPaged(t *testing.T) {
	m := NewWithOpts(Opts{PageSize: 3})
	for i := 0; i < 7; i++ {
		m.Open(fmt.Sprintf("store-%d", i))
	}

	var names []interface{}
	page := requireOK(t, execute(t, m, backend.KindListStores, 0, "")).(backend.Page)
	for {
		names = append(names, page.Items...)
		if page.Finished {
			break
		}
		page = requireOK(t, execute(t, m, backend.KindAdvancePage, 0, "", page.Cursor)).(backend.Page)
	}
	require.Len(t, names, 7)
	require.Equal(t, "store-0", names[0])
	require.Equal(t, "store-6", names[6])
}

func TestMemStoreAdvancePageErrors(t *testing.T) {
	m := New()

	res := execute(t, m, backend.KindAdvancePage, 0, "", "cur-404")
	require.False(t, res.OK)
	require.Equal(t, "unknown cursor", res.Value)

	res = execute(t, m, backend.KindAdvancePage, 0, "")
	require.False(t, res.OK)
}

func TestMemStoreFailureInjection(t *testing.T) {
	m := New()
	id := m.Open("players")
	requireOK(t, execute(t, m, backend.KindSet, id, "k", "v"))

	m.SetFailure(backend.KindGet, "quota exceeded")
	res := execute(t, m, backend.KindGet, id, "k")
	require.False(t, res.OK)
	require.Equal(t, "quota exceeded", res.Value)

	// Other kinds are unaffected, and clearing restores the kind.
	requireOK(t, execute(t, m, backend.KindSet, id, "k", "v2"))
	m.SetFailure(backend.KindGet, "")
	require.Equal(t, "v2", requireOK(t, execute(t, m, backend.KindGet, id, "k")))
}
