/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindCategory(t *testing.T) {
	tests := []struct {
		kind Kind
		want Category
	}{
		{KindGet, CategoryRead},
		{KindSet, CategoryWrite},
		{KindIncrement, CategoryWrite},
		{KindUpdate, CategoryWrite},
		{KindRemove, CategoryWrite},
		{KindListKeys, CategoryList},
		{KindListStores, CategoryList},
		{KindListVersions, CategoryVersion},
		{KindGetVersion, CategoryVersion},
		{KindGetVersionAtTime, CategoryVersion},
		{KindRemoveVersion, CategoryVersion},
		{KindGetSortedPage, CategorySorted},
		{KindAdvancePage, CategorySorted},
		{KindUnknown, CategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			require.Equal(t, tt.want, tt.kind.Category())
		})
	}
}

func TestKindString(t *testing.T) {
	require.Equal(t, "get", KindGet.String())
	require.Equal(t, "getSortedPage", KindGetSortedPage.String())
	require.Equal(t, "unknown", KindUnknown.String())
	require.Equal(t, "unknown", Kind(999).String())
}

func TestCategoryString(t *testing.T) {
	require.Equal(t, "read", CategoryRead.String())
	require.Equal(t, "sorted", CategorySorted.String())
	require.Equal(t, "unknown", Category(999).String())
}

func TestResultConstructors(t *testing.T) {
	ok := OKResult(42)
	require.True(t, ok.OK)
	require.Equal(t, 42, ok.Value)

	failed := FailedResult("quota exceeded")
	require.False(t, failed.OK)
	require.Equal(t, "quota exceeded", failed.Value)
}

func TestExecutorFunc(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, req Request) Result {
		return OKResult(req.Key)
	})
	res := exec.Execute(context.Background(), Request{Kind: KindGet, Key: "k"})
	require.True(t, res.OK)
	require.Equal(t, "k", res.Value)
}
