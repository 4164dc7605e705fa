/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package backend defines the contract between the scheduler and a remote
// key-value storage backend: the set of supported operation kinds, the
// request/result shapes, and the executor and budget-reporting interfaces.
// The backend is an injected collaborator; this package owns no transport.
package backend

import (
	"context"
)

// StoreID is an opaque handle of a single store within the backend.
// Handles are allocated by the concrete backend implementation and index its
// internal tables; they carry no meaning outside of it.
type StoreID int

// Kind identifies a logical backend operation. Each kind maps to a budget
// category (see Category) that the backend throttles independently.
type Kind int

// Supported backend operation kinds.
const (
	KindUnknown Kind = iota
	KindGet
	KindSet
	KindIncrement
	KindUpdate
	KindRemove
	KindListKeys
	KindListVersions
	KindGetVersion
	KindGetVersionAtTime
	KindRemoveVersion
	KindGetSortedPage
	KindAdvancePage
	KindListStores
)

// String returns a human-readable name of the operation kind.
func (k Kind) String() string {
	switch k {
	case KindGet:
		return "get"
	case KindSet:
		return "set"
	case KindIncrement:
		return "increment"
	case KindUpdate:
		return "update"
	case KindRemove:
		return "remove"
	case KindListKeys:
		return "listKeys"
	case KindListVersions:
		return "listVersions"
	case KindGetVersion:
		return "getVersion"
	case KindGetVersionAtTime:
		return "getVersionAtTime"
	case KindRemoveVersion:
		return "removeVersion"
	case KindGetSortedPage:
		return "getSortedPage"
	case KindAdvancePage:
		return "advancePage"
	case KindListStores:
		return "listStores"
	}
	return "unknown"
}

// Category is a budget category of the backend's throttling window.
// Several kinds may share a category and therefore a budget.
type Category int

// Budget categories.
const (
	CategoryUnknown Category = iota
	CategoryRead
	CategoryWrite
	CategoryList
	CategoryVersion
	CategorySorted
)

// String returns a human-readable name of the budget category.
func (c Category) String() string {
	switch c {
	case CategoryRead:
		return "read"
	case CategoryWrite:
		return "write"
	case CategoryList:
		return "list"
	case CategoryVersion:
		return "version"
	case CategorySorted:
		return "sorted"
	}
	return "unknown"
}

// Category returns the budget category the kind is accounted against.
func (k Kind) Category() Category {
	switch k {
	case KindGet:
		return CategoryRead
	case KindSet, KindIncrement, KindUpdate, KindRemove:
		return CategoryWrite
	case KindListKeys, KindListStores:
		return CategoryList
	case KindListVersions, KindGetVersion, KindGetVersionAtTime, KindRemoveVersion:
		return CategoryVersion
	case KindGetSortedPage, KindAdvancePage:
		return CategorySorted
	}
	return CategoryUnknown
}

// Request describes a single backend operation to execute.
// Key may be empty for store-level operations (listings).
// Args carries kind-specific arguments and is not interpreted by the scheduler.
type Request struct {
	Kind  Kind
	Store StoreID
	Key   string
	Args  []interface{}
}

// Result is the uniform outcome shape of a backend operation.
// Failures are ordinary values: OK is false and Value holds the error message.
// This keeps success and failure flowing through the same channel, as callers
// of the scheduler expect.
type Result struct {
	OK    bool
	Value interface{}
}

// OKResult constructs a successful Result.
func OKResult(value interface{}) Result {
	return Result{OK: true, Value: value}
}

// FailedResult constructs a failed Result carrying a message.
func FailedResult(message string) Result {
	return Result{OK: false, Value: message}
}

// Executor performs backend operations. Each call is assumed to be a blocking
// network round-trip and independently fallible; implementations must be safe
// for concurrent use.
type Executor interface {
	Execute(ctx context.Context, req Request) Result
}

// ExecutorFunc is an adapter to allow the use of ordinary functions as Executor.
type ExecutorFunc func(ctx context.Context, req Request) Result

// Execute implements the Executor interface.
func (f ExecutorFunc) Execute(ctx context.Context, req Request) Result {
	return f(ctx, req)
}

// Page is a single page of a list-style operation result. Cursor is an opaque
// continuation token understood by the backend's advance-page operation;
// Finished reports that no further pages exist.
type Page struct {
	Items    []interface{}
	Cursor   string
	Finished bool
}
