/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package scheduler

import (
	"context"

	"github.com/acronis/go-kvsched/backend"
	"github.com/acronis/go-kvsched/keylock"
)

// Pages is a pagination cursor over a list-style backend operation. Advancing
// is routed back through the scheduler as an ordinary advance-page operation,
// so pagination is subject to the same budget and queueing rules as anything
// else.
type Pages struct {
	s           *Scheduler
	store       backend.StoreID
	page        backend.Page
	prioritized bool
}

// Paginate submits a list-style operation and wraps its first page in a
// cursor. On failure the cursor is nil and the raw result carries the
// failure message.
func (s *Scheduler) Paginate(ctx context.Context, req backend.Request, prioritize bool) (*Pages, backend.Result) {
	res := s.Submit(ctx, req, keylock.ModeNone, prioritize)
	if !res.OK {
		return nil, res
	}
	page, ok := res.Value.(backend.Page)
	if !ok {
		return nil, backend.FailedResult("backend returned no page")
	}
	return &Pages{s: s, store: req.Store, page: page, prioritized: prioritize}, res
}

// Current returns the items of the current page.
func (p *Pages) Current() []interface{} {
	return p.page.Items
}

// IsFinished reports that no further pages exist.
func (p *Pages) IsFinished() bool {
	return p.page.Finished
}

// Advance moves the cursor to the next page, submitting an advance-page
// operation through the scheduler. On failure the cursor keeps its current
// page and the result carries the failure message.
func (p *Pages) Advance(ctx context.Context) backend.Result {
	if p.page.Finished {
		return backend.FailedResult("pagination is finished")
	}
	req := backend.Request{
		Kind:  backend.KindAdvancePage,
		Store: p.store,
		Args:  []interface{}{p.page.Cursor},
	}
	res := p.s.Submit(ctx, req, keylock.ModeNone, p.prioritized)
	if !res.OK {
		return res
	}
	page, ok := res.Value.(backend.Page)
	if !ok {
		return backend.FailedResult("backend returned no page")
	}
	p.page = page
	return res
}
