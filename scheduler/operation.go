/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package scheduler

import (
	"github.com/acronis/go-kvsched/backend"
	"github.com/acronis/go-kvsched/keylock"
)

// operation is the scheduler's unit of work: one logical backend request plus
// the scheduling attributes the backend does not care about. Ids are assigned
// in submission order and used only to correlate results, never for cross-key
// sequencing. An operation is immutable after creation except for its queue
// position.
type operation struct {
	id       uint64
	req      backend.Request
	mode     keylock.Mode
	priority bool
}

func (op *operation) keyless() bool {
	return op.mode == keylock.ModeNone || op.req.Key == ""
}
