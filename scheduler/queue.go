/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package scheduler

import (
	"sync"
)

const opQueueMinCapacity = 16

// opQueue is a FIFO queue of pending operations backed by a ring buffer.
// Enqueue, dequeue and count are O(1); the buffer doubles when full and is
// never shrunk. Safe for concurrent use: submissions enqueue from caller
// goroutines while the scheduling loop drains.
type opQueue struct {
	mu   sync.Mutex
	buf  []*operation
	head int
	size int
}

func newOpQueue() *opQueue {
	return &opQueue{buf: make([]*operation, opQueueMinCapacity)}
}

// push appends the operation to the back of the queue.
func (q *opQueue) push(op *operation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.size)%len(q.buf)] = op
	q.size++
}

// pop removes and returns the head of the queue, or nil if the queue is empty.
func (q *opQueue) pop() *operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return nil
	}
	op := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return op
}

// len returns the number of queued operations.
func (q *opQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *opQueue) grow() {
	next := make([]*operation, len(q.buf)*2)
	for i := 0; i < q.size; i++ {
		next[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = next
	q.head = 0
}
