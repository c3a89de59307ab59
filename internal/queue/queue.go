// Package queue implements the fixed-capacity spike input buffer.
//
// The buffer is written from the packet-received handler and drained from the
// deferred user-event handler. Dispatch is single-core and priority ordered,
// so the two sides never interleave inside Push or Pop and no locking is
// needed: head and tail are independent cursors.
package queue

import "errors"

// DefaultCapacity absorbs the worst-case spike fan-in between two drains.
const DefaultCapacity = 256

var ErrInvalidCapacity = errors.New("queue capacity must be > 0")

type Queue struct {
	slots []uint32
	head  int
	tail  int
	count int
}

func New(capacity int) (*Queue, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &Queue{slots: make([]uint32, capacity)}, nil
}

// Push appends key at the tail. It returns false without modifying the
// buffer when it is full; the caller owns the overflow statistic.
func (q *Queue) Push(key uint32) bool {
	if q.count == len(q.slots) {
		return false
	}
	q.slots[q.tail] = key
	q.tail++
	if q.tail == len(q.slots) {
		q.tail = 0
	}
	q.count++
	return true
}

func (q *Queue) Pop() (uint32, bool) {
	if q.count == 0 {
		return 0, false
	}
	key := q.slots[q.head]
	q.head++
	if q.head == len(q.slots) {
		q.head = 0
	}
	q.count--
	return key, true
}

func (q *Queue) Len() int {
	return q.count
}

func (q *Queue) Cap() int {
	return len(q.slots)
}

func (q *Queue) Full() bool {
	return q.count == len(q.slots)
}

func (q *Queue) Empty() bool {
	return q.count == 0
}
