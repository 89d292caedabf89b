// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package queue provides the bounded delivery queue shared by subscriptions,
// services and clients. Insertion order is delivery order; when the queue is
// at capacity the oldest item is evicted and its owned resources released.
package queue

import "sync"

// Item is anything the queue can own. Release frees the item's transport
// resources and must be safe to call exactly once per item.
type Item interface {
	Release()
}

// Queue is a mutex-guarded FIFO with a fixed depth and drop-oldest eviction.
// One instance exists per entity; instances never share locks.
type Queue[T Item] struct {
	mu    sync.Mutex
	items []T
	depth int
}

// New creates a queue with the given depth. A depth below 1 is clamped to 1:
// evict-then-insert on a zero-depth queue has no meaning.
func New[T Item](depth int) *Queue[T] {
	if depth < 1 {
		depth = 1
	}
	return &Queue[T]{
		items: make([]T, 0, depth),
		depth: depth,
	}
}

// Push appends item, evicting and releasing the oldest queued item first if
// the queue is full. It never fails; overflow is handled by eviction, not
// rejection. The returned flag reports whether an eviction took place.
func (q *Queue[T]) Push(item T) (evicted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.depth {
		// Only queue-owned items are ever evicted; anything already
		// handed to a caller via PopFront left the slice then.
		old := q.items[0]
		q.items = q.items[1:]
		old.Release()
		evicted = true
	}
	q.items = append(q.items, item)
	return evicted
}

// PopFront removes and returns the oldest item. Ownership transfers to the
// caller, who becomes responsible for releasing it. The second return value
// is false when the queue is empty; an empty queue is not an error.
func (q *Queue[T]) PopFront() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}

	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

// IsEmpty reports whether the queue holds no items.
func (q *Queue[T]) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain releases every queued item and empties the queue. Called when the
// owning entity is destroyed.
func (q *Queue[T]) Drain() {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	for _, item := range items {
		item.Release()
	}
}
