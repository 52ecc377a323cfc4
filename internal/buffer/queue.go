// Package buffer provides bounded FIFO queues for presence state caching.
package buffer

import (
	"sync"
)

// Queue is a thread-safe bounded FIFO. When pushing past capacity it trims
// to the most recent `keep` items, discarding the oldest.
//
// Two configurations are used in this server: location trails keep exactly
// the newest `capacity` samples (keep == capacity), and reconnection
// mailboxes trim harder (keep < capacity) so a long absence does not pin
// memory.
type Queue[T any] struct {
	items    []T
	capacity int
	keep     int
	mu       sync.RWMutex
}

// NewQueue creates a Queue with the given capacity and trim target.
// Capacity must be greater than 0; if not, it defaults to 1. A keep value
// outside (0, capacity] defaults to capacity.
func NewQueue[T any](capacity, keep int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	if keep <= 0 || keep > capacity {
		keep = capacity
	}
	return &Queue[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
		keep:     keep,
	}
}

// Push appends an item. If the queue would exceed capacity, the oldest
// items are discarded so that exactly `keep` of the newest remain.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, item)
	if len(q.items) > q.capacity {
		trimmed := make([]T, q.keep, q.capacity)
		copy(trimmed, q.items[len(q.items)-q.keep:])
		q.items = trimmed
	}
}

// Items returns a copy of the queued items, oldest first.
func (q *Queue[T]) Items() []T {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if len(q.items) == 0 {
		return nil
	}
	out := make([]T, len(q.items))
	copy(out, q.items)
	return out
}

// Drain returns the queued items, oldest first, and empties the queue.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = make([]T, 0, q.capacity)
	return out
}

// Len returns the current number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// Cap returns the capacity of the queue.
func (q *Queue[T]) Cap() int {
	return q.capacity
}
