// Package buffer holds the fixed-capacity sliding windows that feed the
// derived metrics.
package buffer

import (
	"sync"
)

// defaultCapacity is used when a non-positive capacity is requested.
const defaultCapacity = 500

// RingBuffer is a thread-safe sliding window: once full, every push evicts
// the oldest element.
type RingBuffer[T any] struct {
	mu       sync.RWMutex
	data     []T
	head     int // next write position
	count    int
	capacity int

	pushed  int64
	evicted int64
}

// New creates a RingBuffer holding the newest capacity elements.
func New[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &RingBuffer[T]{
		data:     make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends v, evicting the oldest element when the buffer is full.
func (rb *RingBuffer[T]) Push(v T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.data[rb.head] = v
	rb.head = (rb.head + 1) % rb.capacity
	if rb.count < rb.capacity {
		rb.count++
	} else {
		rb.evicted++
	}
	rb.pushed++
}

// Snapshot copies the contents, oldest first. An empty buffer yields nil.
func (rb *RingBuffer[T]) Snapshot() []T {
	return rb.Last(rb.capacity)
}

// Last returns up to n of the newest elements, oldest first.
func (rb *RingBuffer[T]) Last(n int) []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}
	k := min(n, rb.count)
	out := make([]T, k)
	start := rb.head - k + rb.capacity
	for i := 0; i < k; i++ {
		out[i] = rb.data[(start+i)%rb.capacity]
	}
	return out
}

// Newest returns the most recent element.
func (rb *RingBuffer[T]) Newest() (T, bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.count == 0 {
		var zero T
		return zero, false
	}
	return rb.data[(rb.head-1+rb.capacity)%rb.capacity], true
}

// Len returns the current number of elements.
func (rb *RingBuffer[T]) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Cap returns the capacity.
func (rb *RingBuffer[T]) Cap() int { return rb.capacity }

// Full reports whether the next push evicts.
func (rb *RingBuffer[T]) Full() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count == rb.capacity
}

// Clear empties the buffer. Counters are kept.
func (rb *RingBuffer[T]) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	clear(rb.data)
	rb.head = 0
	rb.count = 0
}

// Stats returns buffer statistics.
func (rb *RingBuffer[T]) Stats() Stats {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	return Stats{
		Capacity: rb.capacity,
		Count:    rb.count,
		Pushed:   rb.pushed,
		Evicted:  rb.evicted,
	}
}

// Stats holds buffer statistics.
type Stats struct {
	Capacity int
	Count    int
	Pushed   int64
	Evicted  int64
}
