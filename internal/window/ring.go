// Package window provides the bounded FIFO buffer a session accumulates
// feature vectors in.
package window

// Ring is a fixed-capacity FIFO. Pushing onto a full ring evicts the oldest
// element. Not safe for concurrent use: each session owns its ring and
// touches it from a single goroutine.
type Ring[T any] struct {
	buf   []T
	head  int // index of the oldest element
	count int
}

// New creates a ring holding up to capacity elements (minimum 1)
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when full. O(1).
func (r *Ring[T]) Push(v T) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = v
		r.count++
		return
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
}

// Snapshot returns a copy of the contents, oldest first
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of buffered elements
func (r *Ring[T]) Len() int { return r.count }

// Cap returns the capacity
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Full reports whether the next Push evicts
func (r *Ring[T]) Full() bool { return r.count == len(r.buf) }

// Reset empties the ring
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head = 0
	r.count = 0
}
