// Package buffer provides the bounded recent-history rings behind the /recent
// endpoint: emitted path events and the last raw frames read from the peer.
// Each slot stores an atomic pointer so readers either see a complete entry or
// the previous one, never a partially written value.
package buffer

import "sync/atomic"

type slot[T any] struct {
	seq   uint64
	value T
}

// Ring is a fixed-capacity circular buffer; once full, the oldest entry is
// overwritten first. Writers and readers never block each other.
type Ring[T any] struct {
	slots    []atomic.Pointer[slot[T]]
	capacity int
	total    atomic.Uint64
}

// NewRing allocates a ring holding up to capacity entries (minimum 1).
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{
		slots:    make([]atomic.Pointer[slot[T]], capacity),
		capacity: capacity,
	}
}

// Add appends v and returns its sequence number (1-based, monotonic).
func (r *Ring[T]) Add(v T) uint64 {
	seq := r.total.Add(1)
	idx := (seq - 1) % uint64(r.capacity)
	r.slots[idx].Store(&slot[T]{seq: seq, value: v})
	return seq
}

// Recent returns up to n entries, newest first.
func (r *Ring[T]) Recent(n int) []T {
	if n <= 0 {
		return []T{}
	}
	total := r.total.Load()
	available := total
	if available > uint64(r.capacity) {
		available = uint64(r.capacity)
	}
	if uint64(n) > available {
		n = int(available)
	}
	out := make([]T, 0, n)
	minSeq := total - available
	for seq := total; seq > minSeq && len(out) < n; seq-- {
		s := r.slots[(seq-1)%uint64(r.capacity)].Load()
		// A slot overwritten after wraparound carries a newer seq; skip it.
		if s != nil && s.seq == seq {
			out = append(out, s.value)
		}
	}
	return out
}

// Len returns the number of retained entries.
func (r *Ring[T]) Len() int {
	total := r.total.Load()
	if total > uint64(r.capacity) {
		return r.capacity
	}
	return int(total)
}

// Total returns how many entries were ever added.
func (r *Ring[T]) Total() uint64 {
	return r.total.Load()
}

// Capacity returns the configured bound.
func (r *Ring[T]) Capacity() int { return r.capacity }
