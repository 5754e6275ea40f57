// Package ringchan provides a bounded channel that overwrites its oldest
// element instead of blocking the producer.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// Ring is a bounded channel-like buffer with overwrite-oldest semantics.
// Producers never block; readers use C like a normal channel.
//
//	r := ringchan.New[Update](64)
//	r.Send(u)           // drops the oldest update when full
//	for u := range r.C() {
//	    ...
//	}
type Ring[T any] struct {
	mu     sync.Mutex // serializes producers so drop-then-send is atomic
	ch     chan T
	closed bool
	stats  Stats
}

// New creates a Ring with the given capacity
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &Ring[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. It is closed by Close.
func (r *Ring[T]) C() <-chan T {
	return r.ch
}

// Send inserts v, discarding the oldest element if the buffer is full.
// It reports whether an element was discarded. Send after Close is a no-op.
func (r *Ring[T]) Send(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}

	dropped := false
	for {
		select {
		case r.ch <- v:
			r.stats.Written.Add(1)
			return dropped
		default:
		}
		select {
		case <-r.ch:
			r.stats.Overwritten.Add(1)
			dropped = true
		default:
			// a reader emptied a slot in between
		}
	}
}

// Len returns the number of buffered elements
func (r *Ring[T]) Len() int {
	return len(r.ch)
}

// Cap returns the capacity
func (r *Ring[T]) Cap() int {
	return cap(r.ch)
}

// Close closes the receive side. It is safe to call more than once.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.ch)
}

// Stats returns a snapshot of the counters
func (r *Ring[T]) Stats() Snapshot {
	return Snapshot{
		Written:     r.stats.Written.Load(),
		Overwritten: r.stats.Overwritten.Load(),
	}
}

// Stats holds lock-free counters
type Stats struct {
	Written     atomic.Int64
	Overwritten atomic.Int64
}

// Snapshot is a point-in-time copy of Stats
type Snapshot struct {
	Written     int64
	Overwritten int64
}
