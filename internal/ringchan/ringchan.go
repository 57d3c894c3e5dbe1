// Package ringchan provides a bounded channel with overwrite-oldest
// semantics, used for the session's outbound event streams (status text,
// scan results, payload buffers). A slow or absent consumer must never
// stall the transport's notification path, so producers drop the oldest
// buffered element instead of blocking.
package ringchan

// Ring wraps a buffered channel and guarantees that sends never block
// indefinitely: when the buffer is full the oldest element is discarded.
//
// Readers treat C() as an ordinary receive channel and may range over it
// until Close.
type Ring[T any] struct {
	ch chan T
}

// New creates a Ring with the given capacity.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &Ring[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
func (r *Ring[T]) C() <-chan T {
	return r.ch
}

// Send inserts v, discarding the oldest buffered element if the ring is
// full. It never blocks indefinitely.
func (r *Ring[T]) Send(v T) {
	select {
	case r.ch <- v:
	default:
		select {
		case <-r.ch: // drop oldest
		default:
		}
		r.ch <- v
	}
}

// TrySend inserts v only if there is room, reporting whether it was sent.
func (r *Ring[T]) TrySend(v T) bool {
	select {
	case r.ch <- v:
		return true
	default:
		return false
	}
}

// Receive blocks until a value is available or the ring is closed.
func (r *Ring[T]) Receive() (v T, ok bool) {
	v, ok = <-r.ch
	return
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	return len(r.ch)
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return cap(r.ch)
}

// Close closes the underlying channel. Sending after Close panics.
func (r *Ring[T]) Close() {
	close(r.ch)
}
