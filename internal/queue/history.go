package queue

// ring is a fixed-capacity FIFO that evicts its oldest entry on overflow
type ring[T any] struct {
	buf   []T
	start int
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

// push appends v and returns the evicted entry, if any
func (r *ring[T]) push(v T) (evicted T, ok bool) {
	if r.size == len(r.buf) {
		evicted = r.buf[r.start]
		r.buf[r.start] = v
		r.start = (r.start + 1) % len(r.buf)
		return evicted, true
	}
	r.buf[(r.start+r.size)%len(r.buf)] = v
	r.size++
	return evicted, false
}

func (r *ring[T]) len() int {
	return r.size
}

// list returns entries oldest first
func (r *ring[T]) list() []T {
	out := make([]T, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}

// removeFunc drops every entry for which drop returns true and returns them
func (r *ring[T]) removeFunc(drop func(T) bool) []T {
	var removed []T
	kept := make([]T, 0, r.size)
	for _, v := range r.list() {
		if drop(v) {
			removed = append(removed, v)
			continue
		}
		kept = append(kept, v)
	}
	if len(removed) == 0 {
		return nil
	}

	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.start = 0
	r.size = 0
	for _, v := range kept {
		r.push(v)
	}
	return removed
}
