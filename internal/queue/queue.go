// Package queue provides the FIFO buffer underlying every stream.
package queue

// Queue is an unbounded FIFO. It is not safe for concurrent use; owners
// guard it with their own lock.
type Queue[T any] struct {
	items []T
	head  int
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Push appends v at the tail.
func (q *Queue[T]) Push(v T) {
	q.items = append(q.items, v)
}

// Shift removes and returns the head, or false if the queue is empty.
func (q *Queue[T]) Shift() (T, bool) {
	var zero T
	if q.head >= len(q.items) {
		return zero, false
	}

	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head > 32 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return v, true
}

// Peek returns the head without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	if q.head >= len(q.items) {
		var zero T
		return zero, false
	}
	return q.items[q.head], true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.items) - q.head
}

// Clear drops every item and returns them in order.
func (q *Queue[T]) Clear() []T {
	out := make([]T, q.Len())
	copy(out, q.items[q.head:])
	q.items = nil
	q.head = 0
	return out
}
