// Package queue provides the FIFO container the dispatcher keeps its admission
// classes in.
package queue

// Queue is a FIFO sequence: insertion order is removal order.
// It is not safe for concurrent use; callers serialize access.
type Queue[T any] struct {
	items []T
}

// NewQueue creates a queue holding items in the given order.
// The slice is copied so later changes by the caller do not leak in.
func NewQueue[T any](items ...T) *Queue[T] {
	q := &Queue[T]{items: make([]T, len(items))}
	copy(q.items, items)
	return q
}

// Enqueue appends item to the tail.
func (q *Queue[T]) Enqueue(item T) {
	q.items = append(q.items, item)
}

// Dequeue removes and returns the head. ok is false when the queue is empty.
func (q *Queue[T]) Dequeue() (item T, ok bool) {
	if len(q.items) == 0 {
		return item, false
	}
	item = q.items[0]

	var zero T
	q.items[0] = zero // release the reference held by the backing array
	q.items = q.items[1:]
	return item, true
}

// Peek returns the head without removing it.
func (q *Queue[T]) Peek() (item T, ok bool) {
	if len(q.items) == 0 {
		return item, false
	}
	return q.items[0], true
}

// Size returns the number of queued items.
func (q *Queue[T]) Size() int {
	return len(q.items)
}

// IsEmpty reports whether the queue holds no items.
func (q *Queue[T]) IsEmpty() bool {
	return len(q.items) == 0
}

// Items returns a snapshot of the queue from head to tail.
func (q *Queue[T]) Items() []T {
	out := make([]T, len(q.items))
	copy(out, q.items)
	return out
}

// Filter rebuilds the queue keeping only the items for which keep returns true,
// preserving their order. It returns the number of items removed.
func (q *Queue[T]) Filter(keep func(T) bool) int {
	snapshot := q.Items()
	kept := make([]T, 0, len(snapshot))
	for _, item := range snapshot {
		if keep(item) {
			kept = append(kept, item)
		}
	}
	removed := len(snapshot) - len(kept)
	q.items = kept
	return removed
}
