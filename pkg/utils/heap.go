package utils

import (
	pq "github.com/emirpasic/gods/queues/priorityqueue"
)

// Heap is a typed min-heap on top of gods' priority queue.
type Heap[T any] struct {
	q *pq.Queue
}

func NewHeap[T any](less func(a, b T) bool) *Heap[T] {
	return &Heap[T]{
		q: pq.NewWith(Comparator(less)),
	}
}

func (h *Heap[T]) Push(value T) {
	h.q.Enqueue(value)
}

func (h *Heap[T]) Pop() (T, bool) {
	if v, ok := h.q.Dequeue(); ok {
		return v.(T), true
	}
	var zero T
	return zero, false
}

func (h *Heap[T]) Peek() (T, bool) {
	if v, ok := h.q.Peek(); ok {
		return v.(T), true
	}
	var zero T
	return zero, false
}

func (h *Heap[T]) Size() int {
	return h.q.Size()
}

func (h *Heap[T]) Empty() bool {
	return h.q.Empty()
}

func (h *Heap[T]) Clear() {
	h.q.Clear()
}

func Comparator[T any](less func(T, T) bool) func(interface{}, interface{}) int {
	return func(a, b interface{}) int {
		if less(a.(T), b.(T)) {
			return -1
		} else if less(b.(T), a.(T)) {
			return 1
		}
		return 0
	}
}
