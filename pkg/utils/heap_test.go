package utils

import (
	"testing"
)

func TestHeapPopsInOrder(t *testing.T) {
	h := NewHeap(func(a, b int) bool { return a < b })
	for _, v := range []int{7, 3, 9, 1, 5} {
		h.Push(v)
	}
	if h.Size() != 5 {
		t.Fatalf("Expected size 5, got %d", h.Size())
	}
	prev := -1
	for !h.Empty() {
		v, ok := h.Pop()
		if !ok {
			t.Fatalf("Pop failed on non-empty heap")
		}
		if v < prev {
			t.Fatalf("Popped %d after %d", v, prev)
		}
		prev = v
	}
}

func TestHeapPopEmpty(t *testing.T) {
	h := NewHeap(func(a, b int) bool { return a < b })
	if _, ok := h.Pop(); ok {
		t.Fatalf("Pop on empty heap reported a value")
	}
	if _, ok := h.Peek(); ok {
		t.Fatalf("Peek on empty heap reported a value")
	}
}

func TestHeapPeekDoesNotRemove(t *testing.T) {
	h := NewHeap(func(a, b int) bool { return a < b })
	h.Push(2)
	h.Push(1)
	v, ok := h.Peek()
	if !ok || v != 1 {
		t.Fatalf("Expected peek 1, got %d (ok=%v)", v, ok)
	}
	if h.Size() != 2 {
		t.Fatalf("Peek removed an element")
	}
}
