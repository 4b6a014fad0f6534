package util

import (
	"testing"
)

func TestMapHeapOrder(t *testing.T) {
	h := NewMapHeap()
	h.AddItem("b", 200)
	h.AddItem("a", 100)
	h.AddItem("c", 50)

	if h.Len() != 3 {
		t.Fatalf("Heap should have 3 items, but has %d", h.Len())
	}

	it, ok := h.Peek()
	if !ok || it.Key != "c" {
		t.Fatalf("Expected min item c, got %v", it)
	}

	var got []string
	for h.Len() > 0 {
		got = append(got, h.PopItem().Key)
	}

	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pop order = %v, want %v", got, want)
			break
		}
	}

	if h.PopItem() != nil {
		t.Errorf("PopItem on empty heap should return nil")
	}
}

func TestMapHeapUpdateAndRemove(t *testing.T) {
	h := NewMapHeap()
	h.AddItem("a", 100)
	h.AddItem("b", 200)

	// touching a moves it behind b
	h.AddItem("a", 300)
	if it, _ := h.Peek(); it.Key != "b" {
		t.Errorf("Expected b first after update, got %s", it.Key)
	}

	prio, ok := h.RemoveByKey("b")
	if !ok || prio != 200 {
		t.Errorf("RemoveByKey(b) = %d, %v", prio, ok)
	}
	if h.Contains("b") {
		t.Errorf("b should be removed")
	}
	if _, ok := h.RemoveByKey("missing"); ok {
		t.Errorf("RemoveByKey on missing key should fail")
	}
	if h.Len() != 1 || !h.Contains("a") {
		t.Errorf("expected only a to remain")
	}
}
