// Package util
//
// This file provides a keyed min-heap used to visit idle collections in
// the order they were last used.
//
// The heap is combined with a map so that a collection can be touched (its
// priority updated) or removed by name in O(log n), while the least recently
// used collection is always available in O(1) through Peek.
//
// The structure is not thread-safe. The catalog sweep builds a fresh heap
// from a snapshot on every run, so no synchronization is needed there.
//
// Example usage:
//
//	h := NewMapHeap()
//	h.AddItem("metrics", lastUsed.UnixNano())
//	h.AddItem("events", otherLastUsed.UnixNano())
//
//	for h.Len() > 0 {
//	    it := h.PopItem()
//	    // it.Key is the least recently used collection
//	}
package util

import (
	"container/heap"
	"strconv"
)

// Item is one entry of the heap: a collection name and its priority
// (usually a unix timestamp in nanoseconds).
type Item struct {
	Key      string // Name of the entry
	Priority int64  // Smaller values are popped first
	index    int    // Index in the heap, maintained by the heap package
}

func (i *Item) String() string {
	return "{Key: " + i.Key + ", Priority: " + strconv.FormatInt(i.Priority, 10) + "}"
}

// MapHeap is a min-heap of Items with key based access.
type MapHeap struct {
	items    []*Item
	itemsMap map[string]*Item
}

// NewMapHeap creates an empty heap.
func NewMapHeap() *MapHeap {
	return &MapHeap{
		items:    make([]*Item, 0),
		itemsMap: make(map[string]*Item),
	}
}

// Len returns the number of items (part of heap.Interface)
func (h *MapHeap) Len() int { return len(h.items) }

// Less orders by priority, oldest first (part of heap.Interface)
func (h *MapHeap) Less(i, j int) bool {
	return h.items[i].Priority < h.items[j].Priority
}

// Swap exchanges items at positions i and j (part of heap.Interface)
func (h *MapHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

// Push adds an item to the heap (part of heap.Interface, use AddItem instead)
func (h *MapHeap) Push(x interface{}) {
	it := x.(*Item)
	it.index = len(h.items)
	h.items = append(h.items, it)
	h.itemsMap[it.Key] = it
}

// Pop removes the last item of the slice (part of heap.Interface, use PopItem instead)
func (h *MapHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	h.items = old[:n-1]
	delete(h.itemsMap, it.Key)
	return it
}

// AddItem inserts a new item or updates the priority of an existing one.
func (h *MapHeap) AddItem(key string, priority int64) {
	if it, exists := h.itemsMap[key]; exists {
		it.Priority = priority
		heap.Fix(h, it.index)
		return
	}
	heap.Push(h, &Item{Key: key, Priority: priority})
}

// PopItem removes and returns the item with the smallest priority.
// It returns nil if the heap is empty.
func (h *MapHeap) PopItem() *Item {
	if len(h.items) == 0 {
		return nil
	}
	return heap.Pop(h).(*Item)
}

// RemoveByKey removes an item by its key and returns its priority.
func (h *MapHeap) RemoveByKey(key string) (int64, bool) {
	it, exists := h.itemsMap[key]
	if !exists {
		return 0, false
	}
	heap.Remove(h, it.index)
	return it.Priority, true
}

// Peek returns the item with the smallest priority without removing it.
func (h *MapHeap) Peek() (*Item, bool) {
	if len(h.items) == 0 {
		return nil, false
	}
	return h.items[0], true
}

// Contains checks if a key is in the heap.
func (h *MapHeap) Contains(key string) bool {
	_, exists := h.itemsMap[key]
	return exists
}
