package queue

import "container/heap"

// retryHeap orders retry-waiting items by due time, then by scheduling order
type retryHeap struct {
	entries []retryEntry
	seq     uint64
}

type retryEntry struct {
	item *Item
	seq  uint64
}

func (h *retryHeap) Len() int { return len(h.entries) }

func (h *retryHeap) Less(i, j int) bool {
	a, b := h.entries[i], h.entries[j]
	if a.item.RetryAt.Equal(b.item.RetryAt) {
		return a.seq < b.seq
	}
	return a.item.RetryAt.Before(b.item.RetryAt)
}

func (h *retryHeap) Swap(i, j int) { h.entries[i], h.entries[j] = h.entries[j], h.entries[i] }

func (h *retryHeap) Push(x any) { h.entries = append(h.entries, x.(retryEntry)) }

func (h *retryHeap) Pop() any {
	old := h.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = retryEntry{}
	h.entries = old[:n-1]
	return e
}

func (h *retryHeap) schedule(it *Item) {
	h.seq++
	heap.Push(h, retryEntry{item: it, seq: h.seq})
}

func (h *retryHeap) peek() *Item {
	if len(h.entries) == 0 {
		return nil
	}
	return h.entries[0].item
}

func (h *retryHeap) pop() *Item {
	return heap.Pop(h).(retryEntry).item
}

// items returns the waiting items in due order without mutating the heap
func (h *retryHeap) items() []*Item {
	cp := &retryHeap{entries: append([]retryEntry(nil), h.entries...)}
	out := make([]*Item, 0, len(cp.entries))
	for cp.Len() > 0 {
		out = append(out, cp.pop())
	}
	return out
}
