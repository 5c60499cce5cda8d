package queue

import "mercator-hq/gateway/internal/model"

// item wraps a request for the priority heap; seq breaks ties within
// the same (priority, created_at) pair so insertion order survives a
// clock with coarse resolution.
type item struct {
	req   *model.Request
	seq   int64
	index int
}

// priorityHeap orders by priority DESC, created_at ASC, seq ASC —
// matching the queue's dispatch order (spec.md §4.B).
type priorityHeap []*item

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.req.Priority != b.req.Priority {
		return a.req.Priority > b.req.Priority
	}
	if !a.req.CreatedAt.Equal(b.req.CreatedAt) {
		return a.req.CreatedAt.Before(b.req.CreatedAt)
	}
	return a.seq < b.seq
}

func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *priorityHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
