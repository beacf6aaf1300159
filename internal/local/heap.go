package local

import "time"

// heapItem is a scheduled expiry. Items are never removed when an entry
// is deleted or its TTL rewritten; instead they are validated against the
// live entry map when popped.
type heapItem struct {
	key       string
	expiresAt time.Time
}

// expiryHeap is a min-heap ordered by expiresAt, used by the background
// sweep to find the earliest-expiring entries without scanning the map.
type expiryHeap []heapItem

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }

func (h *expiryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
