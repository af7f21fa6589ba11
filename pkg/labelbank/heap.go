package labelbank

import "container/heap"

// scoreItem is one candidate in the bounded top-k min-heap. Keeping the
// heap bounded at capacity k avoids a full sort of the shard on every
// query (spec.md §4.1 Selection).
type scoreItem struct {
	score   float64
	labelID int32
}

// scoreHeap is a min-heap on score (worst candidate at the root) so the
// weakest member can be evicted in O(log k) when a better one arrives.
type scoreHeap []scoreItem

func (h scoreHeap) Len() int { return len(h) }
func (h scoreHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score < h[j].score
	}
	// Worst-of-k eviction should prefer evicting the higher label id on
	// ties, leaving the lower label id as TopK's tie-break survivor.
	return h[i].labelID > h[j].labelID
}
func (h scoreHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoreHeap) Push(x any) {
	*h = append(*h, x.(scoreItem))
}

func (h *scoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (h *scoreHeap) push(item scoreItem) {
	heap.Push(h, item)
}

func (h *scoreHeap) popWorst() {
	heap.Pop(h)
}
