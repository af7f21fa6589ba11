// Package oracle implements the Candidate Oracle: a bounded,
// non-blocking FIFO queue that receives unknown-frame embeddings from
// the hot loop and hands them, in order, to a single background worker
// for verification.
//
// The queue never suspends the caller. On overflow it drops the oldest
// entry and increments a shed counter — the hot loop's enqueue cost
// stays O(1) regardless of downstream backpressure.
package oracle

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// Candidate is one unknown-frame embedding proposed for verification.
type Candidate struct {
	Embedding []float32
	Labels    []string // candidate label guesses, may be empty
	Scores    []float64
	Sequence  uint64 // frame sequence number
}

// Queue is a thread-safe, bounded FIFO queue of Candidates.
//
// Modeled on this codebase's query-plan cache: a doubly-linked list for
// O(1) FIFO push/pop plus atomic counters for lock-free stat reads,
// generalized here to drop-oldest-on-overflow instead of LRU eviction.
type Queue struct {
	mu     sync.Mutex
	list   *list.List
	maxLen int
	enq    uint64
	deq    uint64
	shed   uint64
	closed bool
}

// NewQueue creates a bounded queue with the given capacity. A
// non-positive maxLen means every enqueue is shed immediately.
func NewQueue(maxLen int) *Queue {
	return &Queue{
		list:   list.New(),
		maxLen: maxLen,
	}
}

// TryEnqueue adds c to the queue without blocking. If the queue is at
// capacity, the oldest entry is dropped and shed_count increments. If
// maxLen <= 0, every candidate is shed immediately. Returns false when
// the queue has been closed for shutdown.
func (q *Queue) TryEnqueue(c Candidate) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	atomic.AddUint64(&q.enq, 1)

	if q.maxLen <= 0 {
		atomic.AddUint64(&q.shed, 1)
		return true
	}

	if q.list.Len() >= q.maxLen {
		q.list.Remove(q.list.Front())
		atomic.AddUint64(&q.shed, 1)
	}
	q.list.PushBack(c)
	return true
}

// Dequeue pops the oldest candidate in FIFO order. ok is false if the
// queue is empty.
func (q *Queue) Dequeue() (Candidate, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := q.list.Front()
	if front == nil {
		return Candidate{}, false
	}
	q.list.Remove(front)
	atomic.AddUint64(&q.deq, 1)
	return front.Value.(Candidate), true
}

// Close marks the queue closed; pending entries are left in place for
// Drain, but no new entries are accepted (spec.md §5 shutdown: stop
// accepting new enqueues).
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// Drain removes and returns every remaining candidate, oldest first,
// abandoning them without processing — used on shutdown once the
// worker's current task has finished (spec.md §5: abandon the rest).
func (q *Queue) Drain() []Candidate {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Candidate, 0, q.list.Len())
	for e := q.list.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(Candidate))
	}
	q.list.Init()
	return out
}

// Metrics is the observable state of the queue, per spec.md §4.2.
type Metrics struct {
	MaxLen       int
	CurrentDepth int
	Enqueued     uint64
	Dequeued     uint64
	ShedCount    uint64
	ShedRate     float64
}

// Stats returns a snapshot of the queue's metrics.
func (q *Queue) Stats() Metrics {
	q.mu.Lock()
	depth := q.list.Len()
	q.mu.Unlock()

	enq := atomic.LoadUint64(&q.enq)
	deq := atomic.LoadUint64(&q.deq)
	shed := atomic.LoadUint64(&q.shed)

	denom := enq
	if denom == 0 {
		denom = 1
	}
	return Metrics{
		MaxLen:       q.maxLen,
		CurrentDepth: depth,
		Enqueued:     enq,
		Dequeued:     deq,
		ShedCount:    shed,
		ShedRate:     float64(shed) / float64(denom),
	}
}
