package scheduler

import (
	"container/heap"
	"sync"
	"time"
)

// StartQueue holds experiments waiting to be started, oldest request first.
// An experiment is queued at most once.
type StartQueue struct {
	items  experimentHeap
	queued map[int64]bool
	next   uint64
	mu     sync.Mutex
}

// QueuedExperiment is a pending start request
type QueuedExperiment struct {
	ExperimentID int64
	EnqueuedAt   time.Time
	Index        int // For heap.Interface
	seq          uint64
}

// NewStartQueue creates an empty start queue
func NewStartQueue() *StartQueue {
	q := &StartQueue{
		items:  make(experimentHeap, 0),
		queued: make(map[int64]bool),
	}
	heap.Init(&q.items)
	return q
}

// Enqueue adds an experiment; it returns false if the experiment is already queued
func (q *StartQueue) Enqueue(experimentID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.queued[experimentID] {
		return false
	}
	q.queued[experimentID] = true
	q.next++
	heap.Push(&q.items, &QueuedExperiment{
		ExperimentID: experimentID,
		EnqueuedAt:   time.Now(),
		seq:          q.next,
	})
	return true
}

// PopExperiment removes and returns the oldest start request
func (q *StartQueue) PopExperiment() (int64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		return 0, false
	}
	item := heap.Pop(&q.items).(*QueuedExperiment)
	delete(q.queued, item.ExperimentID)
	return item.ExperimentID, true
}

// Len returns the number of queued experiments
func (q *StartQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

type experimentHeap []*QueuedExperiment

func (h experimentHeap) Len() int { return len(h) }

func (h experimentHeap) Less(i, j int) bool {
	return h[i].seq < h[j].seq
}

func (h experimentHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].Index = i
	h[j].Index = j
}

// Push implements heap.Interface
func (h *experimentHeap) Push(x interface{}) {
	item := x.(*QueuedExperiment)
	item.Index = len(*h)
	*h = append(*h, item)
}

// Pop implements heap.Interface
func (h *experimentHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	*h = old[0 : n-1]
	return item
}
