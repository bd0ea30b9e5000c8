package sched

import (
	"container/heap"
	"sync"
	"time"
)

type task struct {
	due   time.Time
	seq   uint64
	fn    Task
	index int // heap index, -1 once popped or cancelled
}

type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// queue is the delayed task queue shared by Loop and Virtual. Tasks with
// equal due times run in submission order.
type queue struct {
	mu    sync.Mutex
	tasks taskHeap
	seq   uint64
}

func (q *queue) push(due time.Time, fn Task) *Timer {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	t := &task{due: due, seq: q.seq, fn: fn}
	heap.Push(&q.tasks, t)
	return &Timer{q: q, t: t}
}

// next returns the earliest pending due time.
func (q *queue) next() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return time.Time{}, false
	}
	return q.tasks[0].due, true
}

// popDue removes and returns the earliest task due at or before limit.
func (q *queue) popDue(limit time.Time) *task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 || q.tasks[0].due.After(limit) {
		return nil
	}
	return heap.Pop(&q.tasks).(*task)
}

func (q *queue) cancel(t *task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t.index < 0 {
		return false
	}
	heap.Remove(&q.tasks, t.index)
	t.index = -1
	return true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
