package worker

import (
	"container/heap"
	"context"
	"sync"

	"github.com/alist-sync/alist-sync-go/internal/model"
)

// heapSlice is a container/heap.Interface over pending intents,
// ordered by Status (lower runs first) then CreatedAt (older first).
type heapSlice []*model.TransferIntent

func (h heapSlice) Len() int { return len(h) }

func (h heapSlice) Less(i, j int) bool {
	if h[i].Status != h[j].Status {
		return h[i].Status < h[j].Status
	}
	return h[i].CreatedAt.Before(h[j].CreatedAt)
}

func (h heapSlice) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *heapSlice) Push(x any) { *h = append(*h, x.(*model.TransferIntent)) }

func (h *heapSlice) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is a thread-safe priority queue of pending TransferIntents,
// keyed on status priority so nearly-finished transfers are always
// scheduled ahead of fresh ones.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  heapSlice
	closed bool
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push adds w to the queue, waking one blocked Pop.
func (q *Queue) Push(w *model.TransferIntent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	heap.Push(&q.items, w)
	q.cond.Signal()
}

// Pop blocks until an intent is available, ctx is canceled, or the
// queue is closed. ok is false in the latter two cases.
func (q *Queue) Pop(ctx context.Context) (w *model.TransferIntent, ok bool) {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		// Take the queue lock before broadcasting so a Pop between its
		// done-check and cond.Wait cannot miss the wakeup.
		q.mu.Lock()
		close(done)
		q.mu.Unlock()
		q.cond.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		select {
		case <-done:
			return nil, false
		default:
		}
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	return heap.Pop(&q.items).(*model.TransferIntent), true
}

// Close wakes every blocked Pop, which then return ok=false once the
// queue has drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len reports the number of intents currently queued, for metrics.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
