// Package pqueue implements the bounded blocking priority queues the bridge
// pipeline runs on.
//
// Ordering is by ascending priority with FIFO tie-break on insertion order.
// Put blocks while the queue is full, Get blocks while it is empty; both
// honor context cancellation. A capacity of -1 makes the queue unbounded.
package pqueue

import (
	"container/heap"
	"context"
	"sync"

	"github.com/fairyhunter13/procurement-bridge/internal/domain"
)

type entry struct {
	item domain.PrioritizedItem
	seq  uint64
}

type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].item.Priority != h[j].item.Priority {
		return h[i].item.Priority < h[j].item.Priority
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Queue is a bounded blocking priority queue safe for many concurrent
// producers and consumers.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    entryHeap
	capacity int
	seq      uint64
}

// New builds a queue with the given capacity; -1 (or any non-positive value)
// means unbounded.
func New(capacity int) *Queue {
	q := &Queue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Cap returns the configured capacity (-1 when unbounded).
func (q *Queue) Cap() int { return q.capacity }

// Len returns the current number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Put enqueues an item, blocking while the queue is full.
func (q *Queue) Put(ctx context.Context, item domain.PrioritizedItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.capacity > 0 && len(q.items) >= q.capacity {
		if err := q.wait(ctx, q.notFull); err != nil {
			return err
		}
	}
	heap.Push(&q.items, entry{item: item, seq: q.seq})
	q.seq++
	q.notEmpty.Signal()
	return nil
}

// Get dequeues the lowest-priority item, blocking while the queue is empty.
func (q *Queue) Get(ctx context.Context) (domain.PrioritizedItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if err := q.wait(ctx, q.notEmpty); err != nil {
			return domain.PrioritizedItem{}, err
		}
	}
	e := heap.Pop(&q.items).(entry)
	q.notFull.Signal()
	return e.item, nil
}

// wait blocks on cond until signaled or ctx is done. The queue mutex is held
// on entry and on return.
func (q *Queue) wait(ctx context.Context, cond *sync.Cond) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			cond.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()
	cond.Wait()
	close(done)
	return ctx.Err()
}
