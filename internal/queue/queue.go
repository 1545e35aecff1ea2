// Package queue provides the bounded priority queue between the message
// processor and the signal pipeline, plus the consumer loop that drains it.
package queue

import (
	"container/heap"
	"context"
	"sync"

	"github.com/sawpanic/signalrun/internal/errs"
	"github.com/sawpanic/signalrun/internal/models"
	"github.com/sawpanic/signalrun/internal/telemetry"
)

// Item is one queued envelope. Higher confidence drains first; ties drain
// in arrival order.
type Item struct {
	Msg      models.ProcessedMessage
	Priority float64
	seq      uint64
}

type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x interface{}) { *h = append(*h, x.(*Item)) }
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is a bounded priority queue. Put blocks when full, Get blocks when
// empty; both honor context cancellation. After Close, Put is rejected but
// Get keeps returning buffered items until the queue is empty.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   itemHeap
	cap     int
	closed  bool
	seq     uint64
	metrics *telemetry.Metrics
}

// New builds a queue with the given capacity.
func New(capacity int, metrics *telemetry.Metrics) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	if metrics == nil {
		metrics = telemetry.Nop()
	}
	q := &Queue{cap: capacity, metrics: metrics}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put enqueues a message, blocking while the queue is full.
func (q *Queue) Put(ctx context.Context, msg models.ProcessedMessage) error {
	const op = "queue.Put"

	stop := context.AfterFunc(ctx, q.cond.Broadcast)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) >= q.cap && !q.closed {
		if err := ctx.Err(); err != nil {
			return errs.E(errs.KindOf(err), op, err)
		}
		q.cond.Wait()
	}
	if q.closed {
		return errs.E(errs.KindFatal, op, errs.ErrShuttingDown)
	}
	if err := ctx.Err(); err != nil {
		return errs.E(errs.KindOf(err), op, err)
	}

	q.seq++
	heap.Push(&q.items, &Item{Msg: msg, Priority: msg.Confidence, seq: q.seq})
	q.metrics.QueueDepth.Set(float64(len(q.items)))
	q.cond.Broadcast()
	return nil
}

// Get dequeues the highest-priority message, blocking while the queue is
// empty. Returns ErrShuttingDown once the queue is closed and drained.
func (q *Queue) Get(ctx context.Context) (models.ProcessedMessage, error) {
	const op = "queue.Get"

	stop := context.AfterFunc(ctx, q.cond.Broadcast)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		if err := ctx.Err(); err != nil {
			return models.ProcessedMessage{}, errs.E(errs.KindOf(err), op, err)
		}
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return models.ProcessedMessage{}, errs.E(errs.KindFatal, op, errs.ErrShuttingDown)
	}

	it := heap.Pop(&q.items).(*Item)
	q.metrics.QueueDepth.Set(float64(len(q.items)))
	q.cond.Broadcast()
	return it.Msg, nil
}

// TryGet dequeues without blocking.
func (q *Queue) TryGet() (models.ProcessedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return models.ProcessedMessage{}, false
	}
	it := heap.Pop(&q.items).(*Item)
	q.metrics.QueueDepth.Set(float64(len(q.items)))
	q.cond.Broadcast()
	return it.Msg, true
}

// Close stops new enqueues. Idempotent; buffered items remain readable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the current depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
