// Package memory provides the in-process FIFO fetch queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/fetchgate/internal/media"
	"github.com/JakeFAU/fetchgate/internal/metrics"
)

// Queue is a bounded in-memory FIFO with context-aware operations.
type Queue struct {
	ch      chan media.QueueItem
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch: make(chan media.QueueItem, capacity),
	}
}

// Enqueue appends an item, waiting for room until the context ends.
func (q *Queue) Enqueue(ctx context.Context, item media.QueueItem) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return media.ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		metrics.IncQueueDepth()
		return nil
	}
}

// Dequeue pops the oldest item, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (media.QueueItem, error) {
	select {
	case <-ctx.Done():
		return media.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return media.QueueItem{}, media.ErrQueueClosed
		}
		metrics.DecQueueDepth()
		return item, nil
	}
}

// Len returns the number of waiting items.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting items. Items already queued can still be dequeued.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
