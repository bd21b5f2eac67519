package queue

import (
	"context"
	"time"
)

// ConversationQueue is the bounded in-process FIFO of conversation ids awaiting
// analysis. It is process-local: queue contents are lost on restart, which is
// acceptable because re-ingesting a conversation re-enqueues it. Duplicate ids
// are permitted — the worker is idempotent against re-delivery.
type ConversationQueue struct {
	ch       chan string
	maxDepth int
}

// New creates a queue with the given capacity.
func New(maxDepth int) *ConversationQueue {
	if maxDepth <= 0 {
		maxDepth = 10000
	}
	return &ConversationQueue{
		ch:       make(chan string, maxDepth),
		maxDepth: maxDepth,
	}
}

// Depth returns the current number of queued ids (sampled).
func (q *ConversationQueue) Depth() int {
	return len(q.ch)
}

// MaxDepth returns the queue capacity.
func (q *ConversationQueue) MaxDepth() int {
	return q.maxDepth
}

// CanAccept reports whether an enqueue would currently succeed. Advisory only:
// it may race with concurrent enqueues.
func (q *ConversationQueue) CanAccept() bool {
	return len(q.ch) < q.maxDepth
}

// Enqueue adds a conversation id without blocking. Returns false when the
// queue is full; the caller records a backpressure event and answers 503.
func (q *ConversationQueue) Enqueue(conversationID string) bool {
	select {
	case q.ch <- conversationID:
		return true
	default:
		return false
	}
}

// Dequeue removes one id, blocking up to timeout. Returns "" and false on
// timeout or context cancellation.
func (q *ConversationQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case id := <-q.ch:
		return id, true
	case <-timer.C:
		return "", false
	case <-ctx.Done():
		return "", false
	}
}
