package runner

import (
	"context"
	"sync"

	"github.com/aegis-scan/aegis/pkg/models"
)

// eventQueue is an unbounded FIFO between a scan's reader goroutine and its
// single SSE consumer. Closing the queue is the end-of-stream sentinel;
// events already enqueued are still delivered after Close.
type eventQueue struct {
	mu         sync.Mutex
	cond       *sync.Cond
	events     []*models.ProgressEvent
	closed     bool
	subscribed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues an event. Pushes after Close are dropped.
func (q *eventQueue) Push(ev *models.ProgressEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.events = append(q.events, ev)
	q.cond.Signal()
}

// Subscribe claims the queue's single consumer slot. Pop is destructive,
// so a second concurrent consumer would silently split the stream; it is
// refused instead.
func (q *eventQueue) Subscribe() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.subscribed {
		return false
	}
	q.subscribed = true
	return true
}

// Unsubscribe releases the consumer slot.
func (q *eventQueue) Unsubscribe() {
	q.mu.Lock()
	q.subscribed = false
	q.mu.Unlock()
}

// Close marks the end of the stream. Idempotent.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Pop blocks until an event is available or the stream ends. It returns
// (nil, false) once the queue is closed and drained, or when ctx is done.
func (q *eventQueue) Pop(ctx context.Context) (*models.ProgressEvent, bool) {
	// Wake the cond wait when the consumer goes away.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.events) == 0 {
		if q.closed || ctx.Err() != nil {
			return nil, false
		}
		q.cond.Wait()
	}
	ev := q.events[0]
	q.events = q.events[1:]
	return ev, true
}
