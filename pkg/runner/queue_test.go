package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-scan/aegis/pkg/models"
)

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()
	q.Push(&models.ProgressEvent{EventType: models.EventStatus, Status: "running"})
	q.Push(&models.ProgressEvent{EventType: models.EventProgress, Percent: 50})

	ctx := context.Background()
	ev, ok := q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, models.EventStatus, ev.EventType)

	ev, ok = q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, models.EventProgress, ev.EventType)
}

func TestEventQueue_DrainsAfterClose(t *testing.T) {
	q := newEventQueue()
	q.Push(&models.ProgressEvent{EventType: models.EventComplete})
	q.Close()

	ev, ok := q.Pop(context.Background())
	require.True(t, ok)
	assert.Equal(t, models.EventComplete, ev.EventType)

	_, ok = q.Pop(context.Background())
	assert.False(t, ok)
}

func TestEventQueue_PushAfterCloseDropped(t *testing.T) {
	q := newEventQueue()
	q.Close()
	q.Push(&models.ProgressEvent{EventType: models.EventOutput})

	_, ok := q.Pop(context.Background())
	assert.False(t, ok)
}

func TestEventQueue_PopBlocksUntilPush(t *testing.T) {
	q := newEventQueue()

	got := make(chan *models.ProgressEvent, 1)
	go func() {
		ev, ok := q.Pop(context.Background())
		require.True(t, ok)
		got <- ev
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push(&models.ProgressEvent{EventType: models.EventOutput, Line: "hello"})

	select {
	case ev := <-got:
		assert.Equal(t, "hello", ev.Line)
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not return after Push")
	}
}

func TestEventQueue_PopReturnsOnContextCancel(t *testing.T) {
	q := newEventQueue()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(ctx)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not return after context cancellation")
	}
}

func TestEventQueue_SingleSubscriber(t *testing.T) {
	q := newEventQueue()

	require.True(t, q.Subscribe())
	assert.False(t, q.Subscribe())

	q.Unsubscribe()
	assert.True(t, q.Subscribe())
}

func TestEventQueue_CloseIsIdempotent(t *testing.T) {
	q := newEventQueue()
	q.Close()
	q.Close()

	_, ok := q.Pop(context.Background())
	assert.False(t, ok)
}
