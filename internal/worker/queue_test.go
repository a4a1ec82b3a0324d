package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alist-sync/alist-sync-go/internal/model"
)

func intentWith(status model.Status, createdAt time.Time) *model.TransferIntent {
	return &model.TransferIntent{
		ID:        status.String() + "-" + createdAt.String(),
		Kind:      model.KindCopy,
		TargetURI: "alist://dst/f",
		Status:    status,
		CreatedAt: createdAt,
	}
}

func TestQueuePopOrdersByStatusPriority(t *testing.T) {
	q := NewQueue()
	now := time.Now()

	init := intentWith(model.StatusInit, now)
	downloaded := intentWith(model.StatusDownloaded, now)
	q.Push(init)
	q.Push(downloaded)

	ctx := context.Background()
	first, ok := q.Pop(ctx)
	assert.True(t, ok)
	assert.Equal(t, model.StatusDownloaded, first.Status, "downloaded (priority 5) must dequeue before init (priority 9)")

	second, ok := q.Pop(ctx)
	assert.True(t, ok)
	assert.Equal(t, model.StatusInit, second.Status)
}

func TestQueuePopOrdersByCreatedAtWithinSameStatus(t *testing.T) {
	q := NewQueue()
	older := intentWith(model.StatusInit, time.Now().Add(-time.Hour))
	newer := intentWith(model.StatusInit, time.Now())

	q.Push(newer)
	q.Push(older)

	first, ok := q.Pop(context.Background())
	assert.True(t, ok)
	assert.Same(t, older, first, "older intent at the same status must dequeue first")
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := NewQueue()
	result := make(chan *model.TransferIntent, 1)

	go func() {
		w, ok := q.Pop(context.Background())
		if ok {
			result <- w
		} else {
			result <- nil
		}
	}()

	select {
	case <-result:
		t.Fatal("Pop returned before anything was pushed")
	case <-time.After(50 * time.Millisecond):
	}

	w := intentWith(model.StatusInit, time.Now())
	q.Push(w)

	select {
	case got := <-result:
		assert.Same(t, w, got)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Push")
	}
}

func TestQueuePopReturnsFalseOnContextCancel(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var ok bool
	go func() {
		_, ok = q.Pop(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after context cancellation")
	}
}

func TestQueuePopReturnsFalseOnClose(t *testing.T) {
	q := NewQueue()

	done := make(chan struct{})
	var ok bool
	go func() {
		_, ok = q.Pop(context.Background())
		close(done)
	}()

	q.Close()

	select {
	case <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Close")
	}
}

func TestQueuePushAfterCloseIsNoop(t *testing.T) {
	q := NewQueue()
	q.Close()
	q.Push(intentWith(model.StatusInit, time.Now()))
	assert.Equal(t, 0, q.Len())
}

func TestQueueLen(t *testing.T) {
	q := NewQueue()
	assert.Equal(t, 0, q.Len())
	q.Push(intentWith(model.StatusInit, time.Now()))
	q.Push(intentWith(model.StatusDownloaded, time.Now()))
	assert.Equal(t, 2, q.Len())
}
