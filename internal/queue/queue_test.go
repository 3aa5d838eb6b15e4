package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopOrdersByPriority(t *testing.T) {
	q := NewInMemoryQueue()

	require.NoError(t, q.Push(&Task{ID: "low", AccountID: "acct-1", Priority: 0}))
	require.NoError(t, q.Push(&Task{ID: "high", AccountID: "acct-2", Priority: 5}))
	require.NoError(t, q.Push(&Task{ID: "low-2", AccountID: "acct-3", Priority: 0}))

	ctx := context.Background()
	first, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "high", first.ID)

	second, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "low", second.ID, "equal priority keeps arrival order")

	third, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "low-2", third.ID)
	assert.Equal(t, 0, q.Size())
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := NewInMemoryQueue()

	got := make(chan *Task, 1)
	go func() {
		task, err := q.Pop(context.Background())
		if err == nil {
			got <- task
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push(&Task{ID: "t-1", AccountID: "acct-1"}))

	select {
	case task := <-got:
		assert.Equal(t, "t-1", task.ID)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake after push")
	}
}

func TestPopHonorsContextCancel(t *testing.T) {
	q := NewInMemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueUsableAfterCancelledPop(t *testing.T) {
	q := NewInMemoryQueue()

	ctx, cancel := context.WithCancel(context.Background())
	popped := make(chan error, 1)
	go func() {
		_, err := q.Pop(ctx)
		popped <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-popped:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("pop did not return after cancel")
	}

	// The abandoned wait must leave the lock balanced so the queue
	// still accepts and serves work.
	require.NoError(t, q.Push(&Task{ID: "t-1", AccountID: "acct-1"}))
	task, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "t-1", task.ID)
}

func TestCloseDrainsThenRejects(t *testing.T) {
	q := NewInMemoryQueue()
	require.NoError(t, q.Push(&Task{ID: "t-1", AccountID: "acct-1"}))
	require.NoError(t, q.Close())

	task, err := q.Pop(context.Background())
	require.NoError(t, err, "tasks queued before close still drain")
	assert.Equal(t, "t-1", task.ID)

	_, err = q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)

	assert.ErrorIs(t, q.Push(&Task{ID: "t-2"}), ErrQueueClosed)
}
