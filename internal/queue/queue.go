// Package queue buffers manual one-shot crawl requests between the API
// and the worker draining them.
package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrQueueEmpty  = errors.New("queue is empty")
	ErrQueueClosed = errors.New("queue is closed")
)

// Task is one requested crawl run. ID doubles as the run correlation id
// in published events.
type Task struct {
	ID          string
	AccountID   string
	TargetPosts int
	Priority    int
	Retries     int
	CreatedAt   time.Time
}

type Queue interface {
	Push(task *Task) error
	Pop(ctx context.Context) (*Task, error)
	Size() int
	Close() error
}

// InMemoryQueue is a priority-ordered FIFO guarded by a condition
// variable so Pop blocks until work arrives or the queue closes.
type InMemoryQueue struct {
	tasks  []*Task
	mu     sync.Mutex
	cond   *sync.Cond
	closed bool
}

func NewInMemoryQueue() *InMemoryQueue {
	q := &InMemoryQueue{tasks: make([]*Task, 0)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *InMemoryQueue) Push(task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.tasks = append(q.tasks, task)
	// Higher priority first; equal priority keeps arrival order.
	sort.SliceStable(q.tasks, func(i, j int) bool {
		return q.tasks[i].Priority > q.tasks[j].Priority
	})
	q.cond.Signal()
	return nil
}

func (q *InMemoryQueue) Pop(ctx context.Context) (*Task, error) {
	// cond.Wait cannot be interrupted, so wake every waiter when the
	// context ends and re-check cancellation under the lock.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.tasks) == 0 && !q.closed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.cond.Wait()
	}

	if q.closed && len(q.tasks) == 0 {
		return nil, ErrQueueClosed
	}
	if len(q.tasks) == 0 {
		return nil, ErrQueueEmpty
	}

	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	return task, nil
}

func (q *InMemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
	return nil
}
