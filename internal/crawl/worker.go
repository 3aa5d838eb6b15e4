package crawl

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sellerworks/band-crawler/internal/models"
	"github.com/sellerworks/band-crawler/internal/queue"
)

// AccountLookup resolves the account behind a queued task.
type AccountLookup interface {
	Get(ctx context.Context, accountID string) (*models.Account, error)
}

// Worker drains the manual-run queue. Manual runs are one-shot and
// infrequent, so they execute serially; scheduled runs are bounded
// separately by the scheduler's semaphore.
type Worker struct {
	queue      queue.Queue
	runner     *Crawler
	accounts   AccountLookup
	runTimeout time.Duration
	logger     *slog.Logger
}

func NewWorker(q queue.Queue, runner *Crawler, accounts AccountLookup, runTimeout time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		queue:      q,
		runner:     runner,
		accounts:   accounts,
		runTimeout: runTimeout,
		logger:     logger.With("component", "crawl_worker"),
	}
}

// Start blocks until ctx is canceled or the queue closes.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("worker started")
	for {
		task, err := w.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrQueueClosed) {
				w.logger.Info("worker stopped")
				return
			}
			w.logger.Error("failed to pop task", "error", err)
			continue
		}
		w.process(ctx, task)
	}
}

func (w *Worker) process(ctx context.Context, task *queue.Task) {
	logger := w.logger.With("task_id", task.ID, "account_id", task.AccountID)

	account, err := w.accounts.Get(ctx, task.AccountID)
	if err != nil {
		logger.Error("failed to load account", "error", err)
		return
	}
	if account == nil {
		logger.Warn("task references unknown account, dropping")
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, w.runTimeout)
	defer cancel()

	if err := w.runner.RunWith(runCtx, *account, task.ID, task.TargetPosts, TriggerManual); err != nil {
		logger.Error("manual run failed", "error", err)
		return
	}
	logger.Info("manual run finished")
}
