// Package scheduler keeps one recurring crawl job per account and
// fires them on minute-granularity intervals. Overlapping runs for the
// same account are forbidden; a tick that lands while the previous run
// is still going is dropped, not queued.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/sellerworks/band-crawler/internal/events"
	"github.com/sellerworks/band-crawler/internal/models"
	"github.com/sellerworks/band-crawler/internal/session"
)

var ErrJobNotFound = errors.New("job not found")

// Runner executes one full crawl for one account.
type Runner interface {
	Run(ctx context.Context, account models.Account) error
}

// AccountSource is the desired-state side of Refresh: which accounts
// want automation, and the switch to turn a broken one off.
type AccountSource interface {
	ListAutomationEnabled(ctx context.Context) ([]models.Account, error)
	DisableAutomation(ctx context.Context, accountID, reason string) error
}

// Alerter surfaces operator-facing notifications for accounts the
// scheduler has to abandon.
type Alerter interface {
	AutomationDisabled(ctx context.Context, payload *events.AutomationDisabledPayload) error
}

type jobEntry struct {
	job      models.ScheduledJob
	account  models.Account
	entryID  cron.EntryID
	inFlight atomic.Bool
}

// Scheduler owns the cron instance and the jobID registry. Browser
// sessions are heavyweight, so concurrent runs across accounts are
// bounded by a weighted semaphore.
type Scheduler struct {
	cron       *cron.Cron
	runner     Runner
	accounts   AccountSource
	alerts     Alerter
	sem        *semaphore.Weighted
	runTimeout time.Duration
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	jobs      map[string]*jobEntry
	byAccount map[string]string
}

func New(runner Runner, accounts AccountSource, alerts Alerter, maxConcurrent int64, runTimeout time.Duration, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:       cron.New(),
		runner:     runner,
		accounts:   accounts,
		alerts:     alerts,
		sem:        semaphore.NewWeighted(maxConcurrent),
		runTimeout: runTimeout,
		logger:     logger.With("component", "scheduler"),
		ctx:        ctx,
		cancel:     cancel,
		jobs:       make(map[string]*jobEntry),
		byAccount:  make(map[string]string),
	}
}

// Start begins firing registered triggers.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Shutdown stops new triggers and waits for in-flight runs the cron
// instance knows about. Runs already executing get their context
// canceled.
func (s *Scheduler) Shutdown() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Register creates the recurring job for an account. A job already
// registered for the same account is replaced, never duplicated.
func (s *Scheduler) Register(account models.Account) (models.ScheduledJob, error) {
	if account.IntervalMinutes < 1 {
		return models.ScheduledJob{}, fmt.Errorf("invalid interval %d for account %s", account.IntervalMinutes, account.AccountID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if oldID, ok := s.byAccount[account.AccountID]; ok {
		s.removeLocked(oldID)
	}

	entry := &jobEntry{
		job: models.ScheduledJob{
			JobID:     uuid.New().String(),
			AccountID: account.AccountID,
			CronExpr:  fmt.Sprintf("@every %dm", account.IntervalMinutes),
			Status:    models.JobStatusIdle,
		},
		account: account,
	}
	entryID, err := s.cron.AddFunc(entry.job.CronExpr, func() {
		s.execute(entry)
	})
	if err != nil {
		return models.ScheduledJob{}, fmt.Errorf("failed to add cron trigger: %w", err)
	}
	entry.entryID = entryID

	s.jobs[entry.job.JobID] = entry
	s.byAccount[account.AccountID] = entry.job.JobID

	s.logger.Info("job registered",
		"job_id", entry.job.JobID,
		"account_id", account.AccountID,
		"interval_minutes", account.IntervalMinutes)
	return entry.job, nil
}

// Refresh reconciles the registry against the accounts that currently
// want automation: new accounts gain jobs, changed intervals replace
// jobs, disabled accounts lose theirs.
func (s *Scheduler) Refresh(ctx context.Context) error {
	accounts, err := s.accounts.ListAutomationEnabled(ctx)
	if err != nil {
		return fmt.Errorf("failed to list automation accounts: %w", err)
	}

	desired := make(map[string]models.Account, len(accounts))
	for _, a := range accounts {
		desired[a.AccountID] = a
	}

	s.mu.Lock()
	var stale []string
	for accountID, jobID := range s.byAccount {
		if _, want := desired[accountID]; !want {
			stale = append(stale, jobID)
		}
	}
	for _, jobID := range stale {
		s.removeLocked(jobID)
	}
	s.mu.Unlock()

	for _, account := range accounts {
		s.mu.Lock()
		jobID, exists := s.byAccount[account.AccountID]
		unchanged := false
		if exists {
			expr := fmt.Sprintf("@every %dm", account.IntervalMinutes)
			unchanged = s.jobs[jobID].job.CronExpr == expr && s.jobs[jobID].job.Status != models.JobStatusStopped
		}
		s.mu.Unlock()
		if unchanged {
			continue
		}
		if _, err := s.Register(account); err != nil {
			s.logger.Error("failed to register job during refresh",
				"account_id", account.AccountID, "error", err)
		}
	}
	s.logger.Info("registry refreshed", "desired", len(accounts), "removed", len(stale))
	return nil
}

// Stop suspends a job's trigger but keeps its configuration.
func (s *Scheduler) Stop(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if entry.job.Status != models.JobStatusStopped {
		s.cron.Remove(entry.entryID)
		entry.job.Status = models.JobStatusStopped
	}
	return nil
}

// Restart re-arms a stopped job with its original interval.
func (s *Scheduler) Restart(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if entry.job.Status != models.JobStatusStopped {
		return nil
	}
	entryID, err := s.cron.AddFunc(entry.job.CronExpr, func() {
		s.execute(entry)
	})
	if err != nil {
		return fmt.Errorf("failed to re-add cron trigger: %w", err)
	}
	entry.entryID = entryID
	entry.job.Status = models.JobStatusIdle
	return nil
}

// Delete removes a job and all trace of it.
func (s *Scheduler) Delete(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return ErrJobNotFound
	}
	s.removeLocked(jobID)
	return nil
}

// Get returns a snapshot of one job.
func (s *Scheduler) Get(jobID string) (models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.jobs[jobID]
	if !ok {
		return models.ScheduledJob{}, ErrJobNotFound
	}
	return s.snapshotLocked(entry), nil
}

// List returns snapshots of every registered job.
func (s *Scheduler) List() []models.ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]models.ScheduledJob, 0, len(s.jobs))
	for _, entry := range s.jobs {
		jobs = append(jobs, s.snapshotLocked(entry))
	}
	return jobs
}

// execute is the tick handler. The inFlight flag is a single
// compare-and-swap so two overlapping ticks can never both pass.
func (s *Scheduler) execute(entry *jobEntry) {
	if !entry.inFlight.CompareAndSwap(false, true) {
		s.logger.Warn("run still in flight, skipping tick",
			"job_id", entry.job.JobID,
			"account_id", entry.account.AccountID)
		return
	}
	defer entry.inFlight.Store(false)

	// A full pool is treated like an overlap: skip the tick rather
	// than queue behind other accounts with inFlight held.
	if !s.sem.TryAcquire(1) {
		s.logger.Warn("concurrency limit reached, skipping tick",
			"job_id", entry.job.JobID,
			"account_id", entry.account.AccountID)
		return
	}
	defer s.sem.Release(1)

	s.setStatus(entry, models.JobStatusRunning)
	runCtx, cancel := context.WithTimeout(s.ctx, s.runTimeout)
	err := s.runner.Run(runCtx, entry.account)
	cancel()

	now := time.Now()
	s.mu.Lock()
	entry.job.LastRun = &now
	if err != nil {
		entry.job.Status = models.JobStatusFailed
	} else {
		entry.job.Status = models.JobStatusIdle
	}
	s.mu.Unlock()

	if err == nil {
		s.logger.Info("run finished", "job_id", entry.job.JobID, "account_id", entry.account.AccountID)
		return
	}

	s.logger.Error("run failed",
		"job_id", entry.job.JobID,
		"account_id", entry.account.AccountID,
		"error", err)

	// Rejected credentials will not fix themselves. Turn the account's
	// automation off so the registry stops burning sessions on it, and
	// tell operators why the account went quiet.
	if errors.Is(err, session.ErrAuthenticationFailed) {
		if derr := s.accounts.DisableAutomation(s.ctx, entry.account.AccountID, err.Error()); derr != nil {
			s.logger.Error("failed to disable automation", "account_id", entry.account.AccountID, "error", derr)
		}
		if perr := s.alerts.AutomationDisabled(s.ctx, &events.AutomationDisabledPayload{
			Meta:   events.Meta{AccountID: entry.account.AccountID},
			Reason: err.Error(),
		}); perr != nil {
			s.logger.Error("failed to publish automation disabled event",
				"account_id", entry.account.AccountID, "error", perr)
		}
		if derr := s.Delete(entry.job.JobID); derr != nil && !errors.Is(derr, ErrJobNotFound) {
			s.logger.Error("failed to delete job", "job_id", entry.job.JobID, "error", derr)
		}
	}
}

func (s *Scheduler) setStatus(entry *jobEntry, status string) {
	s.mu.Lock()
	entry.job.Status = status
	s.mu.Unlock()
}

func (s *Scheduler) snapshotLocked(entry *jobEntry) models.ScheduledJob {
	job := entry.job
	if job.Status != models.JobStatusStopped {
		if ce := s.cron.Entry(entry.entryID); ce.ID == entry.entryID && !ce.Next.IsZero() {
			next := ce.Next
			job.NextRun = &next
		}
	}
	return job
}

func (s *Scheduler) removeLocked(jobID string) {
	entry, ok := s.jobs[jobID]
	if !ok {
		return
	}
	s.cron.Remove(entry.entryID)
	delete(s.jobs, jobID)
	delete(s.byAccount, entry.job.AccountID)
	s.logger.Info("job removed", "job_id", jobID, "account_id", entry.job.AccountID)
}
