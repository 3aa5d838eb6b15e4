package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellerworks/band-crawler/internal/events"
	"github.com/sellerworks/band-crawler/internal/models"
	"github.com/sellerworks/band-crawler/internal/session"
)

type runnerFunc func(ctx context.Context, account models.Account) error

func (f runnerFunc) Run(ctx context.Context, account models.Account) error {
	return f(ctx, account)
}

type fakeAccounts struct {
	enabled  []models.Account
	disabled map[string]string
}

func newFakeAccounts(enabled ...models.Account) *fakeAccounts {
	return &fakeAccounts{enabled: enabled, disabled: make(map[string]string)}
}

func (a *fakeAccounts) ListAutomationEnabled(_ context.Context) ([]models.Account, error) {
	return a.enabled, nil
}

func (a *fakeAccounts) DisableAutomation(_ context.Context, accountID, reason string) error {
	a.disabled[accountID] = reason
	return nil
}

type fakeAlerter struct {
	disabled []*events.AutomationDisabledPayload
}

func (a *fakeAlerter) AutomationDisabled(_ context.Context, payload *events.AutomationDisabledPayload) error {
	a.disabled = append(a.disabled, payload)
	return nil
}

func testScheduler(runner Runner, accounts AccountSource) *Scheduler {
	return New(runner, accounts, &fakeAlerter{}, 2, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func account(id string, interval int) models.Account {
	return models.Account{AccountID: id, IntervalMinutes: interval, AutomationEnabled: true}
}

func TestRegisterReplacesExistingJobForAccount(t *testing.T) {
	s := testScheduler(runnerFunc(func(context.Context, models.Account) error { return nil }), newFakeAccounts())

	first, err := s.Register(account("acct-1", 10))
	require.NoError(t, err)
	second, err := s.Register(account("acct-1", 30))
	require.NoError(t, err)

	jobs := s.List()
	require.Len(t, jobs, 1, "re-registration must replace, not duplicate")
	assert.Equal(t, second.JobID, jobs[0].JobID)
	assert.NotEqual(t, first.JobID, second.JobID)
	assert.Equal(t, "@every 30m", jobs[0].CronExpr)
}

func TestRegisterRejectsInvalidInterval(t *testing.T) {
	s := testScheduler(runnerFunc(func(context.Context, models.Account) error { return nil }), newFakeAccounts())

	_, err := s.Register(account("acct-1", 0))

	require.Error(t, err)
	assert.Empty(t, s.List())
}

func TestExecuteSkipsTickWhileRunInFlight(t *testing.T) {
	ran := false
	s := testScheduler(runnerFunc(func(context.Context, models.Account) error {
		ran = true
		return nil
	}), newFakeAccounts())

	job, err := s.Register(account("acct-1", 10))
	require.NoError(t, err)
	entry := s.jobs[job.JobID]

	entry.inFlight.Store(true)
	s.execute(entry)

	assert.False(t, ran, "an overlapping tick must not start a second run")
	got, err := s.Get(job.JobID)
	require.NoError(t, err)
	assert.Nil(t, got.LastRun, "a skipped tick must not touch lastRun")
}

func TestExecuteRecordsOutcome(t *testing.T) {
	s := testScheduler(runnerFunc(func(context.Context, models.Account) error { return nil }), newFakeAccounts())
	job, err := s.Register(account("acct-1", 10))
	require.NoError(t, err)

	s.execute(s.jobs[job.JobID])

	got, err := s.Get(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusIdle, got.Status)
	require.NotNil(t, got.LastRun)
	assert.False(t, s.jobs[job.JobID].inFlight.Load(), "flag must clear after the run")
}

func TestExecuteDisablesAccountOnAuthFailure(t *testing.T) {
	accounts := newFakeAccounts()
	alerts := &fakeAlerter{}
	s := New(runnerFunc(func(context.Context, models.Account) error {
		return session.ErrAuthenticationFailed
	}), accounts, alerts, 2, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	job, err := s.Register(account("acct-1", 10))
	require.NoError(t, err)

	s.execute(s.jobs[job.JobID])

	assert.Contains(t, accounts.disabled, "acct-1")
	require.Len(t, alerts.disabled, 1, "operators must hear about the shutoff")
	assert.Equal(t, "acct-1", alerts.disabled[0].AccountID)
	assert.NotEmpty(t, alerts.disabled[0].Reason)
	_, err = s.Get(job.JobID)
	assert.ErrorIs(t, err, ErrJobNotFound, "job is removed after credential rejection")
}

func TestExecuteSkipsTickWhenPoolIsFull(t *testing.T) {
	ran := false
	s := testScheduler(runnerFunc(func(context.Context, models.Account) error {
		ran = true
		return nil
	}), newFakeAccounts())
	job, err := s.Register(account("acct-1", 10))
	require.NoError(t, err)
	entry := s.jobs[job.JobID]

	require.True(t, s.sem.TryAcquire(2), "drain the pool")
	s.execute(entry)
	s.sem.Release(2)

	assert.False(t, ran, "a full pool skips the tick instead of queueing")
	got, err := s.Get(job.JobID)
	require.NoError(t, err)
	assert.Nil(t, got.LastRun)
	assert.False(t, entry.inFlight.Load(), "flag must clear on a skipped tick")
}

func TestRefreshReconcilesRegistry(t *testing.T) {
	accounts := newFakeAccounts(account("acct-1", 10), account("acct-2", 15))
	s := testScheduler(runnerFunc(func(context.Context, models.Account) error { return nil }), accounts)

	require.NoError(t, s.Refresh(context.Background()))
	require.Len(t, s.List(), 2)
	firstJob, err := s.Get(s.byAccount["acct-1"])
	require.NoError(t, err)

	// acct-1 changes interval, acct-2 disables, acct-3 appears.
	accounts.enabled = []models.Account{account("acct-1", 60), account("acct-3", 5)}
	require.NoError(t, s.Refresh(context.Background()))

	jobs := s.List()
	require.Len(t, jobs, 2)
	byAccount := make(map[string]models.ScheduledJob)
	for _, j := range jobs {
		byAccount[j.AccountID] = j
	}
	assert.Equal(t, "@every 60m", byAccount["acct-1"].CronExpr)
	assert.NotEqual(t, firstJob.JobID, byAccount["acct-1"].JobID)
	assert.NotContains(t, byAccount, "acct-2")
	assert.Equal(t, "@every 5m", byAccount["acct-3"].CronExpr)
}

func TestRefreshLeavesUnchangedJobsAlone(t *testing.T) {
	accounts := newFakeAccounts(account("acct-1", 10))
	s := testScheduler(runnerFunc(func(context.Context, models.Account) error { return nil }), accounts)

	require.NoError(t, s.Refresh(context.Background()))
	before, err := s.Get(s.byAccount["acct-1"])
	require.NoError(t, err)

	require.NoError(t, s.Refresh(context.Background()))
	after, err := s.Get(s.byAccount["acct-1"])
	require.NoError(t, err)

	assert.Equal(t, before.JobID, after.JobID, "unchanged config must not churn job identity")
}

func TestStopRetainsConfigAndRestartRearms(t *testing.T) {
	s := testScheduler(runnerFunc(func(context.Context, models.Account) error { return nil }), newFakeAccounts())
	job, err := s.Register(account("acct-1", 10))
	require.NoError(t, err)

	require.NoError(t, s.Stop(job.JobID))
	got, err := s.Get(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusStopped, got.Status)
	assert.Nil(t, got.NextRun)

	require.NoError(t, s.Restart(job.JobID))
	got, err = s.Get(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusIdle, got.Status)

	require.NoError(t, s.Delete(job.JobID))
	assert.ErrorIs(t, s.Stop(job.JobID), ErrJobNotFound)
}
