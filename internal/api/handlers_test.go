package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellerworks/band-crawler/internal/models"
	"github.com/sellerworks/band-crawler/internal/queue"
	"github.com/sellerworks/band-crawler/internal/scheduler"
)

type fakeRegistry struct {
	jobs       map[string]models.ScheduledJob
	registered []models.Account
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{jobs: make(map[string]models.ScheduledJob)}
}

func (f *fakeRegistry) Register(account models.Account) (models.ScheduledJob, error) {
	f.registered = append(f.registered, account)
	job := models.ScheduledJob{JobID: "job-1", AccountID: account.AccountID, Status: models.JobStatusIdle}
	f.jobs[job.JobID] = job
	return job, nil
}

func (f *fakeRegistry) List() []models.ScheduledJob {
	var jobs []models.ScheduledJob
	for _, j := range f.jobs {
		jobs = append(jobs, j)
	}
	return jobs
}

func (f *fakeRegistry) Get(jobID string) (models.ScheduledJob, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return models.ScheduledJob{}, scheduler.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeRegistry) Stop(jobID string) error    { return f.exists(jobID) }
func (f *fakeRegistry) Restart(jobID string) error { return f.exists(jobID) }

func (f *fakeRegistry) Delete(jobID string) error {
	if err := f.exists(jobID); err != nil {
		return err
	}
	delete(f.jobs, jobID)
	return nil
}

func (f *fakeRegistry) exists(jobID string) error {
	if _, ok := f.jobs[jobID]; !ok {
		return scheduler.ErrJobNotFound
	}
	return nil
}

type fakeAccountStore struct {
	accounts map[string]*models.Account
	updates  []string
}

func (f *fakeAccountStore) Get(_ context.Context, accountID string) (*models.Account, error) {
	return f.accounts[accountID], nil
}

func (f *fakeAccountStore) SetAutomation(_ context.Context, accountID string, _ bool, _ int) error {
	f.updates = append(f.updates, accountID)
	return nil
}

type fakeTaskQueue struct {
	tasks []*queue.Task
	err   error
}

func (f *fakeTaskQueue) Push(task *queue.Task) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

type fakeOutboxStats struct {
	pending    int64
	deadLetter int64
}

func (f *fakeOutboxStats) GetPendingCount(context.Context) (int64, error)    { return f.pending, nil }
func (f *fakeOutboxStats) GetDeadLetterCount(context.Context) (int64, error) { return f.deadLetter, nil }

type fixture struct {
	handlers *Handlers
	registry *fakeRegistry
	accounts *fakeAccountStore
	queue    *fakeTaskQueue
	outbox   *fakeOutboxStats
	router   chi.Router
}

func newFixture() *fixture {
	f := &fixture{
		registry: newFakeRegistry(),
		accounts: &fakeAccountStore{accounts: map[string]*models.Account{
			"acct-1": {AccountID: "acct-1", LoginID: "seller@example.com"},
		}},
		queue:  &fakeTaskQueue{},
		outbox: &fakeOutboxStats{},
	}
	f.handlers = NewHandlers(f.registry, f.accounts, f.queue, f.outbox,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.router = chi.NewRouter()
	f.router.Route("/api/v1", f.handlers.Routes)
	f.router.Get("/health", f.handlers.Health)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestCreateJob(t *testing.T) {
	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
	}{
		{
			name:       "valid request",
			body:       CreateJobRequest{AccountID: "acct-1", IntervalMinutes: 30},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "interval below minimum",
			body:       CreateJobRequest{AccountID: "acct-1", IntervalMinutes: 0},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "interval above maximum",
			body:       CreateJobRequest{AccountID: "acct-1", IntervalMinutes: 1500},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown account",
			body:       CreateJobRequest{AccountID: "nobody", IntervalMinutes: 30},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "missing account id",
			body:       CreateJobRequest{IntervalMinutes: 30},
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			rec := f.do(t, http.MethodPost, "/api/v1/jobs", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestCreateJobCarriesIntervalToRegistry(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/api/v1/jobs", CreateJobRequest{AccountID: "acct-1", IntervalMinutes: 45})

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, f.registry.registered, 1)
	assert.Equal(t, 45, f.registry.registered[0].IntervalMinutes)
}

func TestJobLifecycleRoutes(t *testing.T) {
	f := newFixture()
	f.registry.jobs["job-1"] = models.ScheduledJob{JobID: "job-1", AccountID: "acct-1"}

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/jobs/job-1/stop", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/jobs/job-1/restart", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/v1/jobs/job-1", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/jobs/job-1", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/v1/jobs/missing/stop", nil).Code)
}

func TestTriggerCrawlQueuesTaskWithRunID(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/api/v1/crawl", TriggerCrawlRequest{AccountID: "acct-1", TargetPosts: 25})

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, f.queue.tasks, 1)
	assert.Equal(t, "acct-1", f.queue.tasks[0].AccountID)
	assert.Equal(t, 25, f.queue.tasks[0].TargetPosts)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, f.queue.tasks[0].ID, resp["run_id"])
}

func TestTriggerCrawlUnknownAccountIsNotFound(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/api/v1/crawl", TriggerCrawlRequest{AccountID: "nobody"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, f.queue.tasks)
}

func TestTriggerCrawlRejectsClosedQueue(t *testing.T) {
	f := newFixture()
	f.queue.err = queue.ErrQueueClosed

	rec := f.do(t, http.MethodPost, "/api/v1/crawl", TriggerCrawlRequest{AccountID: "acct-1"})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSetAutomation(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPut, "/api/v1/accounts/acct-1/automation",
		SetAutomationRequest{Enabled: true, IntervalMinutes: 60})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"acct-1"}, f.accounts.updates)
}

func TestSetAutomationRequiresIntervalWhenEnabling(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPut, "/api/v1/accounts/acct-1/automation",
		SetAutomationRequest{Enabled: true})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.accounts.updates)
}

func TestHealthDegradesOnDeadLetterBacklog(t *testing.T) {
	f := newFixture()
	f.outbox.deadLetter = 500

	rec := f.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "error", health["status"])
}
