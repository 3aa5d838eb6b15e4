// Package api is the operator control surface: job lifecycle, account
// automation toggles, manual runs, and health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sellerworks/band-crawler/internal/models"
	"github.com/sellerworks/band-crawler/internal/queue"
	"github.com/sellerworks/band-crawler/internal/scheduler"
)

// JobRegistry is the scheduler surface the handlers drive.
type JobRegistry interface {
	Register(account models.Account) (models.ScheduledJob, error)
	List() []models.ScheduledJob
	Get(jobID string) (models.ScheduledJob, error)
	Stop(jobID string) error
	Restart(jobID string) error
	Delete(jobID string) error
}

// AccountStore reads and updates the account registry.
type AccountStore interface {
	Get(ctx context.Context, accountID string) (*models.Account, error)
	SetAutomation(ctx context.Context, accountID string, enabled bool, intervalMinutes int) error
}

// TaskQueue accepts manual one-shot runs.
type TaskQueue interface {
	Push(task *queue.Task) error
}

// OutboxStats reports relay backlog for health checks.
type OutboxStats interface {
	GetPendingCount(ctx context.Context) (int64, error)
	GetDeadLetterCount(ctx context.Context) (int64, error)
}

type Handlers struct {
	jobs     JobRegistry
	accounts AccountStore
	queue    TaskQueue
	outbox   OutboxStats
	validate *validator.Validate
	logger   *slog.Logger
}

func NewHandlers(jobs JobRegistry, accounts AccountStore, q TaskQueue, outbox OutboxStats, logger *slog.Logger) *Handlers {
	return &Handlers{
		jobs:     jobs,
		accounts: accounts,
		queue:    q,
		outbox:   outbox,
		validate: validator.New(),
		logger:   logger.With("component", "api"),
	}
}

// Routes mounts every handler under the given router.
func (h *Handlers) Routes(r chi.Router) {
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", h.CreateJob)
		r.Get("/", h.ListJobs)
		r.Get("/{jobID}", h.GetJob)
		r.Post("/{jobID}/stop", h.StopJob)
		r.Post("/{jobID}/restart", h.RestartJob)
		r.Delete("/{jobID}", h.DeleteJob)
	})
	r.Put("/accounts/{accountID}/automation", h.SetAutomation)
	r.Post("/crawl", h.TriggerCrawl)
}

// CreateJobRequest registers a recurring crawl for an account.
type CreateJobRequest struct {
	AccountID       string `json:"account_id" validate:"required"`
	IntervalMinutes int    `json:"interval_minutes" validate:"required,min=1,max=1440"`
}

func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	account, err := h.accounts.Get(r.Context(), req.AccountID)
	if err != nil {
		h.logger.Error("failed to load account", "account_id", req.AccountID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load account")
		return
	}
	if account == nil {
		h.respondError(w, http.StatusNotFound, "account not found")
		return
	}

	account.IntervalMinutes = req.IntervalMinutes
	job, err := h.jobs.Register(*account)
	if err != nil {
		h.logger.Error("failed to register job", "account_id", req.AccountID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to register job")
		return
	}

	h.respondJSON(w, http.StatusCreated, job)
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.jobs.List())
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		h.respondJobError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) StopJob(w http.ResponseWriter, r *http.Request) {
	h.jobLifecycle(w, r, h.jobs.Stop)
}

func (h *Handlers) RestartJob(w http.ResponseWriter, r *http.Request) {
	h.jobLifecycle(w, r, h.jobs.Restart)
}

func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	h.jobLifecycle(w, r, h.jobs.Delete)
}

func (h *Handlers) jobLifecycle(w http.ResponseWriter, r *http.Request, op func(jobID string) error) {
	jobID := chi.URLParam(r, "jobID")
	if err := op(jobID); err != nil {
		h.respondJobError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "result": "ok"})
}

// SetAutomationRequest toggles scheduled crawling for an account.
type SetAutomationRequest struct {
	Enabled         bool `json:"enabled"`
	IntervalMinutes int  `json:"interval_minutes" validate:"required_if=Enabled true,omitempty,min=1,max=1440"`
}

func (h *Handlers) SetAutomation(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	var req SetAutomationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	account, err := h.accounts.Get(r.Context(), accountID)
	if err != nil {
		h.logger.Error("failed to load account", "account_id", accountID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load account")
		return
	}
	if account == nil {
		h.respondError(w, http.StatusNotFound, "account not found")
		return
	}

	if err := h.accounts.SetAutomation(r.Context(), accountID, req.Enabled, req.IntervalMinutes); err != nil {
		h.logger.Error("failed to update automation", "account_id", accountID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to update automation")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"account_id":       accountID,
		"enabled":          req.Enabled,
		"interval_minutes": req.IntervalMinutes,
	})
}

// TriggerCrawlRequest queues a one-shot crawl outside the schedule.
type TriggerCrawlRequest struct {
	AccountID   string `json:"account_id" validate:"required"`
	TargetPosts int    `json:"target_posts" validate:"omitempty,min=1,max=500"`
	Priority    int    `json:"priority" validate:"omitempty,min=0,max=10"`
}

func (h *Handlers) TriggerCrawl(w http.ResponseWriter, r *http.Request) {
	var req TriggerCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	account, err := h.accounts.Get(r.Context(), req.AccountID)
	if err != nil {
		h.logger.Error("failed to load account", "account_id", req.AccountID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load account")
		return
	}
	if account == nil {
		h.respondError(w, http.StatusNotFound, "account not found")
		return
	}

	task := &queue.Task{
		ID:          uuid.New().String(),
		AccountID:   req.AccountID,
		TargetPosts: req.TargetPosts,
		Priority:    req.Priority,
		CreatedAt:   time.Now(),
	}
	if err := h.queue.Push(task); err != nil {
		h.logger.Error("failed to queue crawl", "account_id", req.AccountID, "error", err)
		h.respondError(w, http.StatusServiceUnavailable, "crawl queue is not accepting tasks")
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]string{
		"run_id":     task.ID,
		"account_id": task.AccountID,
	})
}

// Health reports outbox backlog alongside liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	pending, _ := h.outbox.GetPendingCount(r.Context())
	deadLetter, _ := h.outbox.GetDeadLetterCount(r.Context())

	health := map[string]interface{}{
		"status": "ok",
		"outbox": map[string]interface{}{
			"pending":     pending,
			"dead_letter": deadLetter,
		},
	}

	status := http.StatusOK
	if pending > 1000 {
		health["status"] = "warning"
		health["message"] = "high number of pending outbox events"
	}
	if deadLetter > 100 {
		health["status"] = "error"
		health["message"] = "high number of dead letter events"
		status = http.StatusServiceUnavailable
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) respondJobError(w http.ResponseWriter, err error) {
	if errors.Is(err, scheduler.ErrJobNotFound) {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	h.logger.Error("job operation failed", "error", err)
	h.respondError(w, http.StatusInternalServerError, "job operation failed")
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
