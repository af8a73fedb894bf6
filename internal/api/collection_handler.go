package api

import (
	"context"
	"net/http"
	"time"

	"github.com/andr-235/fullstack-parser-sub002/internal/api/shared"
	"github.com/andr-235/fullstack-parser-sub002/internal/collection"
	"github.com/andr-235/fullstack-parser-sub002/internal/domain"
	"github.com/andr-235/fullstack-parser-sub002/internal/queue"
	"github.com/go-chi/chi/v5"
)

// CollectionService is the part of the orchestrator the handlers use.
type CollectionService interface {
	Submit(ctx context.Context, lines []string) (*domain.CollectionJob, error)
	Status(ctx context.Context, taskID string) (*domain.CollectionJob, error)
	GetResults(ctx context.Context, taskID string, filter domain.EntityFilter, page domain.Page) (*collection.Results, error)
	Cancel(ctx context.Context, taskID string) (*domain.CollectionJob, error)
}

// HealthChecker reports worker state.
type HealthChecker interface {
	HealthCheck() queue.Health
}

// SubmitCollectionRequest is the body of POST /api/collections.
type SubmitCollectionRequest struct {
	Identifiers []string `json:"identifiers" validate:"required,min=1"`
}

// SubmitCollectionResponse is returned when a collection is accepted.
type SubmitCollectionResponse struct {
	TaskID string           `json:"task_id"`
	Status domain.JobStatus `json:"status"`
	Total  int              `json:"total"`
}

// CollectionResponse is the client-facing shape of a job. Target identifiers
// are left out; they can be large and the caller already has them.
type CollectionResponse struct {
	ID              string            `json:"id"`
	Kind            domain.JobKind    `json:"kind"`
	Status          domain.JobStatus  `json:"status"`
	Phase           domain.JobPhase   `json:"phase"`
	Progress        domain.Progress   `json:"progress"`
	Errors          []domain.JobError `json:"errors"`
	CancelRequested bool              `json:"cancel_requested"`
	FailureReason   string            `json:"failure_reason,omitempty"`
	Attempts        int               `json:"attempts"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string       `json:"status"`
	Queue  queue.Health `json:"queue"`
}

// CollectionHandler serves the collection endpoints.
type CollectionHandler struct {
	service CollectionService
	health  HealthChecker
}

// NewCollectionHandler creates a new CollectionHandler.
func NewCollectionHandler(service CollectionService, health HealthChecker) *CollectionHandler {
	return &CollectionHandler{service: service, health: health}
}

// Routes mounts the collection endpoints on r.
func (h *CollectionHandler) Routes(r chi.Router) {
	r.Post("/api/collections", h.Submit)
	r.Get("/api/collections/{id}", h.GetStatus)
	r.Get("/api/collections/{id}/results", h.GetResults)
	r.Post("/api/collections/{id}/cancel", h.Cancel)
	r.Get("/health", h.Health)
}

// Submit handles POST /api/collections.
func (h *CollectionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitCollectionRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	job, err := h.service.Submit(r.Context(), req.Identifiers)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	// Processing happens asynchronously.
	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitCollectionResponse{
		TaskID: job.ID,
		Status: job.Status,
		Total:  job.Progress.Total,
	})
}

// GetStatus handles GET /api/collections/{id}.
func (h *CollectionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, collectionToResponse(job))
}

// GetResults handles GET /api/collections/{id}/results.
func (h *CollectionHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	limit, err := shared.QueryInt(r, "limit", 0)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, err.Error(), err)
		return
	}
	offset, err := shared.QueryInt(r, "offset", 0)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, err.Error(), err)
		return
	}
	filter := domain.EntityFilter{Status: domain.EntityStatus(r.URL.Query().Get("status"))}

	res, err := h.service.GetResults(r.Context(), chi.URLParam(r, "id"), filter, domain.Page{Limit: limit, Offset: offset})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, res)
}

// Cancel handles POST /api/collections/{id}/cancel.
func (h *CollectionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, collectionToResponse(job))
}

// Health handles GET /health.
func (h *CollectionHandler) Health(w http.ResponseWriter, r *http.Request) {
	health := h.health.HealthCheck()
	resp := HealthResponse{Status: "ok", Queue: health}
	status := http.StatusOK
	if !health.Running {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	shared.RespondWithJSON(w, r, status, resp)
}

func (h *CollectionHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
}

// collectionToResponse converts a domain.CollectionJob to a CollectionResponse
func collectionToResponse(job *domain.CollectionJob) CollectionResponse {
	errs := job.Errors
	if errs == nil {
		errs = []domain.JobError{}
	}
	return CollectionResponse{
		ID:              job.ID,
		Kind:            job.Kind,
		Status:          job.Status,
		Phase:           job.Phase,
		Progress:        job.Progress,
		Errors:          errs,
		CancelRequested: job.CancelRequested,
		FailureReason:   job.FailureReason,
		Attempts:        job.Attempts,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
	}
}
