// Package handlers exposes the expense pipeline over HTTP: asynchronous
// message submission, synchronous record creation and taxonomy inspection.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-bot/internal/api/middleware"
	"github.com/dvloznov/expense-bot/internal/domain"
	"github.com/dvloznov/expense-bot/internal/jobs"
	"github.com/dvloznov/expense-bot/internal/pipeline"
	"github.com/dvloznov/expense-bot/internal/taxonomy"
)

const maxMessageLength = 4096

// TaxonomySource is the taxonomy surface the API needs.
type TaxonomySource interface {
	Fetch(ctx context.Context) (domain.Taxonomy, error)
	Invalidate()
}

// ExpenseHandler handles expense-related endpoints.
type ExpenseHandler struct {
	runner    jobs.Runner
	publisher jobs.Publisher
	store     jobs.JobStore
	source    TaxonomySource
	log       zerolog.Logger
}

// NewExpenseHandler creates a new expense handler.
func NewExpenseHandler(runner jobs.Runner, publisher jobs.Publisher, store jobs.JobStore, source TaxonomySource, log zerolog.Logger) *ExpenseHandler {
	return &ExpenseHandler{
		runner:    runner,
		publisher: publisher,
		store:     store,
		source:    source,
		log:       log,
	}
}

// Register mounts all routes on the mux.
func (h *ExpenseHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/messages", h.SubmitMessage)
	mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
	mux.HandleFunc("POST /api/records", h.CreateRecord)
	mux.HandleFunc("GET /api/taxonomy", h.GetTaxonomy)
	mux.HandleFunc("POST /api/taxonomy/refresh", h.RefreshTaxonomy)
	mux.HandleFunc("GET /health", h.Health)
}

type submitRequest struct {
	Text       string `json:"text"`
	DeliveryID string `json:"delivery_id,omitempty"`
}

// SubmitMessage handles POST /api/messages: it enqueues the message and
// returns immediately. A resubmitted delivery_id returns the original job
// instead of enqueueing a second one.
func (h *ExpenseHandler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		middleware.WriteError(w, http.StatusBadRequest, "text is required")
		return
	}
	if len(req.Text) > maxMessageLength {
		middleware.WriteError(w, http.StatusBadRequest, "text too long")
		return
	}

	if req.DeliveryID != "" {
		existing, err := h.store.FindByDeliveryID(ctx, req.DeliveryID)
		if err != nil {
			h.log.Error().Err(err).Msg("Delivery lookup failed")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue message")
			return
		}
		if existing != nil {
			h.log.Info().
				Str("job_id", existing.JobID).
				Str("delivery_id", req.DeliveryID).
				Msg("Duplicate delivery, returning existing job")
			middleware.WriteJSON(w, http.StatusOK, existing)
			return
		}
	}

	job := &jobs.RecordMessageJob{
		Text:       req.Text,
		DeliveryID: req.DeliveryID,
	}
	if err := h.publisher.PublishRecordMessage(ctx, job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue message job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue message")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Msg("Message job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}

// GetJob handles GET /api/jobs/{id}.
func (h *ExpenseHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}

type recordRequest struct {
	Text string `json:"text"`
}

// CreateRecord handles POST /api/records: the message runs through the full
// pipeline before the response. Validation rejections map to 422, a missing
// taxonomy to 503.
func (h *ExpenseHandler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		middleware.WriteError(w, http.StatusBadRequest, "text is required")
		return
	}
	if len(req.Text) > maxMessageLength {
		middleware.WriteError(w, http.StatusBadRequest, "text too long")
		return
	}

	res, err := h.runner.Process(ctx, req.Text)
	if err != nil {
		var invalidAmount *pipeline.InvalidAmountError
		var unknownAccount *pipeline.UnknownAccountError
		var unavailable *taxonomy.UnavailableError
		switch {
		case errors.As(err, &invalidAmount), errors.As(err, &unknownAccount):
			middleware.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.As(err, &unavailable):
			middleware.WriteError(w, http.StatusServiceUnavailable, "Taxonomy unavailable")
		default:
			h.log.Error().Err(err).Msg("Pipeline run failed")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to process message")
		}
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	middleware.WriteJSON(w, status, res)
}

// GetTaxonomy handles GET /api/taxonomy.
func (h *ExpenseHandler) GetTaxonomy(w http.ResponseWriter, r *http.Request) {
	tax, err := h.source.Fetch(r.Context())
	if err != nil {
		var unavailable *taxonomy.UnavailableError
		if errors.As(err, &unavailable) {
			middleware.WriteError(w, http.StatusServiceUnavailable, "Taxonomy unavailable")
			return
		}
		h.log.Error().Err(err).Msg("Taxonomy fetch failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to fetch taxonomy")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, tax)
}

// RefreshTaxonomy handles POST /api/taxonomy/refresh: it drops the cached
// snapshot and fetches a fresh one, for when the Notion databases changed and
// waiting out the TTL is not acceptable.
func (h *ExpenseHandler) RefreshTaxonomy(w http.ResponseWriter, r *http.Request) {
	h.source.Invalidate()
	h.GetTaxonomy(w, r)
}

// Health handles GET /health.
func (h *ExpenseHandler) Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
