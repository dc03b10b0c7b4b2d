package queue

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bissquit/outreach-queue/internal/domain"
	"github.com/bissquit/outreach-queue/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrQuotaExceeded, Status: http.StatusTooManyRequests, Code: "QuotaExceeded", Message: "daily send limit reached"},
	{Error: ErrEntryNotFound, Status: http.StatusNotFound, Code: "NotFound", Message: "queue entry not found"},
	{Error: domain.ErrStorageUnavailable, Status: http.StatusServiceUnavailable, Code: "StorageUnavailable", Message: "storage unavailable"},
}

// Handler handles HTTP requests for the queue module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new queue handler.
func NewHandler(service *Service) *Handler {
	v := validator.New()
	// Header values must not carry line breaks.
	_ = v.RegisterValidation("singleline", func(fl validator.FieldLevel) bool {
		return !strings.ContainsAny(fl.Field().String(), "\r\n")
	})
	return &Handler{
		service:   service,
		validator: v,
	}
}

// RegisterRoutes registers queue routes under /owners/{ownerID}.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/queue", func(r chi.Router) {
		r.Get("/", h.ListQueue)
		r.Post("/", h.Enqueue)
		r.Get("/{entryID}", h.GetEntry)
		r.Delete("/{entryID}", h.CancelEntry)
	})
}

// EnqueueRequest represents request body for queueing an email.
type EnqueueRequest struct {
	TargetID    string     `json:"target_id" validate:"required,uuid"`
	Subject     string     `json:"subject" validate:"required,max=998,singleline"`
	Body        string     `json:"body" validate:"required"`
	Category    string     `json:"category" validate:"required,oneof=introduction follow-up"`
	Priority    int        `json:"priority"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

// EnqueueResponse is returned after an entry was admitted.
type EnqueueResponse struct {
	Success bool               `json:"success"`
	QueueID string             `json:"queue_id"`
	Entry   *domain.QueueEntry `json:"entry"`
}

// ListResponse contains the owner's entries and per-status counts.
type ListResponse struct {
	Entries []domain.QueueEntry `json:"entries"`
	Stats   *domain.QueueStats  `json:"stats"`
}

// CancelResponse reports whether an entry was cancelled.
type CancelResponse struct {
	Success bool `json:"success"`
}

// Enqueue handles POST /owners/{ownerID}/queue.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	ownerID, err := httputil.UUIDParam(r, "ownerID")
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid owner id")
		return
	}

	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	entry, err := h.service.Enqueue(r.Context(), EnqueueInput{
		OwnerID:     ownerID,
		TargetID:    req.TargetID,
		Subject:     req.Subject,
		Body:        req.Body,
		Category:    domain.Category(req.Category),
		Priority:    req.Priority,
		ScheduledAt: req.ScheduledAt,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, EnqueueResponse{
		Success: true,
		QueueID: entry.ID,
		Entry:   entry,
	})
}

// ListQueue handles GET /owners/{ownerID}/queue.
func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	ownerID, err := httputil.UUIDParam(r, "ownerID")
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid owner id")
		return
	}

	var filter ListFilter
	if v := r.URL.Query().Get("status"); v != "" {
		status := domain.EntryStatus(v)
		if !status.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid status filter")
			return
		}
		filter.Status = &status
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			httputil.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	entries, err := h.service.ListForOwner(r.Context(), ownerID, filter)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	stats, err := h.service.Stats(r.Context(), ownerID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	if entries == nil {
		entries = []domain.QueueEntry{}
	}

	httputil.Success(w, http.StatusOK, ListResponse{Entries: entries, Stats: stats})
}

// GetEntry handles GET /owners/{ownerID}/queue/{entryID}.
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	ownerID, err := httputil.UUIDParam(r, "ownerID")
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid owner id")
		return
	}
	entryID, err := httputil.UUIDParam(r, "entryID")
	if err != nil {
		httputil.Error(w, http.StatusNotFound, "queue entry not found")
		return
	}

	entry, err := h.service.Get(r.Context(), entryID, ownerID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, entry)
}

// CancelEntry handles DELETE /owners/{ownerID}/queue/{entryID}.
func (h *Handler) CancelEntry(w http.ResponseWriter, r *http.Request) {
	ownerID, err := httputil.UUIDParam(r, "ownerID")
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid owner id")
		return
	}

	// A malformed id cannot match any entry.
	entryID, err := httputil.UUIDParam(r, "entryID")
	if err != nil {
		httputil.Success(w, http.StatusOK, CancelResponse{Success: false})
		return
	}

	ok, err := h.service.Cancel(r.Context(), entryID, ownerID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, CancelResponse{Success: ok})
}
