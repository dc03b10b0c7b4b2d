package dispatch

import (
	"net/http"

	"github.com/bissquit/outreach-queue/internal/domain"
	"github.com/bissquit/outreach-queue/internal/pkg/ctxlog"
	"github.com/bissquit/outreach-queue/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: domain.ErrStorageUnavailable, Status: http.StatusServiceUnavailable, Code: "StorageUnavailable", Message: "storage unavailable"},
}

// Handler handles HTTP requests for dispatching.
type Handler struct {
	dispatcher *Dispatcher
}

// NewHandler creates a new dispatch handler.
func NewHandler(dispatcher *Dispatcher) *Handler {
	return &Handler{dispatcher: dispatcher}
}

// RegisterRoutes registers dispatch routes under /owners/{ownerID}.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/dispatch", h.Dispatch)
}

// DispatchResponse lists what happened to each entry in the batch.
type DispatchResponse struct {
	Outcomes []Outcome `json:"outcomes"`
}

// Dispatch handles POST /owners/{ownerID}/dispatch.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	ownerID, err := httputil.UUIDParam(r, "ownerID")
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid owner id")
		return
	}

	outcomes, err := h.dispatcher.DispatchBatch(r.Context(), ownerID)
	if err != nil {
		if len(outcomes) == 0 {
			httputil.HandleError(r.Context(), w, err, errorMappings)
			return
		}
		// Partial batch: report what was processed.
		ctxlog.FromContext(r.Context()).Warn("dispatch batch stopped early",
			"owner_id", ownerID,
			"processed", len(outcomes),
			"error", err,
		)
	}

	httputil.Success(w, http.StatusOK, DispatchResponse{Outcomes: outcomes})
}
