package quota

import (
	"net/http"

	"github.com/bissquit/outreach-queue/internal/domain"
	"github.com/bissquit/outreach-queue/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: domain.ErrStorageUnavailable, Status: http.StatusServiceUnavailable, Code: "StorageUnavailable", Message: "quota storage unavailable"},
}

// Handler handles HTTP requests for quota status.
type Handler struct {
	tracker *Tracker
}

// NewHandler creates a new quota handler.
func NewHandler(tracker *Tracker) *Handler {
	return &Handler{tracker: tracker}
}

// RegisterRoutes registers quota routes under /owners/{ownerID}.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/quota", h.GetQuota)
}

// GetQuota handles GET /owners/{ownerID}/quota.
func (h *Handler) GetQuota(w http.ResponseWriter, r *http.Request) {
	ownerID, err := httputil.UUIDParam(r, "ownerID")
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid owner id")
		return
	}

	status, err := h.tracker.CheckQuota(r.Context(), ownerID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, status)
}
