package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/bissquit/outreach-queue/internal/pkg/ctxlog"
)

// ErrorMapping ties a sentinel error to the response it produces.
type ErrorMapping struct {
	Error   error
	Status  int
	Code    string // optional machine-readable code
	Message string // defaults to err.Error()
}

// lookup returns the first mapping matching err.
func lookup(err error, mappings []ErrorMapping) (ErrorMapping, bool) {
	for _, m := range mappings {
		if errors.Is(err, m.Error) {
			return m, true
		}
	}
	return ErrorMapping{}, false
}

// HandleError writes the response mapped to err. Unmapped errors become an
// opaque 500 and are logged with the request logger, as are mapped 5xx.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	m, ok := lookup(err, mappings)
	if !ok {
		ctxlog.FromContext(ctx).Error("unhandled error", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	if m.Status >= http.StatusInternalServerError {
		ctxlog.FromContext(ctx).Error("request failed", "status", m.Status, "code", m.Code, "error", err)
	}

	msg := m.Message
	if msg == "" {
		msg = err.Error()
	}
	ErrorWithCode(w, m.Status, m.Code, msg)
}
