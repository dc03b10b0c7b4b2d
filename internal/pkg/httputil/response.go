// Package httputil holds the JSON envelopes, error mapping and middleware
// shared by the API handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
)

type successEnvelope struct {
	Data any `json:"data"`
}

// ErrorBody is the payload of the error envelope.
type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// FieldError describes one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "status", status, "error", err)
	}
}

// JSON writes v as-is, without an envelope.
func JSON(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, v)
}

// Text writes a plain text response.
func Text(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(text)); err != nil {
		slog.Error("write response", "status", status, "error", err)
	}
}

// Success wraps data as {"data": ...}.
func Success(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successEnvelope{Data: data})
}

// Error writes {"error": {"message": ...}}.
func Error(w http.ResponseWriter, status int, message string) {
	ErrorWithCode(w, status, "", message)
}

// ErrorWithCode writes an error envelope carrying a machine-readable code.
func ErrorWithCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: ErrorBody{Message: message, Code: code}})
}

// ValidationError writes a 400. Validator failures are reported per field,
// anything else as a plain details string.
func ValidationError(w http.ResponseWriter, err error) {
	body := ErrorBody{Message: "validation error", Code: "ValidationFailed", Details: err.Error()}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, FieldError{Field: fe.Field(), Message: fe.Tag()})
		}
		body.Details = fields
	}

	writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: body})
}
