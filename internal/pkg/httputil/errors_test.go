package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTest = errors.New("test error")

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body struct {
		Error map[string]string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error
}

func TestHandleError(t *testing.T) {
	mappings := []ErrorMapping{
		{Error: errTest, Status: http.StatusTooManyRequests, Code: "TestCode", Message: "mapped message"},
	}

	t.Run("mapped wrapped error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		HandleError(context.Background(), rec, fmt.Errorf("wrap: %w", errTest), mappings)

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, "mapped message", body["message"])
		assert.Equal(t, "TestCode", body["code"])
	})

	t.Run("unmapped error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		HandleError(context.Background(), rec, errors.New("boom"), mappings)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, "internal error", body["message"])
		_, hasCode := body["code"]
		assert.False(t, hasCode)
	})
}

func TestUUIDParam(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    string
		wantErr bool
	}{
		{name: "valid", value: "3f2504e0-4f89-11d3-9a0c-0305e82c3301", want: "3f2504e0-4f89-11d3-9a0c-0305e82c3301"},
		{name: "uppercase normalized", value: "3F2504E0-4F89-11D3-9A0C-0305E82C3301", want: "3f2504e0-4f89-11d3-9a0c-0305e82c3301"},
		{name: "invalid", value: "not-a-uuid", wantErr: true},
		{name: "empty", value: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("id", tt.value)
			req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

			got, err := UUIDParam(req, "id")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
