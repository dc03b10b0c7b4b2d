package dispatch

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bissquit/outreach-queue/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(d *Dispatcher) http.Handler {
	r := chi.NewRouter()
	r.Route("/owners/{ownerID}", NewHandler(d).RegisterRoutes)
	return r
}

func TestHandler_Dispatch(t *testing.T) {
	env := newTestEnv(t, 10)
	entry := env.queue.add(domain.QueueEntry{ScheduledAt: fixedNow.Add(-time.Minute)})
	env.queue.add(domain.QueueEntry{TargetID: leadGone})

	req := httptest.NewRequest(http.MethodPost, "/owners/"+ownerID+"/dispatch", nil)
	rec := httptest.NewRecorder()
	newTestRouter(env.dispatcher).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data DispatchResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Data.Outcomes, 2)
	assert.Equal(t, entry.ID, resp.Data.Outcomes[0].ID)
	assert.Equal(t, OutcomeSent, resp.Data.Outcomes[0].Status)
	assert.Equal(t, OutcomeFailed, resp.Data.Outcomes[1].Status)
	assert.Equal(t, "recipient not found", resp.Data.Outcomes[1].Error)
}

func TestHandler_Dispatch_Empty(t *testing.T) {
	env := newTestEnv(t, 10)

	req := httptest.NewRequest(http.MethodPost, "/owners/"+ownerID+"/dispatch", nil)
	rec := httptest.NewRecorder()
	newTestRouter(env.dispatcher).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"outcomes":[]`)
}

func TestHandler_Dispatch_StorageUnavailable(t *testing.T) {
	env := newTestEnv(t, 10)
	env.queue.nextErr = domain.ErrStorageUnavailable

	req := httptest.NewRequest(http.MethodPost, "/owners/"+ownerID+"/dispatch", nil)
	rec := httptest.NewRecorder()
	newTestRouter(env.dispatcher).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandler_Dispatch_BadOwner(t *testing.T) {
	env := newTestEnv(t, 10)

	req := httptest.NewRequest(http.MethodPost, "/owners/not-a-uuid/dispatch", nil)
	rec := httptest.NewRecorder()
	newTestRouter(env.dispatcher).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
