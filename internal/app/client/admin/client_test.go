package admin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	syncAPI "shopsync/internal/app/client/api/http/sync"
	"shopsync/internal/domain/sync"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newDaemon(t *testing.T) *httptest.Server {
	t.Helper()

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get("Authorization") != "Bearer secret" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Post("/api/v1/sync/run", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, sync.CycleResult{Success: true, Uploaded: 2, Downloaded: 1})
	})
	r.Get("/api/v1/sync/queue", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		writeJSON(w, http.StatusOK, []*sync.SyncRecord{{
			ID:     "q-1",
			Table:  q.Get("table"),
			Status: sync.Status(q.Get("status")),
		}})
	})
	r.Post("/api/v1/sync/queue", func(w http.ResponseWriter, req *http.Request) {
		var body syncAPI.EnqueueRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Table == "" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"title":  "Unprocessable Entity",
				"status": 422,
				"detail": "table is required",
			})
			return
		}
		writeJSON(w, http.StatusCreated, syncAPI.EnqueueResponse{ID: "new-id", Status: sync.StatusPending})
	})
	r.Post("/api/v1/connection/resume", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_RunDecodesResult(t *testing.T) {
	srv := newDaemon(t)
	c := New(srv.URL, "secret", testLogger())

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Uploaded)
	assert.Equal(t, 1, res.Downloaded)
}

func TestClient_QueuePassesFilters(t *testing.T) {
	srv := newDaemon(t)
	c := New(srv.URL, "secret", testLogger())

	recs, err := c.Queue(context.Background(), sync.RecordQuery{Status: sync.StatusFailed, Table: "products", Limit: 10})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "products", recs[0].Table)
	assert.Equal(t, sync.StatusFailed, recs[0].Status)
}

func TestClient_Errors(t *testing.T) {
	srv := newDaemon(t)

	t.Run("auth middleware message", func(t *testing.T) {
		c := New(srv.URL, "wrong", testLogger())
		_, err := c.Run(context.Background())

		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
		assert.Equal(t, "invalid token", se.Message)
	})

	t.Run("problem detail", func(t *testing.T) {
		c := New(srv.URL, "secret", testLogger())
		_, err := c.Enqueue(context.Background(), syncAPI.EnqueueRequest{})

		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusUnprocessableEntity, se.StatusCode)
		assert.Contains(t, err.Error(), "table is required")
	})

	t.Run("daemon down", func(t *testing.T) {
		c := New("127.0.0.1:1", "secret", testLogger())
		err := c.Resume(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "демон недоступен")
	})
}

func TestClient_EnqueueAndResume(t *testing.T) {
	srv := newDaemon(t)
	c := New(srv.URL, "secret", testLogger())

	out, err := c.Enqueue(context.Background(), syncAPI.EnqueueRequest{
		Table:   "products",
		Action:  sync.ActionCreate,
		Payload: json.RawMessage(`{"id":"p-1"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "new-id", out.ID)
	assert.Equal(t, sync.StatusPending, out.Status)

	assert.NoError(t, c.Resume(context.Background()))
}

func TestNew_NormalizesAddress(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:8765", New("127.0.0.1:8765", "", testLogger()).baseURL)
	assert.Equal(t, "https://shop.local", New("https://shop.local/", "", testLogger()).baseURL)
}
