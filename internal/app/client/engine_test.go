package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	gosync "sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"shopsync/internal/app/client/config"
	"shopsync/internal/domain/sync"
)

const adminToken = "admin-token"

type feedEntry struct {
	Resource  string          `json:"resource"`
	RecordID  string          `json:"record_id"`
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// fakeRemote сервер магазина в памяти
type fakeRemote struct {
	mu        gosync.Mutex
	down      bool
	rejecting map[string]bool
	store     map[string]map[string]json.RawMessage
	feed      []feedEntry
}

func newFakeRemote(t *testing.T) (*fakeRemote, *httptest.Server) {
	f := &fakeRemote{
		rejecting: map[string]bool{},
		store:     map[string]map[string]json.RawMessage{},
	}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			f.mu.Lock()
			down := f.down
			f.mu.Unlock()
			if down {
				http.Error(w, `{"error":"maintenance"}`, http.StatusServiceUnavailable)
				return
			}
			if req.Header.Get("Authorization") != "Bearer shop-key" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/sync/changes", f.changes)
	r.Post("/v1/{resource}", f.create)
	r.Put("/v1/{resource}/{id}", f.update)
	r.Delete("/v1/{resource}/{id}", f.delete)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeRemote) setDown(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = v
}

func (f *fakeRemote) reject(id string, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejecting[id] = v
}

// seed кладет запись на сервер и в ленту изменений
func (f *fakeRemote) seed(resource, id string, data string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.store[resource] == nil {
		f.store[resource] = map[string]json.RawMessage{}
	}
	f.store[resource][id] = json.RawMessage(data)
	f.feed = append(f.feed, feedEntry{Resource: resource, RecordID: id, Action: "update", Data: json.RawMessage(data), Timestamp: at})
}

func (f *fakeRemote) get(resource, id string) (json.RawMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.store[resource][id]
	return d, ok
}

func (f *fakeRemote) count(resource string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.store[resource])
}

func (f *fakeRemote) put(w http.ResponseWriter, resource, id string, data json.RawMessage, status int) {
	if f.store[resource] == nil {
		f.store[resource] = map[string]json.RawMessage{}
	}
	f.store[resource][id] = data
	f.feed = append(f.feed, feedEntry{Resource: resource, RecordID: id, Action: "update", Data: data, Timestamp: time.Now().UTC()})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (f *fakeRemote) create(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	body, _ := io.ReadAll(r.Body)

	var doc struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &doc); err != nil || doc.ID == "" {
		http.Error(w, `{"error":"id required"}`, http.StatusUnprocessableEntity)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.rejecting[doc.ID] {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
		return
	}
	if existing, ok := f.store[resource][doc.ID]; ok && !bytes.Equal(existing, body) {
		http.Error(w, `{"error":"already exists"}`, http.StatusConflict)
		return
	}
	f.put(w, resource, doc.ID, body, http.StatusCreated)
}

func (f *fakeRemote) update(w http.ResponseWriter, r *http.Request) {
	resource, id := chi.URLParam(r, "resource"), chi.URLParam(r, "id")
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.rejecting[id] {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
		return
	}
	if _, ok := f.store[resource][id]; !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	f.put(w, resource, id, body, http.StatusOK)
}

func (f *fakeRemote) delete(w http.ResponseWriter, r *http.Request) {
	resource, id := chi.URLParam(r, "resource"), chi.URLParam(r, "id")

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.store[resource][id]; !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	delete(f.store[resource], id)
	f.feed = append(f.feed, feedEntry{Resource: resource, RecordID: id, Action: "delete", Timestamp: time.Now().UTC()})
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeRemote) changes(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		since, _ = time.Parse(time.RFC3339Nano, s)
	}
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		_, _ = fmt.Sscan(l, &limit)
	}

	f.mu.Lock()
	var out []feedEntry
	for _, e := range f.feed {
		if e.Timestamp.After(since) {
			out = append(out, e)
		}
	}
	f.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"changes":     out,
		"has_more":    hasMore,
		"server_time": time.Now().UTC(),
	})
}

func newTestApp(t *testing.T, remoteURL string, mutate func(*sync.Config)) *App {
	t.Helper()

	sc := sync.DefaultConfig()
	sc.RemoteBaseURL = remoteURL
	sc.APIKey = "shop-key"
	sc.RetryDelayMS = 0
	if mutate != nil {
		mutate(&sc)
	}

	dir := t.TempDir()
	cfg := &config.Config{
		Env:          "local",
		DBPath:       filepath.Join(dir, "shopsync.db"),
		KeyFile:      filepath.Join(dir, "device.key"),
		AdminAddress: "127.0.0.1:0",
		AdminToken:   adminToken,
		Sync:         sc,
		Realtime:     config.Realtime{Heartbeat: time.Second, MaxAttempts: 3},
		Monitor:      time.Minute,
	}

	app, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func write(t *testing.T, app *App, table string, action sync.Action, payload string) string {
	t.Helper()
	id, err := app.Service().Write(context.Background(), sync.EnqueueRequest{
		Table:   table,
		Action:  action,
		Payload: json.RawMessage(payload),
	})
	require.NoError(t, err)
	return id
}

func runCycle(t *testing.T, app *App) *sync.CycleResult {
	t.Helper()
	res, err := app.Service().Sync(context.Background())
	require.NoError(t, err)
	return res
}

func localDoc(t *testing.T, app *App, table, id string) map[string]interface{} {
	t.Helper()
	raw, err := app.Documents().GetRecord(context.Background(), table, id)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc
}

func queueStatus(t *testing.T, app *App, id string) sync.Status {
	t.Helper()
	recs, err := app.Service().Queue(context.Background(), sync.RecordQuery{Limit: 100})
	require.NoError(t, err)
	for _, r := range recs {
		if r.ID == id {
			return r.Status
		}
	}
	t.Fatalf("queue entry %s not found", id)
	return ""
}

func TestEngine_OfflineThenOnline(t *testing.T) {
	remote, srv := newFakeRemote(t)
	app := newTestApp(t, srv.URL, nil)

	remote.setDown(true)
	for i := 1; i <= 3; i++ {
		write(t, app, "products", sync.ActionCreate, fmt.Sprintf(`{"id":"p-%d","name":"part %d"}`, i, i))
	}

	res := runCycle(t, app)
	assert.True(t, res.Offline)
	assert.Equal(t, 0, res.Uploaded)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 3, app.Service().Status(context.Background()).Pending)

	remote.setDown(false)
	res = runCycle(t, app)
	assert.False(t, res.Offline)
	assert.Equal(t, 3, res.Uploaded)
	assert.Equal(t, 3, remote.count("parts"))

	st := app.Service().Status(context.Background())
	assert.Equal(t, 0, st.Pending)
	assert.Equal(t, 3, st.Synced)
	assert.Equal(t, 0, st.Conflicts)
}

func TestEngine_DownloadsRemoteChanges(t *testing.T) {
	remote, srv := newFakeRemote(t)
	remote.seed("parts", "p-9", `{"id":"p-9","name":"gasket","price":3.5}`, time.Now().Add(-time.Minute).UTC())
	remote.seed("customers", "c-1", `{"id":"c-1","name":"Ann"}`, time.Now().Add(-30*time.Second).UTC())

	app := newTestApp(t, srv.URL, nil)

	res := runCycle(t, app)
	assert.Equal(t, 2, res.Downloaded)
	assert.Equal(t, "gasket", localDoc(t, app, "products", "p-9")["name"])
	assert.Equal(t, "Ann", localDoc(t, app, "customers", "c-1")["name"])

	res = runCycle(t, app)
	assert.Equal(t, 0, res.Downloaded, "cursor must skip already applied changes")
}

func TestEngine_BatchSizeLimitsUpload(t *testing.T) {
	remote, srv := newFakeRemote(t)
	app := newTestApp(t, srv.URL, func(c *sync.Config) { c.BatchSize = 2 })

	for i := 1; i <= 5; i++ {
		write(t, app, "sales", sync.ActionCreate, fmt.Sprintf(`{"id":"s-%d","total":%d}`, i, i*10))
	}

	res := runCycle(t, app)
	assert.Equal(t, 2, res.Uploaded)
	assert.Equal(t, 2, remote.count("transactions"))
	assert.Equal(t, 3, app.Service().Status(context.Background()).Pending)

	runCycle(t, app)
	runCycle(t, app)
	assert.Equal(t, 5, remote.count("transactions"))
}

func TestEngine_ManualConflictResolvedViaAdminAPI(t *testing.T) {
	remote, srv := newFakeRemote(t)
	remote.seed("parts", "p-1", `{"id":"p-1","name":"remote name","price":12}`, time.Now().Add(-time.Minute).UTC())
	remote.reject("p-1", true)

	app := newTestApp(t, srv.URL, func(c *sync.Config) { c.ConflictPolicy = sync.PolicyManual })
	qid := write(t, app, "products", sync.ActionUpdate, `{"id":"p-1","name":"local name","price":12}`)

	res := runCycle(t, app)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Conflicts)
	assert.Equal(t, 0, res.Resolved)
	assert.Equal(t, sync.StatusConflict, queueStatus(t, app, qid))
	assert.Equal(t, "local name", localDoc(t, app, "products", "p-1")["name"])

	conflicts, err := app.Service().Conflicts(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	admin := httptest.NewServer(app.Handler())
	defer admin.Close()

	resolve := func(token string) int {
		body := bytes.NewBufferString(`{"resolution":"remote"}`)
		req, err := http.NewRequest(http.MethodPost,
			fmt.Sprintf("%s/api/v1/conflicts/%d/resolve", admin.URL, conflicts[0].ID), body)
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusUnauthorized, resolve("wrong"))
	assert.Equal(t, http.StatusOK, resolve(adminToken))
	assert.Equal(t, http.StatusConflict, resolve(adminToken))

	assert.Equal(t, "remote name", localDoc(t, app, "products", "p-1")["name"])
	assert.Equal(t, sync.StatusDead, queueStatus(t, app, qid))

	remote.reject("p-1", false)
	res = runCycle(t, app)
	assert.Equal(t, 0, res.Uploaded)
	assert.Equal(t, 0, res.Conflicts)
}

func TestEngine_LocalPolicyWins(t *testing.T) {
	remote, srv := newFakeRemote(t)
	remote.seed("parts", "p-1", `{"id":"p-1","name":"remote name"}`, time.Now().Add(-time.Minute).UTC())
	remote.reject("p-1", true)

	app := newTestApp(t, srv.URL, func(c *sync.Config) { c.ConflictPolicy = sync.PolicyLocal })
	qid := write(t, app, "products", sync.ActionCreate, `{"id":"p-1","name":"local name"}`)

	res := runCycle(t, app)
	assert.Equal(t, 1, res.Conflicts)
	assert.Equal(t, 1, res.Resolved)
	assert.Equal(t, sync.StatusPending, queueStatus(t, app, qid))

	remote.reject("p-1", false)
	res = runCycle(t, app)
	assert.Equal(t, 1, res.Uploaded)
	assert.Equal(t, 0, res.Conflicts)
	assert.Equal(t, sync.StatusSynced, queueStatus(t, app, qid))

	data, ok := remote.get("parts", "p-1")
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"p-1","name":"local name"}`, string(data))
	assert.Equal(t, "local name", localDoc(t, app, "products", "p-1")["name"])
}

func TestEngine_AdminHandlerServes(t *testing.T) {
	_, srv := newFakeRemote(t)
	app := newTestApp(t, srv.URL, nil)

	admin := httptest.NewServer(app.Handler())
	defer admin.Close()

	get := func(path string) (int, map[string]interface{}) {
		req, err := http.NewRequest(http.MethodGet, admin.URL+path, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+adminToken)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		var body map[string]interface{}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return resp.StatusCode, body
	}

	code, _ := get("/api/v1/health")
	assert.Equal(t, http.StatusOK, code)

	code, body := get("/api/v1/sync/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "status")

	code, body = get("/api/v1/connection")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "realtime")
	assert.Contains(t, body, "monitor")
}

func TestEngine_OfflineInventoryUpdateSynced(t *testing.T) {
	remote, srv := newFakeRemote(t)
	// запись уже есть на сервере, но в ленте изменений ее нет
	remote.mu.Lock()
	remote.store["inventory"] = map[string]json.RawMessage{"5": json.RawMessage(`{"id":5,"stock":10}`)}
	remote.mu.Unlock()

	app := newTestApp(t, srv.URL, nil)

	remote.setDown(true)
	qid := write(t, app, "inventory", sync.ActionUpdate, `{"id":5,"stock":3}`)
	assert.Equal(t, sync.StatusPending, queueStatus(t, app, qid))

	res := runCycle(t, app)
	assert.True(t, res.Offline)
	assert.Equal(t, sync.StatusPending, queueStatus(t, app, qid))

	remote.setDown(false)
	res = runCycle(t, app)
	assert.Equal(t, 1, res.Uploaded)
	assert.Equal(t, sync.StatusSynced, queueStatus(t, app, qid))

	data, ok := remote.get("inventory", "5")
	require.True(t, ok)
	assert.JSONEq(t, `{"id":5,"stock":3}`, string(data))
	assert.EqualValues(t, 3, localDoc(t, app, "inventory", "5")["stock"])

	entries, err := app.Service().History(context.Background(), sync.LogQuery{Direction: sync.DirectionOutbound})
	require.NoError(t, err)

	var found bool
	for _, e := range entries {
		if e.Table == "inventory" && e.RecordID == "5" && e.Action == sync.ActionUpdate && e.Status == sync.StatusSynced {
			found = true
		}
	}
	assert.True(t, found, "outbound update for record 5 must be logged")
}

func TestEngine_RejectedRecordDoesNotBlockBatch(t *testing.T) {
	remote, srv := newFakeRemote(t)
	remote.reject("p-1", true)

	app := newTestApp(t, srv.URL, func(c *sync.Config) { c.BatchSize = 4 })

	ids := make([]string, 0, 4)
	for i := 1; i <= 4; i++ {
		ids = append(ids, write(t, app, "products", sync.ActionCreate, fmt.Sprintf(`{"id":"p-%d","name":"part %d"}`, i, i)))
	}

	res := runCycle(t, app)
	assert.False(t, res.Offline)
	assert.Equal(t, 3, res.Uploaded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 3, remote.count("parts"))

	assert.Equal(t, sync.StatusFailed, queueStatus(t, app, ids[0]))
	for _, id := range ids[1:] {
		assert.Equal(t, sync.StatusSynced, queueStatus(t, app, id))
	}
}

func TestEngine_UnmappedPageDoesNotStallDownload(t *testing.T) {
	remote, srv := newFakeRemote(t)
	base := time.Now().Add(-time.Minute).UTC()
	for i := 1; i <= 3; i++ {
		remote.seed("widgets", fmt.Sprintf("w-%d", i), fmt.Sprintf(`{"id":"w-%d"}`, i), base.Add(time.Duration(i)*time.Second))
	}
	remote.seed("parts", "p-9", `{"id":"p-9","name":"gasket"}`, base.Add(10*time.Second))

	app := newTestApp(t, srv.URL, func(c *sync.Config) { c.BatchSize = 3 })

	res := runCycle(t, app)
	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, 1, res.Downloaded)
	assert.Equal(t, "gasket", localDoc(t, app, "products", "p-9")["name"])

	res = runCycle(t, app)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, 0, res.Downloaded)

	entries, err := app.Service().History(context.Background(), sync.LogQuery{Direction: sync.DirectionInbound})
	require.NoError(t, err)

	skipped := 0
	for _, e := range entries {
		if e.Status == sync.StatusSkipped {
			skipped++
			assert.Equal(t, "widgets", e.Table)
		}
	}
	assert.Equal(t, 3, skipped)
}

func TestEngine_ConcurrentMergeAppliedOnce(t *testing.T) {
	remote, srv := newFakeRemote(t)
	remote.seed("parts", "p-1", `{"id":"p-1","name":"remote name"}`, time.Now().Add(-time.Minute).UTC())
	remote.reject("p-1", true)

	app := newTestApp(t, srv.URL, func(c *sync.Config) { c.ConflictPolicy = sync.PolicyManual })
	write(t, app, "products", sync.ActionUpdate, `{"id":"p-1","name":"local name"}`)

	res := runCycle(t, app)
	require.Equal(t, 1, res.Conflicts)

	conflicts, err := app.Service().Conflicts(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	id := conflicts[0].ID

	var wg gosync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = app.Service().ResolveConflict(context.Background(), id, sync.ResolveRequest{
				Resolution: sync.ResolutionMerge,
				MergedData: json.RawMessage(fmt.Sprintf(`{"id":"p-1","name":"m%d"}`, i+1)),
			})
		}(i)
	}
	wg.Wait()

	succeeded, rejected := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, sync.ErrConflictResolved):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)

	all, err := app.Service().Conflicts(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, all, 1)

	var recorded map[string]interface{}
	require.NoError(t, json.Unmarshal(all[0].MergedData, &recorded))
	assert.Equal(t, recorded["name"], localDoc(t, app, "products", "p-1")["name"])

	pending, err := app.Service().Queue(context.Background(), sync.RecordQuery{Status: sync.StatusPending, Table: "products"})
	require.NoError(t, err)

	updates := 0
	for _, r := range pending {
		if r.RecordID == "p-1" && r.Action == sync.ActionUpdate {
			updates++
			assert.JSONEq(t, string(all[0].MergedData), string(r.LocalData))
		}
	}
	assert.Equal(t, 1, updates)
}
