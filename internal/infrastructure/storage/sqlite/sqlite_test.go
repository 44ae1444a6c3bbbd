package sqlite

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"shopsync/internal/domain/sync"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	st, err := New(filepath.Join(t.TempDir(), "shop.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func pendingRecord(id, recordID string, at time.Time) *sync.SyncRecord {
	return &sync.SyncRecord{
		ID:        id,
		Table:     "products",
		RecordID:  recordID,
		Action:    sync.ActionUpdate,
		LocalData: json.RawMessage(`{"id":"` + recordID + `"}`),
		Status:    sync.StatusPending,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestLedger_EnqueueAndListPendingInOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository(newTestStorage(t))
	now := time.Now()

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, repo.Enqueue(ctx, pendingRecord(id, "p-"+id, now)))
	}

	recs, err := repo.ListPending(ctx, sync.PendingQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "c", recs[0].ID)
	assert.Equal(t, "a", recs[1].ID)
	assert.Less(t, recs[0].Seq, recs[1].Seq)
	assert.JSONEq(t, `{"id":"p-c"}`, string(recs[0].LocalData))
}

func TestLedger_EnqueueDuplicateIDFails(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository(newTestStorage(t))

	require.NoError(t, repo.Enqueue(ctx, pendingRecord("a", "p-1", time.Now())))
	assert.Error(t, repo.Enqueue(ctx, pendingRecord("a", "p-1", time.Now())))
}

func TestLedger_MarkStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository(newTestStorage(t))
	require.NoError(t, repo.Enqueue(ctx, pendingRecord("a", "p-1", time.Now())))

	require.NoError(t, repo.MarkStatus(ctx, sync.StatusUpdate{ID: "a", To: sync.StatusSyncing}))
	require.NoError(t, repo.MarkStatus(ctx, sync.StatusUpdate{ID: "a", To: sync.StatusFailed, Error: "boom", IncrementRetry: true}))

	rec, err := repo.GetRecord(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, sync.StatusFailed, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)
	assert.Equal(t, "boom", rec.Error)

	err = repo.MarkStatus(ctx, sync.StatusUpdate{ID: "a", To: sync.StatusSynced})
	assert.ErrorIs(t, err, sync.ErrInvalidTransition)

	require.NoError(t, repo.MarkStatus(ctx, sync.StatusUpdate{ID: "a", To: sync.StatusSyncing}))
	require.NoError(t, repo.MarkStatus(ctx, sync.StatusUpdate{ID: "a", To: sync.StatusSynced, RemoteData: json.RawMessage(`{"ok":true}`)}))

	rec, err = repo.GetRecord(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, sync.StatusSynced, rec.Status)
	assert.Empty(t, rec.Error)
	assert.JSONEq(t, `{"ok":true}`, string(rec.RemoteData))

	err = repo.MarkStatus(ctx, sync.StatusUpdate{ID: "missing", To: sync.StatusSyncing})
	assert.ErrorIs(t, err, sync.ErrRecordNotFound)
}

func TestLedger_ListPendingFailedEligibility(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository(newTestStorage(t))

	base := time.Now()
	repo.now = func() time.Time { return base }

	require.NoError(t, repo.Enqueue(ctx, pendingRecord("retry", "p-1", base)))
	require.NoError(t, repo.Enqueue(ctx, pendingRecord("exhausted", "p-2", base)))

	require.NoError(t, repo.MarkStatus(ctx, sync.StatusUpdate{ID: "retry", To: sync.StatusSyncing}))
	require.NoError(t, repo.MarkStatus(ctx, sync.StatusUpdate{ID: "retry", To: sync.StatusFailed, IncrementRetry: true}))
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.MarkStatus(ctx, sync.StatusUpdate{ID: "exhausted", To: sync.StatusSyncing}))
		require.NoError(t, repo.MarkStatus(ctx, sync.StatusUpdate{ID: "exhausted", To: sync.StatusFailed, IncrementRetry: true}))
	}

	// задержка повтора еще не прошла
	recs, err := repo.ListPending(ctx, sync.PendingQuery{Limit: 10, IncludeFailed: true, MaxRetries: 3, FailedBefore: base.Add(-time.Second)})
	require.NoError(t, err)
	assert.Empty(t, recs)

	recs, err = repo.ListPending(ctx, sync.PendingQuery{Limit: 10, IncludeFailed: true, MaxRetries: 3, FailedBefore: base.Add(time.Second)})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "retry", recs[0].ID)

	recs, err = repo.ListPending(ctx, sync.PendingQuery{Limit: 10, MaxRetries: 3, FailedBefore: base.Add(time.Second)})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestLedger_FindMutationsAndCounts(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository(newTestStorage(t))

	require.NoError(t, repo.Enqueue(ctx, pendingRecord("a", "p-1", time.Now())))
	require.NoError(t, repo.Enqueue(ctx, pendingRecord("b", "p-1", time.Now())))
	require.NoError(t, repo.Enqueue(ctx, pendingRecord("c", "p-2", time.Now())))
	require.NoError(t, repo.MarkStatus(ctx, sync.StatusUpdate{ID: "a", To: sync.StatusConflict}))

	recs, err := repo.FindMutations(ctx, "products", "p-1")
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = repo.FindMutations(ctx, "products", "p-1", sync.StatusConflict)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].ID)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[sync.StatusPending])
	assert.Equal(t, 1, counts[sync.StatusConflict])
}

func TestLedger_PurgeSynced(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository(newTestStorage(t))

	require.NoError(t, repo.Enqueue(ctx, pendingRecord("a", "p-1", time.Now())))
	require.NoError(t, repo.Enqueue(ctx, pendingRecord("b", "p-2", time.Now())))
	require.NoError(t, repo.MarkStatus(ctx, sync.StatusUpdate{ID: "a", To: sync.StatusSyncing}))
	require.NoError(t, repo.MarkStatus(ctx, sync.StatusUpdate{ID: "a", To: sync.StatusSynced}))

	n, err := repo.PurgeSynced(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.GetRecord(ctx, "a")
	assert.ErrorIs(t, err, sync.ErrRecordNotFound)
	_, err = repo.GetRecord(ctx, "b")
	assert.NoError(t, err)
}

func TestLedger_LastInboundSync(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository(newTestStorage(t))

	last, err := repo.LastInboundSync(ctx)
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	t1 := time.Date(2026, 3, 1, 10, 0, 0, 5, time.UTC)
	t2 := t1.Add(time.Hour)
	t3 := t2.Add(time.Hour)

	entries := []*sync.SyncLogEntry{
		{Direction: sync.DirectionInbound, Table: "products", RecordID: "1", Action: sync.ActionUpdate, Status: sync.StatusSynced, CreatedAt: t1},
		{Direction: sync.DirectionInbound, Table: "products", RecordID: "2", Action: sync.ActionUpdate, Status: sync.StatusConflict, CreatedAt: t2},
		{Direction: sync.DirectionInbound, Table: "products", RecordID: "3", Action: sync.ActionUpdate, Status: sync.StatusFailed, CreatedAt: t3},
		{Direction: sync.DirectionOutbound, Table: "products", RecordID: "4", Action: sync.ActionUpdate, Status: sync.StatusSynced, CreatedAt: t3},
	}
	for _, e := range entries {
		require.NoError(t, repo.AppendLog(ctx, e))
	}

	last, err = repo.LastInboundSync(ctx)
	require.NoError(t, err)
	assert.True(t, t2.Equal(last), "got %s", last)

	// пропущенное изменение двигает курсор
	t4 := t3.Add(time.Hour)
	require.NoError(t, repo.AppendLog(ctx, &sync.SyncLogEntry{
		Direction: sync.DirectionInbound, Table: "widgets", RecordID: "w-1", Action: sync.ActionUpdate,
		Status: sync.StatusSkipped, Error: "unmapped resource", CreatedAt: t4,
	}))

	last, err = repo.LastInboundSync(ctx)
	require.NoError(t, err)
	assert.True(t, t4.Equal(last), "got %s", last)

	logged, err := repo.ListLog(ctx, sync.LogQuery{Direction: sync.DirectionInbound})
	require.NoError(t, err)
	assert.Len(t, logged, 4)
}

func TestLedger_Conflicts(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository(newTestStorage(t))

	first := &sync.SyncConflict{
		Table: "products", RecordID: "p-1", Action: sync.ActionUpdate,
		LocalData:  json.RawMessage(`{"price":100}`),
		RemoteData: json.RawMessage(`{"price":120}`),
		CreatedAt:  time.Now(),
	}
	require.NoError(t, repo.SaveConflict(ctx, first))

	again := &sync.SyncConflict{
		Table: "products", RecordID: "p-1", Action: sync.ActionUpdate,
		RemoteData: json.RawMessage(`{"price":130}`),
		CreatedAt:  time.Now(),
	}
	require.NoError(t, repo.SaveConflict(ctx, again))
	assert.Equal(t, first.ID, again.ID)

	open, err := repo.ListConflicts(ctx, true)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.JSONEq(t, `{"price":130}`, string(open[0].RemoteData))
	assert.JSONEq(t, `{"price":100}`, string(open[0].LocalData))
	assert.False(t, open[0].Resolved())

	require.NoError(t, repo.ResolveConflict(ctx, first.ID, sync.ResolutionLocal, nil, "policy:local"))
	err = repo.ResolveConflict(ctx, first.ID, sync.ResolutionRemote, nil, "operator")
	assert.ErrorIs(t, err, sync.ErrConflictResolved)

	resolved, err := repo.GetConflict(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, sync.ResolutionLocal, resolved.Resolution)
	assert.Equal(t, "policy:local", resolved.ResolvedBy)
	require.NotNil(t, resolved.ResolvedAt)

	// после разрешения по той же записи открывается новый конфликт
	next := &sync.SyncConflict{Table: "products", RecordID: "p-1", Action: sync.ActionDelete, CreatedAt: time.Now()}
	require.NoError(t, repo.SaveConflict(ctx, next))
	assert.NotEqual(t, first.ID, next.ID)

	all, err := repo.ListConflicts(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	err = repo.ResolveConflict(ctx, 999, sync.ResolutionLocal, nil, "operator")
	assert.ErrorIs(t, err, sync.ErrConflictNotFound)
}

func TestLedger_Config(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository(newTestStorage(t))

	_, err := repo.LoadConfig(ctx)
	assert.ErrorIs(t, err, sync.ErrConfigNotFound)

	cfg := sync.DefaultConfig()
	cfg.RemoteBaseURL = "https://api.shop.test"
	cfg.APIKey = "key"
	cfg.ConflictPolicy = sync.PolicyManual
	require.NoError(t, repo.SaveConfig(ctx, cfg))

	cfg.SyncIntervalMinutes = 30
	require.NoError(t, repo.SaveConfig(ctx, cfg))

	loaded, err := repo.LoadConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

// prefixBox обратимая подмена шифрования
type prefixBox struct{}

func (prefixBox) Seal(v string) (string, error) {
	if v == "" {
		return "", nil
	}
	return "sealed:" + v, nil
}

func (prefixBox) Open(v string) (string, error) {
	return strings.TrimPrefix(v, "sealed:"), nil
}

func TestLedger_ConfigSealsAPIKey(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)
	repo := NewLedgerRepository(st, WithSecrets(prefixBox{}))

	cfg := sync.DefaultConfig()
	cfg.APIKey = "abc123.secret"
	require.NoError(t, repo.SaveConfig(ctx, cfg))

	var stored string
	require.NoError(t, st.Get(ctx, `SELECT api_key FROM sync_config WHERE id = 1`).Scan(&stored))
	assert.Equal(t, "sealed:abc123.secret", stored)

	loaded, err := repo.LoadConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc123.secret", loaded.APIKey)
}

func TestDocumentStore(t *testing.T) {
	ctx := context.Background()
	docs := NewDocumentStore(newTestStorage(t))

	_, err := docs.GetRecord(ctx, "products", "p-1")
	assert.ErrorIs(t, err, sync.ErrRecordNotFound)

	require.NoError(t, docs.ApplyChange(ctx, "products", "p-1", sync.ActionCreate, json.RawMessage(`{"id":"p-1","price":10}`)))
	require.NoError(t, docs.ApplyChange(ctx, "products", "p-1", sync.ActionUpdate, json.RawMessage(`{"id":"p-1","price":12}`)))

	data, err := docs.GetRecord(ctx, "products", "p-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"p-1","price":12}`, string(data))

	list, err := docs.List(ctx, "products", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, docs.ApplyChange(ctx, "products", "p-1", sync.ActionDelete, nil))
	_, err = docs.GetRecord(ctx, "products", "p-1")
	assert.ErrorIs(t, err, sync.ErrRecordNotFound)

	err = docs.ApplyChange(ctx, "widgets; DROP TABLE products", "1", sync.ActionCreate, json.RawMessage(`{}`))
	var ce *sync.ConfigurationError
	assert.ErrorAs(t, err, &ce)
}
