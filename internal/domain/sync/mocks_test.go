package sync

import (
	"context"
	"encoding/json"
	"io"
	gosync "sync"
	"time"

	"github.com/stretchr/testify/mock"
	"golang.org/x/exp/slog"
)

// MockRepository is a mock implementation of the Repository interface for testing
type MockRepository struct {
	mock.Mock

	mu      gosync.Mutex
	updates []StatusUpdate
}

func (m *MockRepository) Enqueue(ctx context.Context, rec *SyncRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockRepository) ListPending(ctx context.Context, q PendingQuery) ([]*SyncRecord, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*SyncRecord), args.Error(1)
}

func (m *MockRepository) ListRecords(ctx context.Context, q RecordQuery) ([]*SyncRecord, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*SyncRecord), args.Error(1)
}

func (m *MockRepository) GetRecord(ctx context.Context, id string) (*SyncRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SyncRecord), args.Error(1)
}

func (m *MockRepository) MarkStatus(ctx context.Context, upd StatusUpdate) error {
	m.mu.Lock()
	m.updates = append(m.updates, upd)
	m.mu.Unlock()
	args := m.Called(ctx, upd)
	return args.Error(0)
}

func (m *MockRepository) FindMutations(ctx context.Context, table, recordID string, statuses ...Status) ([]*SyncRecord, error) {
	args := m.Called(ctx, table, recordID, statuses)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*SyncRecord), args.Error(1)
}

func (m *MockRepository) CountByStatus(ctx context.Context) (map[Status]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[Status]int), args.Error(1)
}

func (m *MockRepository) PurgeSynced(ctx context.Context, olderThan time.Time) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) AppendLog(ctx context.Context, entry *SyncLogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockRepository) ListLog(ctx context.Context, q LogQuery) ([]*SyncLogEntry, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*SyncLogEntry), args.Error(1)
}

func (m *MockRepository) LastInboundSync(ctx context.Context) (time.Time, error) {
	args := m.Called(ctx)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *MockRepository) SaveConflict(ctx context.Context, c *SyncConflict) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockRepository) ListConflicts(ctx context.Context, unresolvedOnly bool) ([]*SyncConflict, error) {
	args := m.Called(ctx, unresolvedOnly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*SyncConflict), args.Error(1)
}

func (m *MockRepository) GetConflict(ctx context.Context, id int64) (*SyncConflict, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SyncConflict), args.Error(1)
}

func (m *MockRepository) ResolveConflict(ctx context.Context, id int64, resolution Resolution, merged json.RawMessage, resolvedBy string) error {
	args := m.Called(ctx, id, resolution, merged, resolvedBy)
	return args.Error(0)
}

func (m *MockRepository) LoadConfig(ctx context.Context) (Config, error) {
	args := m.Called(ctx)
	return args.Get(0).(Config), args.Error(1)
}

func (m *MockRepository) SaveConfig(ctx context.Context, cfg Config) error {
	args := m.Called(ctx, cfg)
	return args.Error(0)
}

func (m *MockRepository) statusUpdates() []StatusUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StatusUpdate{}, m.updates...)
}

// MockLocalStore is a mock implementation of the LocalStore interface for testing
type MockLocalStore struct {
	mock.Mock
}

func (m *MockLocalStore) ApplyChange(ctx context.Context, table, recordID string, action Action, data json.RawMessage) error {
	args := m.Called(ctx, table, recordID, action, data)
	return args.Error(0)
}

func (m *MockLocalStore) GetRecord(ctx context.Context, table, recordID string) (json.RawMessage, error) {
	args := m.Called(ctx, table, recordID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

// MockRemoteClient is a mock implementation of the RemoteClient interface for testing
type MockRemoteClient struct {
	mock.Mock
}

func (m *MockRemoteClient) Health(ctx context.Context, cfg Config) error {
	args := m.Called(ctx, cfg)
	return args.Error(0)
}

func (m *MockRemoteClient) Upload(ctx context.Context, cfg Config, rec *SyncRecord) (*RemoteResult, error) {
	args := m.Called(ctx, cfg, rec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RemoteResult), args.Error(1)
}

func (m *MockRemoteClient) Download(ctx context.Context, cfg Config, since time.Time, limit int) (*ChangesPage, error) {
	args := m.Called(ctx, cfg, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ChangesPage), args.Error(1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RemoteBaseURL = "http://remote.test"
	cfg.APIKey = "secret"
	cfg.RetryDelayMS = 0
	return cfg
}

type fixture struct {
	repo   *MockRepository
	local  *MockLocalStore
	remote *MockRemoteClient
	holder *Holder
	svc    *Service
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		repo:   &MockRepository{},
		local:  &MockLocalStore{},
		remote: &MockRemoteClient{},
		holder: NewHolder(cfg),
	}
	f.svc = NewService(f.repo, f.local, f.remote, f.holder, discardLogger())
	return f
}

// expectQuietDownload настраивает пустые фазы загрузки и конфликтов
func (f *fixture) expectQuietDownload() {
	f.repo.On("LastInboundSync", mock.Anything).Return(time.Time{}, nil)
	f.remote.On("Download", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(&ChangesPage{}, nil)
	f.repo.On("ListConflicts", mock.Anything, true).Return([]*SyncConflict{}, nil)
}
