package changes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"shopsync/internal/app/api/middleware/auth"
	"shopsync/internal/domain/resource"
)

type MockFeed struct {
	mock.Mock
}

func (m *MockFeed) Changes(ctx context.Context, since time.Time, limit int) (*resource.ChangesPage, error) {
	args := m.Called(ctx, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*resource.ChangesPage), args.Error(1)
}

func openGuard(auth.Permission) huma.Middlewares { return nil }

func newTestAPI(t *testing.T, feed *MockFeed) humatest.TestAPI {
	t.Helper()
	_, api := humatest.New(t)
	NewHandler(feed, slog.New(slog.NewTextHandler(io.Discard, nil)), openGuard).SetupRoutes(api)
	return api
}

func TestHandler_Changes(t *testing.T) {
	since := time.Date(2026, 3, 1, 10, 0, 0, 123000000, time.UTC)
	changedAt := since.Add(time.Minute)
	serverTime := since.Add(time.Hour)

	feed := &MockFeed{}
	feed.On("Changes", mock.Anything, mock.MatchedBy(since.Equal), 50).Return(&resource.ChangesPage{
		Changes: []resource.Change{{
			Seq:       7,
			Kind:      resource.KindParts,
			ID:        "p-1",
			Action:    resource.ActionUpdate,
			Data:      json.RawMessage(`{"id":"p-1","price":5}`),
			ChangedAt: changedAt,
		}},
		HasMore:    true,
		ServerTime: serverTime,
	}, nil)

	resp := newTestAPI(t, feed).Get("/sync/changes?since=2026-03-01T10:00:00.123Z&limit=50")
	require.Equal(t, http.StatusOK, resp.Code)

	var out struct {
		Changes []struct {
			Resource  string          `json:"resource"`
			RecordID  string          `json:"record_id"`
			Action    string          `json:"action"`
			Data      json.RawMessage `json:"data"`
			Timestamp time.Time       `json:"timestamp"`
		} `json:"changes"`
		HasMore    bool      `json:"has_more"`
		ServerTime time.Time `json:"server_time"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	require.Len(t, out.Changes, 1)
	assert.Equal(t, "parts", out.Changes[0].Resource)
	assert.Equal(t, "p-1", out.Changes[0].RecordID)
	assert.Equal(t, "update", out.Changes[0].Action)
	assert.JSONEq(t, `{"id":"p-1","price":5}`, string(out.Changes[0].Data))
	assert.True(t, changedAt.Equal(out.Changes[0].Timestamp))
	assert.True(t, out.HasMore)
	assert.True(t, serverTime.Equal(out.ServerTime))
	assert.NotContains(t, resp.Body.String(), `"seq"`)
	feed.AssertExpectations(t)
}

func TestHandler_ChangesFromStart(t *testing.T) {
	feed := &MockFeed{}
	feed.On("Changes", mock.Anything, time.Time{}, 0).Return(&resource.ChangesPage{Changes: []resource.Change{}}, nil)

	resp := newTestAPI(t, feed).Get("/sync/changes")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"changes":[]`)
	feed.AssertExpectations(t)
}

func TestHandler_ChangesErrors(t *testing.T) {
	feed := &MockFeed{}
	feed.On("Changes", mock.Anything, mock.Anything, 1).Return(nil, errors.New("db down"))
	api := newTestAPI(t, feed)

	assert.Equal(t, http.StatusBadRequest, api.Get("/sync/changes?since=yesterday").Code)
	assert.Equal(t, http.StatusInternalServerError, api.Get("/sync/changes?limit=1").Code)
}
