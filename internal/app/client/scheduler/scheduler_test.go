package scheduler

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"shopsync/internal/domain/sync"
)

type countingSyncer struct {
	calls int32
	err   error
}

func (c *countingSyncer) Sync(context.Context) (*sync.CycleResult, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.err != nil {
		return nil, c.err
	}
	return &sync.CycleResult{Success: true}, nil
}

func (c *countingSyncer) count() int {
	return int(atomic.LoadInt32(&c.calls))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func secondsInterval(cfg sync.Config) time.Duration {
	return time.Duration(cfg.SyncIntervalMinutes) * time.Second
}

func TestScheduler_RunsOnSchedule(t *testing.T) {
	syncer := &countingSyncer{}
	s := New(syncer, testLogger(), WithInterval(secondsInterval))

	cfg := sync.DefaultConfig()
	cfg.SyncIntervalMinutes = 1
	require.NoError(t, s.Start(context.Background(), cfg))
	defer s.Stop()

	assert.True(t, s.Scheduled())
	assert.False(t, s.Next().IsZero())
	require.Eventually(t, func() bool { return syncer.count() >= 1 }, 5*time.Second, 50*time.Millisecond)
}

func TestScheduler_DisabledHasNoJob(t *testing.T) {
	syncer := &countingSyncer{}
	s := New(syncer, testLogger())

	cfg := sync.DefaultConfig()
	cfg.AutoSyncEnabled = false
	require.NoError(t, s.Start(context.Background(), cfg))
	defer s.Stop()

	assert.False(t, s.Scheduled())
	assert.True(t, s.Next().IsZero())
}

func TestScheduler_ReconfigureOnConfigChange(t *testing.T) {
	s := New(&countingSyncer{}, testLogger())
	holder := sync.NewHolder(sync.DefaultConfig())
	holder.Subscribe(s.OnConfigChange)

	require.NoError(t, s.Start(context.Background(), holder.Snapshot()))
	defer s.Stop()

	interval, enabled := s.Interval()
	assert.Equal(t, 5*time.Minute, interval)
	assert.True(t, enabled)

	cfg := holder.Snapshot()
	cfg.SyncIntervalMinutes = 15
	holder.Store(cfg)

	interval, _ = s.Interval()
	assert.Equal(t, 15*time.Minute, interval)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), s.Next(), 5*time.Second)

	cfg.AutoSyncEnabled = false
	holder.Store(cfg)
	assert.False(t, s.Scheduled())

	cfg.AutoSyncEnabled = true
	holder.Store(cfg)
	assert.True(t, s.Scheduled())
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	s := New(&countingSyncer{}, testLogger())
	require.NoError(t, s.Start(context.Background(), sync.DefaultConfig()))

	s.Stop()
	s.Stop()
	assert.False(t, s.Scheduled())
	assert.NoError(t, s.Reconfigure(sync.DefaultConfig()))
}

func TestScheduler_TriggerAndSyncNow(t *testing.T) {
	syncer := &countingSyncer{err: sync.ErrSyncInProgress}
	s := New(syncer, testLogger())

	s.Trigger("realtime")
	s.Wait()
	assert.Equal(t, 1, syncer.count())

	_, err := s.SyncNow(context.Background())
	assert.ErrorIs(t, err, sync.ErrSyncInProgress)
	assert.Equal(t, 2, syncer.count())
}
