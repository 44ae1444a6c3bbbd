package connection

import (
	"context"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"shopsync/internal/app/api/middleware/auth"
	"shopsync/internal/app/client/monitor"
	"shopsync/internal/app/client/realtime"
)

type MockMonitor struct {
	mock.Mock
}

func (m *MockMonitor) Status() monitor.Status {
	return m.Called().Get(0).(monitor.Status)
}

func (m *MockMonitor) CheckNow(ctx context.Context) monitor.Status {
	return m.Called(ctx).Get(0).(monitor.Status)
}

func (m *MockMonitor) Resume() {
	m.Called()
}

type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) State() realtime.State { return m.Called().Get(0).(realtime.State) }
func (m *MockChannel) Attempts() int         { return m.Called().Int(0) }
func (m *MockChannel) QueueLen() int         { return m.Called().Int(0) }
func (m *MockChannel) Exhausted() bool       { return m.Called().Bool(0) }
func (m *MockChannel) ForceReconnect()       { m.Called() }

func openGuard(auth.Permission) huma.Middlewares { return nil }

func newChannelMock() *MockChannel {
	ch := &MockChannel{}
	ch.On("State").Return(realtime.StateReconnecting)
	ch.On("Attempts").Return(3)
	ch.On("QueueLen").Return(2)
	ch.On("Exhausted").Return(false)
	return ch
}

func TestHandler_status(t *testing.T) {
	tests := []struct {
		name    string
		refresh bool
	}{
		{name: "cached", refresh: false},
		{name: "refresh", refresh: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mon := &MockMonitor{}
			st := monitor.Status{Overall: false, API: true, Failures: 1}
			if tt.refresh {
				mon.On("CheckNow", mock.Anything).Return(st)
			} else {
				mon.On("Status").Return(st)
			}

			h := NewHandler(mon, newChannelMock(), slog.Default(), openGuard)
			out, err := h.status(context.Background(), &statusInput{Refresh: tt.refresh})

			require.NoError(t, err)
			assert.True(t, out.Body.Monitor.API)
			assert.Equal(t, "reconnecting", out.Body.Realtime.State)
			assert.Equal(t, 3, out.Body.Realtime.Attempts)
			assert.Equal(t, 2, out.Body.Realtime.Queued)
			mon.AssertExpectations(t)
		})
	}
}

func TestHandler_actions(t *testing.T) {
	mon := &MockMonitor{}
	mon.On("Resume").Return()
	ch := &MockChannel{}
	ch.On("ForceReconnect").Return()

	h := NewHandler(mon, ch, slog.Default(), openGuard)

	out, err := h.resume(context.Background(), &struct{}{})
	require.NoError(t, err)
	assert.Equal(t, "resumed", out.Body.Status)

	out, err = h.reconnect(context.Background(), &struct{}{})
	require.NoError(t, err)
	assert.Equal(t, "reconnecting", out.Body.Status)

	mon.AssertExpectations(t)
	ch.AssertExpectations(t)
}
