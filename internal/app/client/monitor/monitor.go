package monitor

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"golang.org/x/exp/slog"

	"shopsync/internal/domain/sync"
	"shopsync/internal/utils/backoff"
)

const (
	DefaultInterval = 30 * time.Second
	checkTimeout    = 10 * time.Second
)

// Prober проверяет доступность удаленного API
type Prober interface {
	Health(ctx context.Context, cfg sync.Config) error
	Probe(ctx context.Context, cfg sync.Config, path string) (int, error)
}

// RealtimeState состояние realtime-канала. nil - канал отключен и не учитывается.
type RealtimeState interface {
	Connected() bool
}

// Endpoint проверяемый адрес API
type Endpoint struct {
	Path     string
	Required bool
}

var DefaultEndpoints = []Endpoint{
	{Path: "/v1/parts", Required: true},
	{Path: "/v1/transactions", Required: true},
	{Path: "/sync/changes?limit=1", Required: true},
	{Path: "/v1/customers"},
	{Path: "/v1/reports/summary"},
}

type EndpointStatus struct {
	Path       string        `json:"path"`
	Required   bool          `json:"required"`
	Reachable  bool          `json:"reachable"`
	StatusCode int           `json:"status_code,omitempty"`
	Error      string        `json:"error,omitempty"`
	Latency    time.Duration `json:"latency"`
}

// Status результат последней проверки
type Status struct {
	Overall   bool             `json:"overall"`
	API       bool             `json:"api"`
	Realtime  bool             `json:"realtime"`
	Endpoints []EndpointStatus `json:"endpoints"`
	CheckedAt time.Time        `json:"checked_at"`
	Failures  int              `json:"consecutive_failures"`
	Paused    bool             `json:"paused"`
}

// Monitor периодически проверяет соединение, независимо от планировщика синхронизации
type Monitor struct {
	prober    Prober
	realtime  RealtimeState
	config    *sync.Holder
	log       *slog.Logger
	endpoints []Endpoint
	interval  time.Duration
	policy    backoff.Policy

	mu      gosync.Mutex
	status  Status
	checked bool
	subs    []func(bool)
	running bool
	cancel  context.CancelFunc
	wake    chan struct{}
	wg      gosync.WaitGroup
}

type Option func(*Monitor)

func WithEndpoints(eps []Endpoint) Option {
	return func(m *Monitor) { m.endpoints = eps }
}

// WithInterval задает период проверок; политика отсрочки масштабируется от него
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		m.interval = d
		m.policy.Base = d
		m.policy.Max = 10 * d
	}
}

func WithBackoff(p backoff.Policy) Option {
	return func(m *Monitor) { m.policy = p }
}

func New(prober Prober, rt RealtimeState, holder *sync.Holder, log *slog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		prober:    prober,
		realtime:  rt,
		config:    holder,
		log:       log.With(slog.String("component", "monitor")),
		endpoints: DefaultEndpoints,
		interval:  DefaultInterval,
		policy: backoff.Policy{
			Base:        DefaultInterval,
			Max:         10 * DefaultInterval,
			MaxAttempts: backoff.DefaultPolicy.MaxAttempts,
		},
		wake: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe регистрирует обработчик смены общего состояния
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.status
	st.Endpoints = append([]EndpointStatus(nil), m.status.Endpoints...)
	return st
}

func (m *Monitor) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.Paused
}

// CheckNow выполняет проверку и обновляет состояние
func (m *Monitor) CheckNow(ctx context.Context) Status {
	cfg := m.config.Snapshot()

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	st := Status{CheckedAt: time.Now()}

	if err := m.prober.Health(ctx, cfg); err != nil {
		m.log.Debug("api health check failed", "error", err)
	} else {
		st.API = true
	}

	st.Realtime = m.realtime == nil || m.realtime.Connected()

	required := true
	for _, ep := range m.endpoints {
		es := m.probe(ctx, cfg, ep)
		if ep.Required && !es.Reachable {
			required = false
		}
		st.Endpoints = append(st.Endpoints, es)
	}

	st.Overall = st.API && st.Realtime && required

	m.mu.Lock()
	prev, first := m.status.Overall, !m.checked
	m.checked = true
	if st.Overall {
		st.Failures = 0
	} else {
		st.Failures = m.status.Failures + 1
	}
	st.Paused = m.status.Paused || m.policy.Exhausted(st.Failures)
	m.status = st
	subs := append([]func(bool){}, m.subs...)
	m.mu.Unlock()

	if first || prev != st.Overall {
		m.log.Info("connection state changed", "online", st.Overall, "api", st.API, "realtime", st.Realtime)
		for _, fn := range subs {
			fn(st.Overall)
		}
	}

	return st
}

func (m *Monitor) probe(ctx context.Context, cfg sync.Config, ep Endpoint) EndpointStatus {
	es := EndpointStatus{Path: ep.Path, Required: ep.Required}

	start := time.Now()
	code, err := m.prober.Probe(ctx, cfg, ep.Path)
	es.Latency = time.Since(start)

	if err != nil {
		es.Error = err.Error()
		return es
	}
	es.StatusCode = code
	es.Reachable = code < 500
	if !es.Reachable {
		es.Error = fmt.Sprintf("status %d", code)
	}
	return es
}

// Resume снимает паузу и сбрасывает счетчик неудач
func (m *Monitor) Resume() {
	m.mu.Lock()
	was := m.status.Paused
	m.status.Paused = false
	m.status.Failures = 0
	m.mu.Unlock()

	if was {
		m.log.Info("connection monitoring resumed")
	}

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// OnCycleComplete снимает паузу после цикла синхронизации без сетевых ошибок
func (m *Monitor) OnCycleComplete(res *sync.CycleResult) {
	if res == nil || res.NetworkFailed() {
		return
	}
	if m.Paused() {
		m.Resume()
	}
}

func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.running = true

	m.wg.Add(1)
	go m.loop(ctx)
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.running = false
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	for {
		st := m.CheckNow(ctx)
		if ctx.Err() != nil {
			return
		}

		if st.Paused {
			m.log.Warn("connection monitoring paused after repeated failures", "failures", st.Failures)
			select {
			case <-ctx.Done():
				return
			case <-m.wake:
				continue
			}
		}

		wait := m.interval
		if !st.Overall {
			wait = m.policy.Delay(st.Failures)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-m.wake:
			timer.Stop()
		}
	}
}
