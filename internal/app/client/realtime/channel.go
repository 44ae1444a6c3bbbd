package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/exp/slog"

	"shopsync/internal/utils/backoff"
)

var ErrHeartbeatTimeout = errors.New("heartbeat timeout: no pong received")

// State состояние соединения
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Config параметры канала
type Config struct {
	URL               string
	ShopID            string
	Token             string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
	Backoff           backoff.Policy
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
		DialTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Second,
		Backoff:           backoff.DefaultPolicy,
	}
}

// HandlerFunc обработчик события. Вызывается из цикла чтения, поэтому должен быть быстрым.
type HandlerFunc func(ctx context.Context, ev Event)

// Dialer открывает websocket-соединение
type Dialer func(ctx context.Context, u string) (*websocket.Conn, error)

// Channel постоянное соединение с сервером магазина: события, heartbeat, переподключение
type Channel struct {
	cfg     Config
	log     *slog.Logger
	dial    Dialer
	onRetry func(attempt int, delay time.Duration)

	// sendMu держит порядок исходящих сообщений: очередь и прямые записи не перемешиваются
	sendMu gosync.Mutex

	mu        gosync.Mutex
	state     State
	conn      *websocket.Conn
	handlers  map[EventKind][]HandlerFunc
	stateSubs []func(State)
	outbox    []Envelope
	attempts  int
	exhausted bool
	forced    bool
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc

	wake   chan struct{}
	pongCh chan struct{}
	wg     gosync.WaitGroup
}

type Option func(*Channel)

func WithDialer(d Dialer) Option {
	return func(c *Channel) { c.dial = d }
}

// WithRetryHook вызывается перед каждой паузой переподключения
func WithRetryHook(fn func(attempt int, delay time.Duration)) Option {
	return func(c *Channel) { c.onRetry = fn }
}

func New(cfg Config, log *slog.Logger, opts ...Option) *Channel {
	def := DefaultConfig()
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	c := &Channel{
		cfg:      cfg,
		log:      log.With(slog.String("component", "realtime")),
		dial:     defaultDial,
		handlers: make(map[EventKind][]HandlerFunc),
		wake:     make(chan struct{}, 1),
		pongCh:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultDial(ctx context.Context, u string) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, u, nil)
	return conn, err
}

// WebSocketURL переводит http(s) адрес API в ws(s)
func WebSocketURL(httpBase string) string {
	switch {
	case strings.HasPrefix(httpBase, "https://"):
		return "wss://" + strings.TrimPrefix(httpBase, "https://")
	case strings.HasPrefix(httpBase, "http://"):
		return "ws://" + strings.TrimPrefix(httpBase, "http://")
	}
	return httpBase
}

// On регистрирует обработчик для типа события
func (c *Channel) On(kind EventKind, h HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[kind] = append(c.handlers[kind], h)
}

// OnStateChange регистрирует обработчик смены состояния
func (c *Channel) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateSubs = append(c.stateSubs, fn)
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) Connected() bool {
	return c.State() == StateConnected
}

// Attempts число подряд неудачных подключений
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Exhausted переподключение остановлено по лимиту попыток
func (c *Channel) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted
}

// QueueLen число сообщений, ожидающих отправки
func (c *Channel) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outbox)
}

// Start запускает цикл подключения
func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.launch()
}

// launch вызывается под c.mu
func (c *Channel) launch() {
	c.running = true
	c.exhausted = false
	c.wg.Add(1)
	go c.run(c.ctx)
}

// Stop закрывает соединение и ждет завершения цикла
func (c *Channel) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.setState(StateDisconnected)
}

// SetCredentials меняет адрес и учетные данные и переподключается, если они изменились
func (c *Channel) SetCredentials(wsURL, shopID, token string) {
	c.mu.Lock()
	changed := c.cfg.URL != wsURL || c.cfg.ShopID != shopID || c.cfg.Token != token
	c.cfg.URL = wsURL
	c.cfg.ShopID = shopID
	c.cfg.Token = token
	c.mu.Unlock()

	if changed {
		c.ForceReconnect()
	}
}

// ForceReconnect сбрасывает счетчик попыток и переподключается немедленно.
// Возобновляет цикл, остановленный по лимиту попыток.
func (c *Channel) ForceReconnect() {
	c.mu.Lock()
	c.attempts = 0
	c.forced = true
	conn := c.conn

	if !c.running && c.ctx != nil && c.ctx.Err() == nil {
		c.log.Info("realtime reconnect forced, restarting")
		c.launch()
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if conn != nil {
		conn.CloseNow()
		return
	}

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Publish отправляет сообщение; без соединения ставит его в очередь (FIFO)
func (c *Channel) Publish(ctx context.Context, typ string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", typ, err)
	}
	env := Envelope{Type: typ, Data: raw, Timestamp: time.Now()}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	if c.state != StateConnected || c.conn == nil {
		c.outbox = append(c.outbox, env)
		n := len(c.outbox)
		c.mu.Unlock()
		c.log.Debug("realtime message queued", "type", typ, "queued", n)
		return nil
	}
	conn := c.conn
	c.mu.Unlock()

	if err := c.write(ctx, conn, env); err != nil {
		// записи идут по одному, поэтому хвост очереди и есть место этого сообщения
		c.mu.Lock()
		c.outbox = append(c.outbox, env)
		c.mu.Unlock()
		c.log.Warn("realtime write failed, message queued", "type", typ, "error", err)
		conn.CloseNow()
	}
	return nil
}

func (c *Channel) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		if ctx.Err() != nil {
			c.exit(false)
			return
		}

		established, err := c.session(ctx)
		if ctx.Err() != nil {
			c.exit(false)
			return
		}

		c.mu.Lock()
		if established {
			c.attempts = 0
		}
		forced := c.forced
		c.forced = false
		if !forced {
			c.attempts++
		}
		attempt := c.attempts
		c.mu.Unlock()

		if forced {
			continue
		}

		c.log.Warn("realtime connection lost", "attempt", attempt, "error", err)

		if c.cfg.Backoff.Exhausted(attempt) {
			c.log.Error("realtime reconnect attempts exhausted, waiting for manual reconnect", "attempts", attempt-1)
			c.exit(true)
			return
		}

		delay := c.cfg.Backoff.Delay(attempt)
		c.setState(StateReconnecting)
		if c.onRetry != nil {
			c.onRetry(attempt, delay)
		}

		if !c.sleep(ctx, delay) {
			c.exit(false)
			return
		}
	}
}

func (c *Channel) exit(exhausted bool) {
	c.mu.Lock()
	c.running = false
	c.exhausted = exhausted
	c.mu.Unlock()
	c.setState(StateDisconnected)
}

func (c *Channel) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-c.wake:
		return true
	}
}

func (c *Channel) endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return strings.TrimRight(c.cfg.URL, "/") + "/shop/" + url.PathEscape(c.cfg.ShopID) +
		"?token=" + url.QueryEscape(c.cfg.Token)
}

func (c *Channel) authFrame() Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, _ := json.Marshal(map[string]string{"shopId": c.cfg.ShopID, "token": c.cfg.Token})
	return Envelope{Type: typeAuth, Data: data}
}

// session держит одно соединение. established - сервер успел прислать хотя бы один кадр.
func (c *Channel) session(ctx context.Context) (bool, error) {
	c.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, err := c.dial(dialCtx, c.endpoint())
	cancel()
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	sessCtx, sessCancel := context.WithCancel(ctx)
	defer sessCancel()

	if err := c.write(sessCtx, conn, c.authFrame()); err != nil {
		conn.CloseNow()
		return false, fmt.Errorf("auth: %w", err)
	}

	select {
	case <-c.pongCh:
	default:
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	var received atomic.Bool
	errc := make(chan error, 2)
	go func() { errc <- c.readLoop(sessCtx, conn, &received) }()

	if err := c.flush(sessCtx, conn); err != nil {
		sessCancel()
		conn.CloseNow()
		<-errc
		return received.Load(), fmt.Errorf("flush: %w", err)
	}
	c.log.Info("realtime connected")

	go func() { errc <- c.heartbeat(sessCtx, conn) }()

	err = <-errc
	sessCancel()
	conn.CloseNow()
	<-errc

	if err == nil {
		err = errors.New("connection closed")
	}
	return received.Load(), err
}

// flush отправляет очередь; состояние Connected выставляется под той же блокировкой,
// под которой очередь оказалась пустой
func (c *Channel) flush(ctx context.Context, conn *websocket.Conn) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	for {
		c.mu.Lock()
		if len(c.outbox) == 0 {
			subs := c.swapState(StateConnected)
			c.mu.Unlock()
			c.notifyState(StateConnected, subs)
			return nil
		}
		env := c.outbox[0]
		c.mu.Unlock()

		if err := c.write(ctx, conn, env); err != nil {
			return err
		}

		c.mu.Lock()
		c.outbox = c.outbox[1:]
		c.mu.Unlock()
	}
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn, received *atomic.Bool) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		received.Store(true)

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("malformed realtime frame dropped", "error", err)
			continue
		}

		ev, err := Decode(env)
		if errors.Is(err, ErrUnknownEvent) {
			c.log.Warn("unknown realtime event dropped", "type", env.Type)
			continue
		}
		if err != nil {
			c.log.Warn("invalid realtime event dropped", "type", env.Type, "error", err)
			continue
		}

		if ev.Kind() == KindPong {
			select {
			case c.pongCh <- struct{}{}:
			default:
			}
		}
		c.dispatch(ctx, ev)
	}
}

func (c *Channel) heartbeat(ctx context.Context, conn *websocket.Conn) error {
	if c.cfg.HeartbeatInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		select {
		case <-c.pongCh:
		default:
		}

		if err := c.write(ctx, conn, Envelope{Type: typePing}); err != nil {
			return fmt.Errorf("ping: %w", err)
		}

		timer := time.NewTimer(c.cfg.HeartbeatTimeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-c.pongCh:
			timer.Stop()
		case <-timer.C:
			return ErrHeartbeatTimeout
		}
	}
}

func (c *Channel) dispatch(ctx context.Context, ev Event) {
	c.mu.Lock()
	handlers := append([]HandlerFunc(nil), c.handlers[ev.Kind()]...)
	c.mu.Unlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
}

func (c *Channel) write(ctx context.Context, conn *websocket.Conn, env Envelope) error {
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now()
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	subs := c.swapState(s)
	c.mu.Unlock()

	c.notifyState(s, subs)
}

// swapState меняет состояние под c.mu. Возвращает подписчиков, если состояние изменилось.
func (c *Channel) swapState(s State) []func(State) {
	if c.state == s {
		return nil
	}
	c.log.Debug("realtime state changed", "from", c.state.String(), "to", s.String())
	c.state = s
	return append([]func(State){}, c.stateSubs...)
}

func (c *Channel) notifyState(s State, subs []func(State)) {
	for _, fn := range subs {
		fn(s)
	}
}
