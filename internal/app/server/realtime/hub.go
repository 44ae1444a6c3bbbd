package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	gosync "sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/slog"

	"shopsync/internal/app/api/middleware/auth"
	"shopsync/internal/domain/resource"
)

var ErrHubClosed = errors.New("realtime hub is closed")

// Config параметры хаба
type Config struct {
	// Buffer размер очереди исходящих кадров подписчика
	Buffer       int
	AuthTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Buffer:       64,
		AuthTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// Hub раздает события магазинам по websocket: /shop/{shopId}
type Hub struct {
	authz auth.Authorizer
	cfg   Config
	log   *slog.Logger
	now   func() time.Time

	mu     gosync.RWMutex
	shops  map[string]map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	shopID    string
	principal string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	once      gosync.Once
}

// kill закрывает соединение подписчика, не дожидаясь отправки очереди
func (s *subscriber) kill(code websocket.StatusCode, reason string) {
	s.once.Do(func() {
		close(s.done)
		go func() { _ = s.conn.Close(code, reason) }()
	})
}

func NewHub(authz auth.Authorizer, cfg Config, log *slog.Logger) *Hub {
	def := DefaultConfig()
	if cfg.Buffer < 1 {
		cfg.Buffer = def.Buffer
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = def.AuthTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	return &Hub{
		authz: authz,
		cfg:   cfg,
		log:   log.With(slog.String("component", "realtime_hub")),
		now:   func() time.Time { return time.Now().UTC() },
		shops: make(map[string]map[*subscriber]struct{}),
	}
}

// ServeHTTP принимает подключение кассы. Токен берется из ?token=, заголовка
// Authorization или из первого кадра auth.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	shopID := chi.URLParam(r, "shopId")
	if shopID == "" {
		http.Error(w, "shop id is required", http.StatusNotFound)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = auth.BearerToken(r.Header.Get("Authorization"))
	}

	var principal auth.Principal
	if token != "" {
		p, err := h.authorize(r.Context(), token, shopID)
		if err != nil {
			h.log.Warn("realtime subscriber rejected", "shop_id", shopID, "error", err)
			status := http.StatusUnauthorized
			if errors.Is(err, auth.ErrForbidden) {
				status = http.StatusForbidden
			}
			http.Error(w, http.StatusText(status), status)
			return
		}
		principal = p
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		h.log.Error("websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(1 << 20)

	ctx := r.Context()

	// первый кадр всегда auth; без токена в запросе он и несет учетные данные
	first, err := h.readAuthFrame(ctx, conn)
	if err != nil {
		h.log.Warn("realtime auth frame missing", "shop_id", shopID, "error", err)
		_ = conn.Close(websocket.StatusPolicyViolation, "auth frame expected")
		return
	}
	if first.ShopID != "" && first.ShopID != shopID {
		_ = conn.Close(websocket.StatusPolicyViolation, "shop id mismatch")
		return
	}
	if token == "" {
		p, err := h.authorize(ctx, first.Token, shopID)
		if err != nil {
			h.log.Warn("realtime subscriber rejected", "shop_id", shopID, "error", err)
			_ = conn.Close(websocket.StatusPolicyViolation, "unauthorized")
			return
		}
		principal = p
	}

	sub := &subscriber{
		shopID:    shopID,
		principal: principal.ID,
		conn:      conn,
		send:      make(chan []byte, h.cfg.Buffer),
		done:      make(chan struct{}),
	}
	if err := h.add(sub); err != nil {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.remove(sub)

	h.log.Info("realtime subscriber connected", "shop_id", shopID, "principal", principal.ID)

	h.enqueue(sub, h.encode(message(TypeSystemMessage, systemMessage{
		Level:   "info",
		Message: fmt.Sprintf("connected to shop %s", shopID),
	}, h.now())))

	writeErr := make(chan error, 1)
	go func() { writeErr <- h.writeLoop(ctx, sub) }()

	err = h.readLoop(ctx, sub)
	sub.kill(websocket.StatusNormalClosure, "")
	if werr := <-writeErr; err == nil {
		err = werr
	}

	h.log.Info("realtime subscriber disconnected", "shop_id", shopID, "principal", principal.ID, "reason", err)
}

func (h *Hub) authorize(ctx context.Context, token, shopID string) (auth.Principal, error) {
	if token == "" {
		return auth.Principal{}, auth.ErrInvalidToken
	}
	p, err := h.authz.HasPermission(ctx, token, auth.PermSyncRead)
	if err != nil {
		return auth.Principal{}, err
	}
	// ключ без магазина (администратор) допускается к любому магазину
	if p.ShopID != "" && p.ShopID != shopID {
		return auth.Principal{}, fmt.Errorf("key of shop %q used for shop %q: %w", p.ShopID, shopID, auth.ErrForbidden)
	}
	return p, nil
}

func (h *Hub) readAuthFrame(ctx context.Context, conn *websocket.Conn) (authData, error) {
	actx, cancel := context.WithTimeout(ctx, h.cfg.AuthTimeout)
	defer cancel()

	_, data, err := conn.Read(actx)
	if err != nil {
		return authData{}, err
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return authData{}, fmt.Errorf("malformed frame: %w", err)
	}
	if msg.Type != TypeAuth {
		return authData{}, fmt.Errorf("unexpected frame %q", msg.Type)
	}

	var a authData
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &a); err != nil {
			return authData{}, fmt.Errorf("malformed auth data: %w", err)
		}
	}
	return a, nil
}

func (h *Hub) readLoop(ctx context.Context, sub *subscriber) error {
	for {
		_, data, err := sub.conn.Read(ctx)
		if err != nil {
			return err
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.log.Debug("malformed frame dropped", "shop_id", sub.shopID, "error", err)
			continue
		}

		switch {
		case msg.Type == TypePing:
			h.enqueue(sub, h.encode(Message{Type: TypePong, Timestamp: h.now()}))
		case msg.Type == TypeAuth:
			// повторная аутентификация на живом соединении не нужна
		case relayable[msg.Type]:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = h.now()
			}
			h.broadcast(sub.shopID, h.encode(msg), sub)
		default:
			h.log.Debug("unsupported frame dropped", "shop_id", sub.shopID, "type", msg.Type)
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, sub *subscriber) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.done:
			return nil
		case data := <-sub.send:
			wctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
			err := sub.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				sub.kill(websocket.StatusInternalError, "write failed")
				return err
			}
		}
	}
}

// Publish рассылает события по изменению ресурса. Пустой shopID означает все магазины.
func (h *Hub) Publish(shopID string, ch resource.Change) {
	for _, msg := range EventsFor(ch) {
		h.Broadcast(shopID, msg)
	}
}

// Broadcast отправляет кадр подписчикам магазина (или всем при пустом shopID)
func (h *Hub) Broadcast(shopID string, msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now()
	}
	h.broadcast(shopID, h.encode(msg), nil)
}

func (h *Hub) broadcast(shopID string, data []byte, except *subscriber) {
	if data == nil {
		return
	}

	h.mu.RLock()
	targets := make([]*subscriber, 0)
	for id, subs := range h.shops {
		if shopID != "" && id != shopID {
			continue
		}
		for sub := range subs {
			if sub != except {
				targets = append(targets, sub)
			}
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		h.enqueue(sub, data)
	}
}

// enqueue не блокируется: переполненный подписчик отключается
func (h *Hub) enqueue(sub *subscriber, data []byte) {
	if data == nil {
		return
	}
	select {
	case <-sub.done:
	case sub.send <- data:
	default:
		h.log.Warn("slow realtime subscriber dropped", "shop_id", sub.shopID, "principal", sub.principal)
		sub.kill(websocket.StatusPolicyViolation, "slow consumer")
	}
}

func (h *Hub) encode(msg Message) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to encode realtime frame", "type", msg.Type, "error", err)
		return nil
	}
	return data
}

func (h *Hub) add(sub *subscriber) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	subs, ok := h.shops[sub.shopID]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.shops[sub.shopID] = subs
	}
	subs[sub] = struct{}{}
	return nil
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.shops[sub.shopID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.shops, sub.shopID)
		}
	}
}

// Subscribers число подключенных касс магазина; пустой shopID - всех магазинов
func (h *Hub) Subscribers(shopID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if shopID != "" {
		return len(h.shops[shopID])
	}
	n := 0
	for _, subs := range h.shops {
		n += len(subs)
	}
	return n
}

// Close отключает всех подписчиков и перестает принимать новых
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*subscriber
	for _, subs := range h.shops {
		for sub := range subs {
			all = append(all, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range all {
		sub.kill(websocket.StatusGoingAway, "server shutting down")
	}
	h.log.Info("realtime hub closed", "subscribers", len(all))
}
