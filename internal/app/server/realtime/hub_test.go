package realtime

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"shopsync/internal/app/api/middleware/auth"
	clientrt "shopsync/internal/app/client/realtime"
	"shopsync/internal/domain/resource"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// shopKeys токен -> магазин
type shopKeys map[string]string

func (k shopKeys) HasPermission(_ context.Context, token string, _ auth.Permission) (auth.Principal, error) {
	shop, ok := k[token]
	if !ok {
		return auth.Principal{}, auth.ErrInvalidToken
	}
	return auth.Principal{ID: "key:" + token, ShopID: shop}, nil
}

func newTestHub(t *testing.T, cfg Config) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(shopKeys{"key-1": "shop-1", "key-2": "shop-2", "admin": ""}, cfg, testLogger())
	r := chi.NewRouter()
	r.Handle("/shop/{shopId}", hub)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

// dial подключается и отправляет кадр auth, как это делает касса
func dial(t *testing.T, srv *httptest.Server, shopID, queryToken, frameToken string) *websocket.Conn {
	t.Helper()

	u := wsURL(srv, "/shop/"+shopID)
	if queryToken != "" {
		u += "?token=" + queryToken
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })

	data, _ := json.Marshal(authData{ShopID: shopID, Token: frameToken})
	write(t, conn, Message{Type: TypeAuth, Data: data})
	return conn
}

func write(t *testing.T, conn *websocket.Conn, msg Message) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_WelcomeAndPong(t *testing.T) {
	hub, srv := newTestHub(t, DefaultConfig())
	conn := dial(t, srv, "shop-1", "key-1", "key-1")

	welcome := read(t, conn)
	assert.Equal(t, TypeSystemMessage, welcome.Type)
	assert.Contains(t, string(welcome.Data), "shop-1")

	write(t, conn, Message{Type: TypePing})
	assert.Equal(t, TypePong, read(t, conn).Type)
	assert.Equal(t, 1, hub.Subscribers("shop-1"))
}

func TestHub_AuthFrameToken(t *testing.T) {
	hub, srv := newTestHub(t, DefaultConfig())
	conn := dial(t, srv, "shop-2", "", "key-2")

	assert.Equal(t, TypeSystemMessage, read(t, conn).Type)
	require.Eventually(t, func() bool { return hub.Subscribers("shop-2") == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_Rejects(t *testing.T) {
	_, srv := newTestHub(t, DefaultConfig())

	t.Run("unknown token", func(t *testing.T) {
		_, resp, err := websocket.Dial(context.Background(), wsURL(srv, "/shop/shop-1?token=nope"), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("key of another shop", func(t *testing.T) {
		_, resp, err := websocket.Dial(context.Background(), wsURL(srv, "/shop/shop-2?token=key-1"), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("bad token in auth frame", func(t *testing.T) {
		conn := dial(t, srv, "shop-1", "", "nope")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _, err := conn.Read(ctx)
		require.Error(t, err)
		assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
	})
}

func TestHub_PublishScopesByShop(t *testing.T) {
	hub, srv := newTestHub(t, DefaultConfig())

	shop1 := dial(t, srv, "shop-1", "key-1", "key-1")
	shop2 := dial(t, srv, "shop-2", "key-2", "key-2")
	read(t, shop1)
	read(t, shop2)
	require.Eventually(t, func() bool { return hub.Subscribers("") == 2 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish("shop-2", resource.Change{
		Kind:   resource.KindParts,
		ID:     "p-1",
		Action: resource.ActionUpdate,
		Data:   json.RawMessage(`{"id":"p-1","price":7.25}`),
	})
	msg := read(t, shop2)
	assert.Equal(t, TypePriceUpdate, msg.Type)
	assert.JSONEq(t, `{"productId":"p-1","price":7.25}`, string(msg.Data))

	// пустой магазин - всем
	hub.Broadcast("", Message{Type: TypeSystemMessage, Data: json.RawMessage(`{"level":"warning","message":"maintenance"}`)})
	assert.Equal(t, TypeSystemMessage, read(t, shop1).Type)
	assert.Equal(t, TypeSystemMessage, read(t, shop2).Type)
}

func TestHub_RelaysClientEvents(t *testing.T) {
	_, srv := newTestHub(t, DefaultConfig())

	sender := dial(t, srv, "shop-1", "key-1", "key-1")
	peer := dial(t, srv, "shop-1", "admin", "admin")
	read(t, sender)
	read(t, peer)

	write(t, sender, Message{Type: TypeOrderNotification, Data: json.RawMessage(`{"orderId":"o-1","status":"paid"}`)})
	write(t, sender, Message{Type: "shutdown", Data: json.RawMessage(`{}`)})
	write(t, sender, Message{Type: TypePing})

	msg := read(t, peer)
	assert.Equal(t, TypeOrderNotification, msg.Type)
	assert.False(t, msg.Timestamp.IsZero())

	// отправитель свое событие не получает, следующий кадр - pong
	assert.Equal(t, TypePong, read(t, sender).Type)
}

func TestHub_CloseDisconnects(t *testing.T) {
	hub, srv := newTestHub(t, DefaultConfig())
	conn := dial(t, srv, "shop-1", "key-1", "key-1")
	read(t, conn)

	hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	require.Eventually(t, func() bool { return hub.Subscribers("") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_ClientChannelReceivesEvents(t *testing.T) {
	hub, srv := newTestHub(t, DefaultConfig())

	events := make(chan clientrt.Event, 8)
	ch := clientrt.New(clientrt.Config{
		URL:    clientrt.WebSocketURL(srv.URL),
		ShopID: "shop-1",
		Token:  "key-1",
	}, testLogger())
	ch.On(clientrt.KindInventoryUpdate, func(_ context.Context, ev clientrt.Event) { events <- ev })
	ch.On(clientrt.KindStockAlert, func(_ context.Context, ev clientrt.Event) { events <- ev })

	ch.Start(context.Background())
	defer ch.Stop()

	require.Eventually(t, func() bool { return ch.Connected() && hub.Subscribers("shop-1") == 1 }, 5*time.Second, 20*time.Millisecond)

	hub.Publish("shop-1", resource.Change{
		Kind:   resource.KindInventory,
		ID:     "inv-1",
		Action: resource.ActionUpdate,
		Data:   json.RawMessage(`{"product_id":"p-1","quantity":2,"reorder_level":5}`),
	})

	got := make([]clientrt.Event, 0, 2)
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-time.After(5 * time.Second):
			t.Fatalf("received %d events, want 2", len(got))
		}
	}

	update, ok := got[0].(clientrt.InventoryUpdate)
	require.True(t, ok)
	assert.Equal(t, "p-1", update.ProductID)
	assert.Equal(t, 2, update.Quantity)

	alert, ok := got[1].(clientrt.StockAlert)
	require.True(t, ok)
	assert.Equal(t, 5, alert.Threshold)
}
