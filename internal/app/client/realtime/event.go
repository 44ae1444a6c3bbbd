package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventKind тип события realtime-канала
type EventKind string

const (
	KindInventoryUpdate   EventKind = "inventory_update"
	KindPriceUpdate       EventKind = "price_update"
	KindStockAlert        EventKind = "stock_alert"
	KindOrderNotification EventKind = "order_notification"
	KindSystemMessage     EventKind = "system_message"
	KindPong              EventKind = "pong"
)

// Служебные исходящие сообщения
const (
	typeAuth = "auth"
	typePing = "ping"
)

var ErrUnknownEvent = errors.New("unknown event type")

// Envelope кадр протокола
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Event входящее событие. Набор типов закрыт: см. Decode.
type Event interface {
	Kind() EventKind
}

type InventoryUpdate struct {
	ProductID string    `json:"productId"`
	Quantity  int       `json:"quantity"`
	Location  string    `json:"location,omitempty"`
	At        time.Time `json:"-"`
}

func (InventoryUpdate) Kind() EventKind { return KindInventoryUpdate }

type PriceUpdate struct {
	ProductID string    `json:"productId"`
	Price     float64   `json:"price"`
	At        time.Time `json:"-"`
}

func (PriceUpdate) Kind() EventKind { return KindPriceUpdate }

type StockAlert struct {
	ProductID string    `json:"productId"`
	Quantity  int       `json:"quantity"`
	Threshold int       `json:"threshold"`
	At        time.Time `json:"-"`
}

func (StockAlert) Kind() EventKind { return KindStockAlert }

type OrderNotification struct {
	OrderID string    `json:"orderId"`
	Status  string    `json:"status"`
	At      time.Time `json:"-"`
}

func (OrderNotification) Kind() EventKind { return KindOrderNotification }

type SystemMessage struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"-"`
}

func (SystemMessage) Kind() EventKind { return KindSystemMessage }

type Pong struct {
	At time.Time `json:"-"`
}

func (Pong) Kind() EventKind { return KindPong }

// Decode разбирает кадр в событие. Неизвестный тип - ErrUnknownEvent.
func Decode(env Envelope) (Event, error) {
	at := env.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	switch EventKind(env.Type) {
	case KindInventoryUpdate:
		var ev InventoryUpdate
		if err := decodeData(env, &ev); err != nil {
			return nil, err
		}
		ev.At = at
		return ev, nil
	case KindPriceUpdate:
		var ev PriceUpdate
		if err := decodeData(env, &ev); err != nil {
			return nil, err
		}
		ev.At = at
		return ev, nil
	case KindStockAlert:
		var ev StockAlert
		if err := decodeData(env, &ev); err != nil {
			return nil, err
		}
		ev.At = at
		return ev, nil
	case KindOrderNotification:
		var ev OrderNotification
		if err := decodeData(env, &ev); err != nil {
			return nil, err
		}
		ev.At = at
		return ev, nil
	case KindSystemMessage:
		var ev SystemMessage
		if err := decodeData(env, &ev); err != nil {
			return nil, err
		}
		ev.At = at
		return ev, nil
	case KindPong:
		return Pong{At: at}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
}

func decodeData(env Envelope, v interface{}) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("event %s: empty data", env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("event %s: %w", env.Type, err)
	}
	return nil
}
