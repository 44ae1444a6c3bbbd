package realtime

import (
	"encoding/json"
	"time"

	"shopsync/internal/domain/resource"
)

// Типы кадров протокола /shop/{shopId}
const (
	TypeAuth              = "auth"
	TypePing              = "ping"
	TypePong              = "pong"
	TypeInventoryUpdate   = "inventory_update"
	TypePriceUpdate       = "price_update"
	TypeStockAlert        = "stock_alert"
	TypeOrderNotification = "order_notification"
	TypeSystemMessage     = "system_message"
)

// relayable кадры клиента, которые пересылаются остальным кассам магазина
var relayable = map[string]bool{
	TypeInventoryUpdate:   true,
	TypePriceUpdate:       true,
	TypeStockAlert:        true,
	TypeOrderNotification: true,
}

// Message кадр протокола
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type authData struct {
	ShopID string `json:"shopId"`
	Token  string `json:"token"`
}

type inventoryUpdate struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Location  string `json:"location,omitempty"`
}

type priceUpdate struct {
	ProductID string  `json:"productId"`
	Price     float64 `json:"price"`
}

type stockAlert struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Threshold int    `json:"threshold"`
}

type orderNotification struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

type systemMessage struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// поля ресурсов, из которых строятся события
type inventoryRecord struct {
	ProductID    string   `json:"product_id"`
	ProductIDAlt string   `json:"productId"`
	Quantity     *float64 `json:"quantity"`
	Location     string   `json:"location"`
	ReorderLevel *float64 `json:"reorder_level"`
}

type partRecord struct {
	Price *float64 `json:"price"`
}

type transactionRecord struct {
	Status string `json:"status"`
}

// EventsFor переводит изменение ресурса в realtime-события. Для остальных типов событий нет.
func EventsFor(ch resource.Change) []Message {
	at := ch.ChangedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	switch ch.Kind {
	case resource.KindInventory:
		if ch.Action == resource.ActionDelete {
			return nil
		}
		var rec inventoryRecord
		if json.Unmarshal(ch.Data, &rec) != nil || rec.Quantity == nil {
			return nil
		}
		productID := rec.ProductID
		if productID == "" {
			productID = rec.ProductIDAlt
		}
		if productID == "" {
			productID = ch.ID
		}
		qty := int(*rec.Quantity)

		out := []Message{message(TypeInventoryUpdate, inventoryUpdate{ProductID: productID, Quantity: qty, Location: rec.Location}, at)}
		if rec.ReorderLevel != nil && qty <= int(*rec.ReorderLevel) {
			out = append(out, message(TypeStockAlert, stockAlert{ProductID: productID, Quantity: qty, Threshold: int(*rec.ReorderLevel)}, at))
		}
		return out

	case resource.KindParts:
		if ch.Action == resource.ActionDelete {
			return nil
		}
		var rec partRecord
		if json.Unmarshal(ch.Data, &rec) != nil || rec.Price == nil {
			return nil
		}
		return []Message{message(TypePriceUpdate, priceUpdate{ProductID: ch.ID, Price: *rec.Price}, at)}

	case resource.KindTransactions:
		var rec transactionRecord
		_ = json.Unmarshal(ch.Data, &rec)

		status := rec.Status
		switch {
		case ch.Action == resource.ActionDelete:
			status = "cancelled"
		case status == "" && ch.Action == resource.ActionCreate:
			status = "created"
		case status == "":
			status = "updated"
		}
		return []Message{message(TypeOrderNotification, orderNotification{OrderID: ch.ID, Status: status}, at)}
	}

	return nil
}

func message(typ string, v interface{}, at time.Time) Message {
	data, _ := json.Marshal(v)
	return Message{Type: typ, Data: data, Timestamp: at}
}
