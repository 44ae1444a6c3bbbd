package client

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/exp/slog"

	"shopsync/internal/app/client/realtime"
	"shopsync/internal/domain/sync"
)

const (
	tableInventory = "inventory"
	tableProducts  = "products"
)

// RemoteApplier применяет входящие изменения к локальным таблицам
type RemoteApplier interface {
	ApplyRemote(ctx context.Context, ch sync.Change) error
	LocalRecord(ctx context.Context, table, recordID string) (json.RawMessage, error)
}

// Trigger запускает внеочередную синхронизацию
type Trigger interface {
	Trigger(reason string)
}

// eventBridge переносит realtime-события в локальные таблицы.
// Если по записи есть неотправленные мутации, событие не применяется и запускается полный цикл.
type eventBridge struct {
	store   RemoteApplier
	trigger Trigger
	log     *slog.Logger
}

func newEventBridge(store RemoteApplier, trigger Trigger, log *slog.Logger) *eventBridge {
	return &eventBridge{
		store:   store,
		trigger: trigger,
		log:     log.With(slog.String("component", "events")),
	}
}

func (b *eventBridge) register(ch *realtime.Channel) {
	ch.On(realtime.KindInventoryUpdate, b.handle)
	ch.On(realtime.KindPriceUpdate, b.handle)
	ch.On(realtime.KindStockAlert, b.handle)
	ch.On(realtime.KindOrderNotification, b.handle)
	ch.On(realtime.KindSystemMessage, b.handle)
}

func (b *eventBridge) handle(ctx context.Context, ev realtime.Event) {
	switch e := ev.(type) {
	case realtime.InventoryUpdate:
		patch := map[string]interface{}{"quantity": e.Quantity}
		if e.Location != "" {
			patch["location"] = e.Location
		}
		b.patch(ctx, tableInventory, e.ProductID, patch, true, e)
	case realtime.PriceUpdate:
		b.patch(ctx, tableProducts, e.ProductID, map[string]interface{}{"price": e.Price}, false, e)
	case realtime.StockAlert:
		b.log.Warn("low stock", "product_id", e.ProductID, "quantity", e.Quantity, "threshold", e.Threshold)
	case realtime.OrderNotification:
		b.log.Info("order notification", "order_id", e.OrderID, "status", e.Status)
		b.trigger.Trigger("order notification")
	case realtime.SystemMessage:
		b.log.Info("server message", "level", e.Level, "message", e.Message)
	}
}

// patch накладывает поля на локальную запись. Без локальной записи создает ее, только если create.
func (b *eventBridge) patch(ctx context.Context, table, id string, fields map[string]interface{}, create bool, ev realtime.Event) {
	if id == "" {
		b.log.Warn("event without product id dropped", "kind", ev.Kind())
		return
	}

	doc := map[string]interface{}{}
	current, err := b.store.LocalRecord(ctx, table, id)
	switch {
	case errors.Is(err, sync.ErrRecordNotFound):
		if !create {
			b.trigger.Trigger("unknown record in " + string(ev.Kind()))
			return
		}
		doc["id"] = id
	case err != nil:
		b.log.Error("failed to read local record", "table", table, "id", id, "error", err)
		return
	default:
		if err := json.Unmarshal(current, &doc); err != nil {
			b.log.Error("local record is not a JSON object", "table", table, "id", id, "error", err)
			return
		}
	}

	for k, v := range fields {
		doc[k] = v
	}
	data, err := json.Marshal(doc)
	if err != nil {
		b.log.Error("failed to encode record", "error", err)
		return
	}

	err = b.store.ApplyRemote(ctx, sync.Change{
		Table:     table,
		RecordID:  id,
		Action:    sync.ActionUpdate,
		Data:      data,
		Timestamp: eventTime(ev),
	})
	switch {
	case errors.Is(err, sync.ErrConflictDetected):
		b.log.Info("local changes pending, deferring to sync cycle", "table", table, "id", id)
		b.trigger.Trigger("realtime conflict")
	case err != nil:
		b.log.Error("failed to apply realtime event", "table", table, "id", id, "error", err)
	default:
		b.log.Debug("realtime event applied", "table", table, "id", id, "kind", ev.Kind())
	}
}

func eventTime(ev realtime.Event) (at time.Time) {
	switch e := ev.(type) {
	case realtime.InventoryUpdate:
		at = e.At
	case realtime.PriceUpdate:
		at = e.At
	}
	return at
}
