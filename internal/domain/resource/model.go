package resource

import (
	"encoding/json"
	"time"
)

// Kind тип ресурса, совпадает с последним сегментом пути /v1/<kind>
type Kind string

const (
	KindParts        Kind = "parts"
	KindCustomers    Kind = "customers"
	KindTransactions Kind = "transactions"
	KindInventory    Kind = "inventory"
	KindSuppliers    Kind = "suppliers"
	KindCategories   Kind = "categories"
)

// Kinds все поддерживаемые типы ресурсов
var Kinds = []Kind{KindParts, KindCustomers, KindTransactions, KindInventory, KindSuppliers, KindCategories}

func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Action тип изменения в ленте
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Resource запись магазина. Data - JSON-объект с полем id.
type Resource struct {
	Kind      Kind            `json:"kind"`
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	Deleted   bool            `json:"deleted,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Change запись ленты изменений
type Change struct {
	Seq       int64           `json:"-"`
	Kind      Kind            `json:"resource"`
	ID        string          `json:"record_id"`
	Action    Action          `json:"action"`
	Data      json.RawMessage `json:"data,omitempty"`
	ChangedAt time.Time       `json:"timestamp"`
}

// ChangesPage страница ленты изменений
type ChangesPage struct {
	Changes    []Change  `json:"changes"`
	HasMore    bool      `json:"has_more"`
	ServerTime time.Time `json:"server_time"`
}

// Summary количество живых записей по типам
type Summary struct {
	Counts      map[Kind]int64 `json:"counts"`
	LastChange  *time.Time     `json:"last_change,omitempty"`
	GeneratedAt time.Time      `json:"generated_at"`
}
