package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"shopsync/internal/domain/sync"
)

// LocalTables бизнес-таблицы, которые создают миграции
var LocalTables = []string{"products", "customers", "sales", "inventory", "suppliers", "categories"}

// DocumentStore локальные бизнес-таблицы: запись хранится как JSON-документ по id
type DocumentStore struct {
	st     *Storage
	tables map[string]struct{}
}

func NewDocumentStore(st *Storage) *DocumentStore {
	tables := make(map[string]struct{}, len(LocalTables))
	for _, t := range LocalTables {
		tables[t] = struct{}{}
	}
	return &DocumentStore{st: st, tables: tables}
}

// Document запись бизнес-таблицы
type Document struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (d *DocumentStore) checkTable(table string) error {
	if _, ok := d.tables[table]; !ok {
		return &sync.ConfigurationError{Table: table, Message: "unknown local table"}
	}
	return nil
}

// ApplyChange записывает или удаляет запись таблицы
func (d *DocumentStore) ApplyChange(ctx context.Context, table, recordID string, action sync.Action, data json.RawMessage) error {
	if err := d.checkTable(table); err != nil {
		return err
	}

	if action == sync.ActionDelete {
		// имя таблицы проверено по белому списку
		if _, err := d.st.Exec(ctx, "DELETE FROM "+table+" WHERE id = ?", recordID); err != nil {
			return fmt.Errorf("ошибка удаления записи %s/%s: %w", table, recordID, err)
		}
		return nil
	}

	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	_, err := d.st.Exec(ctx, `
		INSERT INTO `+table+` (id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, recordID, string(data), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("ошибка сохранения записи %s/%s: %w", table, recordID, err)
	}
	return nil
}

// GetRecord возвращает данные записи или sync.ErrRecordNotFound
func (d *DocumentStore) GetRecord(ctx context.Context, table, recordID string) (json.RawMessage, error) {
	if err := d.checkTable(table); err != nil {
		return nil, err
	}

	var data string
	err := d.st.Get(ctx, "SELECT data FROM "+table+" WHERE id = ?", recordID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sync.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения записи %s/%s: %w", table, recordID, err)
	}
	return json.RawMessage(data), nil
}

// List возвращает записи таблицы, начиная с последних измененных
func (d *DocumentStore) List(ctx context.Context, table string, limit int) ([]*Document, error) {
	if err := d.checkTable(table); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := d.st.Query(ctx, "SELECT id, data, updated_at FROM "+table+" ORDER BY updated_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка %s: %w", table, err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var doc Document
		var data, updatedAt string
		if err := rows.Scan(&doc.ID, &data, &updatedAt); err != nil {
			return nil, fmt.Errorf("ошибка чтения записи: %w", err)
		}
		doc.Data = json.RawMessage(data)
		doc.UpdatedAt, _ = parseTime(updatedAt)
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}
