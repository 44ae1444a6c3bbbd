package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

// Resolver применяет решения по конфликтам: автоматически по политике или вручную
type Resolver struct {
	// решения применяются по одному: автоматическое и ручное не пересекаются
	mu gosync.Mutex

	repo  Repository
	local LocalStore
	log   *slog.Logger
	now   func() time.Time
}

func NewResolver(repo Repository, local LocalStore, log *slog.Logger) *Resolver {
	return &Resolver{
		repo:  repo,
		local: local,
		log:   log,
		now:   time.Now,
	}
}

// Auto разрешает конфликт по политике. Для manual возвращает false.
func (r *Resolver) Auto(ctx context.Context, policy Policy, c *SyncConflict) (bool, error) {
	var resolution Resolution
	switch policy {
	case PolicyLocal:
		resolution = ResolutionLocal
	case PolicyRemote:
		resolution = ResolutionRemote
	default:
		return false, nil
	}

	if err := r.Resolve(ctx, c, resolution, nil, "policy:"+string(policy)); err != nil {
		return false, err
	}
	return true, nil
}

// Resolve применяет решение и помечает конфликт разрешенным.
// Повторное разрешение того же конфликта возвращает ErrConflictResolved и ничего не меняет.
func (r *Resolver) Resolve(ctx context.Context, c *SyncConflict, resolution Resolution, merged json.RawMessage, resolvedBy string) error {
	if c.Resolved() {
		return ErrConflictResolved
	}
	if !resolution.Valid() {
		return &ValidationError{Field: "resolution", Message: fmt.Sprintf("unknown resolution %q", resolution)}
	}
	if resolution == ResolutionMerge {
		if err := validateMerged(merged); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// снимок вызывающего мог устареть, пока решение ждало очереди
	current, err := r.repo.GetConflict(ctx, c.ID)
	if err != nil {
		return err
	}
	if current.Resolved() {
		r.log.Warn("conflict was resolved concurrently", "conflict_id", c.ID)
		return ErrConflictResolved
	}
	c = current

	switch resolution {
	case ResolutionLocal:
		err = r.keepLocal(ctx, c)
	case ResolutionRemote:
		err = r.keepRemote(ctx, c)
	case ResolutionMerge:
		err = r.merge(ctx, c, merged)
	}
	if err != nil {
		return fmt.Errorf("failed to apply %s resolution for conflict %d: %w", resolution, c.ID, err)
	}

	if resolution != ResolutionMerge {
		merged = nil
	}
	if err := r.repo.ResolveConflict(ctx, c.ID, resolution, merged, resolvedBy); err != nil {
		if errors.Is(err, ErrConflictResolved) {
			r.log.Warn("conflict was resolved concurrently", "conflict_id", c.ID)
		}
		return err
	}

	r.log.Info("conflict resolved",
		"conflict_id", c.ID,
		"table", c.Table,
		"record_id", c.RecordID,
		"resolution", resolution,
		"resolved_by", resolvedBy,
	)
	return nil
}

// keepLocal возвращает отложенные мутации в очередь; если их нет, ставит новую с локальной версией
func (r *Resolver) keepLocal(ctx context.Context, c *SyncConflict) error {
	parked, err := r.repo.FindMutations(ctx, c.Table, c.RecordID, StatusConflict)
	if err != nil {
		return err
	}

	if len(parked) > 0 {
		for _, p := range parked {
			if err := r.repo.MarkStatus(ctx, StatusUpdate{ID: p.ID, To: StatusPending, ResetRetry: true}); err != nil {
				return err
			}
		}
		return nil
	}

	req := EnqueueRequest{Table: c.Table, Action: ActionUpdate, Payload: c.LocalData}
	if isEmptyJSON(c.LocalData) {
		req.Action = ActionDelete
		req.Payload = idPayload(c.RecordID)
	}
	rec, err := newRecord(req, r.now())
	if err != nil {
		return err
	}
	rec.RecordID = c.RecordID
	return r.repo.Enqueue(ctx, rec)
}

// keepRemote записывает удаленную версию локально и снимает отложенные мутации
func (r *Resolver) keepRemote(ctx context.Context, c *SyncConflict) error {
	action := c.Action
	if action != ActionDelete && isEmptyJSON(c.RemoteData) {
		action = ActionDelete
	}
	if err := r.local.ApplyChange(ctx, c.Table, c.RecordID, action, c.RemoteData); err != nil {
		return err
	}
	return r.supersede(ctx, c, "superseded by remote version")
}

// supersede переводит отложенные мутации в dead: их заменило решение по конфликту
func (r *Resolver) supersede(ctx context.Context, c *SyncConflict, reason string) error {
	parked, err := r.repo.FindMutations(ctx, c.Table, c.RecordID, StatusConflict)
	if err != nil {
		return err
	}
	for _, p := range parked {
		if err := r.repo.MarkStatus(ctx, StatusUpdate{ID: p.ID, To: StatusDead, Error: reason}); err != nil {
			return err
		}
	}
	return nil
}

func validateMerged(merged json.RawMessage) error {
	if isEmptyJSON(merged) {
		return &ValidationError{Field: "merged_data", Message: "required for merge resolution"}
	}
	if _, err := decodeObject(merged); err != nil {
		return &ValidationError{Field: "merged_data", Message: err.Error()}
	}
	return nil
}

func (r *Resolver) merge(ctx context.Context, c *SyncConflict, merged json.RawMessage) error {
	if err := r.local.ApplyChange(ctx, c.Table, c.RecordID, ActionUpdate, merged); err != nil {
		return err
	}
	if err := r.supersede(ctx, c, "superseded by merged version"); err != nil {
		return err
	}

	rec, err := newRecord(EnqueueRequest{Table: c.Table, Action: ActionUpdate, Payload: merged}, r.now())
	if err != nil {
		return err
	}
	rec.RecordID = c.RecordID
	return r.repo.Enqueue(ctx, rec)
}

// newRecord проверяет запрос и собирает запись очереди в статусе pending
func newRecord(req EnqueueRequest, now time.Time) (*SyncRecord, error) {
	table := strings.TrimSpace(req.Table)
	if table == "" {
		return nil, &ValidationError{Field: "table", Message: "required"}
	}
	if !req.Action.Valid() {
		return nil, &ValidationError{Field: "action", Message: fmt.Sprintf("unknown action %q", req.Action)}
	}

	payload := bytes.TrimSpace(req.Payload)
	if len(payload) == 0 {
		if req.Action != ActionDelete {
			return nil, &ValidationError{Field: "payload", Message: "required for " + string(req.Action)}
		}
		payload = []byte("{}")
	}

	obj, err := decodeObject(payload)
	if err != nil {
		return nil, &ValidationError{Field: "payload", Message: err.Error()}
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	recordID := extractID(obj)
	if recordID == "" {
		recordID = id
	}

	return &SyncRecord{
		ID:        id,
		Table:     table,
		RecordID:  recordID,
		Action:    req.Action,
		LocalData: json.RawMessage(payload),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func decodeObject(data json.RawMessage) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return nil, errors.New("must be a JSON object")
	}
	return obj, nil
}

// extractID достает поле id, строковое или числовое
func extractID(obj map[string]json.RawMessage) string {
	raw, ok := obj["id"]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func idPayload(recordID string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"id": recordID})
	return b
}

func isEmptyJSON(data json.RawMessage) bool {
	d := bytes.TrimSpace(data)
	return len(d) == 0 || bytes.Equal(d, []byte("null"))
}

// payloadMatches все поля локальной версии совпадают с удаленной.
// Лишние поля на удаленной стороне (updated_at и т.п.) не учитываются.
func payloadMatches(local, remote json.RawMessage) bool {
	if isEmptyJSON(local) {
		return isEmptyJSON(remote)
	}

	var l, r map[string]interface{}
	if err := json.Unmarshal(local, &l); err != nil {
		return false
	}
	if err := json.Unmarshal(remote, &r); err != nil {
		return false
	}

	for k, lv := range l {
		rv, ok := r[k]
		if !ok || !reflect.DeepEqual(lv, rv) {
			return false
		}
	}
	return true
}
