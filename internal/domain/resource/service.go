package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

const (
	defaultListLimit    = 100
	defaultChangesLimit = 100
	maxChangesLimit     = 1000
)

type Servicer interface {
	Get(ctx context.Context, kind Kind, id string) (*Resource, error)
	List(ctx context.Context, kind Kind, limit, offset int) ([]Resource, error)
	Create(ctx context.Context, shopID string, kind Kind, data json.RawMessage) (*Resource, bool, error)
	Update(ctx context.Context, shopID string, kind Kind, id string, data json.RawMessage) (*Resource, error)
	Delete(ctx context.Context, shopID string, kind Kind, id string) error
	Changes(ctx context.Context, since time.Time, limit int) (*ChangesPage, error)
	Summary(ctx context.Context) (*Summary, error)
}

type Service struct {
	repo      Repository
	publisher Publisher
	log       *slog.Logger
	now       func() time.Time
}

// NewService publisher может быть nil
func NewService(repo Repository, publisher Publisher, log *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		log:       log.With("component", "resource_service"),
		now:       time.Now,
	}
}

func (s *Service) Get(ctx context.Context, kind Kind, id string) (*Resource, error) {
	if !kind.Valid() {
		return nil, ErrUnknownKind
	}
	return s.repo.Get(ctx, kind, id)
}

func (s *Service) List(ctx context.Context, kind Kind, limit, offset int) ([]Resource, error) {
	if !kind.Valid() {
		return nil, ErrUnknownKind
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	list, err := s.repo.List(ctx, kind, limit, offset)
	if err != nil {
		s.log.Error("failed to list resources", "kind", kind, "error", err)
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	return list, nil
}

// Create идемпотентен по id: повтор с теми же данными возвращает существующую запись
// и created=false, с другими данными - ErrConflict.
func (s *Service) Create(ctx context.Context, shopID string, kind Kind, data json.RawMessage) (*Resource, bool, error) {
	if !kind.Valid() {
		return nil, false, ErrUnknownKind
	}

	obj, id, err := decodeObject(data)
	if err != nil {
		return nil, false, err
	}
	if id == "" {
		id = uuid.New().String()
		obj["id"] = id
		if data, err = json.Marshal(obj); err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
	}

	res := &Resource{Kind: kind, ID: id, Data: data}
	ch, err := s.repo.Create(ctx, res)
	if errors.Is(err, ErrExists) {
		existing, gerr := s.repo.Get(ctx, kind, id)
		if gerr != nil {
			return nil, false, fmt.Errorf("get existing %s/%s: %w", kind, id, gerr)
		}
		if !sameJSON(existing.Data, data) {
			s.log.Warn("create conflict", "kind", kind, "id", id)
			return existing, false, ErrConflict
		}
		s.log.Debug("create replayed", "kind", kind, "id", id)
		return existing, false, nil
	}
	if err != nil {
		s.log.Error("failed to create resource", "kind", kind, "id", id, "error", err)
		return nil, false, fmt.Errorf("create %s/%s: %w", kind, id, err)
	}

	s.publish(shopID, ch)
	return res, true, nil
}

// Update заменяет данные записи; id в данных принудительно равен id пути
func (s *Service) Update(ctx context.Context, shopID string, kind Kind, id string, data json.RawMessage) (*Resource, error) {
	if !kind.Valid() {
		return nil, ErrUnknownKind
	}

	obj, bodyID, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	if bodyID != id {
		obj["id"] = id
		if data, err = json.Marshal(obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
	}

	res := &Resource{Kind: kind, ID: id, Data: data}
	ch, err := s.repo.Update(ctx, res)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Error("failed to update resource", "kind", kind, "id", id, "error", err)
		}
		return nil, err
	}

	s.publish(shopID, ch)
	return res, nil
}

func (s *Service) Delete(ctx context.Context, shopID string, kind Kind, id string) error {
	if !kind.Valid() {
		return ErrUnknownKind
	}

	ch, err := s.repo.Delete(ctx, kind, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Error("failed to delete resource", "kind", kind, "id", id, "error", err)
		}
		return err
	}

	s.publish(shopID, ch)
	return nil
}

// Changes страница ленты после since
func (s *Service) Changes(ctx context.Context, since time.Time, limit int) (*ChangesPage, error) {
	if limit <= 0 {
		limit = defaultChangesLimit
	}
	if limit > maxChangesLimit {
		limit = maxChangesLimit
	}

	// на одну больше, чтобы узнать has_more
	changes, err := s.repo.Changes(ctx, since, limit+1)
	if err != nil {
		s.log.Error("failed to read changes", "since", since, "error", err)
		return nil, fmt.Errorf("changes: %w", err)
	}

	page := &ChangesPage{Changes: changes, ServerTime: s.now().UTC()}
	if len(changes) > limit {
		page.Changes = changes[:limit]
		page.HasMore = true
	}
	if page.Changes == nil {
		page.Changes = []Change{}
	}
	return page, nil
}

func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	counts, err := s.repo.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}

	last, err := s.repo.LastChange(ctx)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}

	sum := &Summary{Counts: make(map[Kind]int64, len(Kinds)), LastChange: last, GeneratedAt: s.now().UTC()}
	for _, k := range Kinds {
		sum.Counts[k] = counts[k]
	}
	return sum, nil
}

func (s *Service) publish(shopID string, ch *Change) {
	if s.publisher == nil || ch == nil {
		return
	}
	s.publisher.Publish(shopID, *ch)
}

// decodeObject проверяет, что data - JSON-объект, и достает id (строка или число)
func decodeObject(data json.RawMessage) (map[string]interface{}, string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, "", fmt.Errorf("%w: empty body", ErrInvalidData)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, "", fmt.Errorf("%w: body must be a JSON object", ErrInvalidData)
	}

	switch v := obj["id"].(type) {
	case nil:
		return obj, "", nil
	case string:
		return obj, v, nil
	case json.Number:
		return obj, v.String(), nil
	default:
		return nil, "", fmt.Errorf("%w: id must be a string or number, got %T", ErrInvalidData, v)
	}
}

func sameJSON(a, b json.RawMessage) bool {
	var va, vb interface{}
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return bytes.Equal(a, b)
	}
	return reflect.DeepEqual(va, vb)
}
