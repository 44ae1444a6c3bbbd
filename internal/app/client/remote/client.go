package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/exp/slog"

	"shopsync/internal/domain/sync"
)

// DefaultTimeout таймаут одного запроса
const DefaultTimeout = 15 * time.Second

// DefaultResources локальная таблица -> ресурс удаленного API
var DefaultResources = map[string]string{
	"products":   "/v1/parts",
	"customers":  "/v1/customers",
	"sales":      "/v1/transactions",
	"inventory":  "/v1/inventory",
	"suppliers":  "/v1/suppliers",
	"categories": "/v1/categories",
}

// Client клиент удаленного API магазина
type Client struct {
	client    *http.Client
	log       *slog.Logger
	resources map[string]string
	tables    map[string]string
	userAgent string
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

func WithResources(resources map[string]string) Option {
	return func(c *Client) { c.resources = resources }
}

func New(log *slog.Logger, opts ...Option) *Client {
	c := &Client{
		client: &http.Client{
			Timeout: DefaultTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
		log:       log,
		resources: DefaultResources,
		userAgent: "ShopSync-Client/1.0",
	}

	for _, opt := range opts {
		opt(c)
	}

	c.tables = make(map[string]string, len(c.resources))
	for table, p := range c.resources {
		c.tables[path.Base(p)] = table
	}
	return c
}

var _ sync.RemoteClient = (*Client)(nil)

// ResourceFor возвращает путь ресурса для таблицы
func (c *Client) ResourceFor(table string) (string, error) {
	p, ok := c.resources[table]
	if !ok {
		return "", &sync.ConfigurationError{Table: table, Message: "no remote resource mapped"}
	}
	return p, nil
}

// TableFor возвращает локальную таблицу для имени ресурса из ленты изменений
func (c *Client) TableFor(resource string) (string, bool) {
	t, ok := c.tables[path.Base(resource)]
	return t, ok
}

// Health проверяет доступность сервера
func (c *Client) Health(ctx context.Context, cfg sync.Config) error {
	resp, err := c.doRequest(ctx, cfg, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return err
	}
	return c.parseResponse(resp, "health", nil)
}

// Probe запрашивает путь и возвращает код ответа. Ошибка только при сбое транспорта.
func (c *Client) Probe(ctx context.Context, cfg sync.Config, p string) (int, error) {
	resp, err := c.doRequest(ctx, cfg, http.MethodGet, p, nil, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// Upload отправляет мутацию. Идентификатор записи очереди передается как ключ идемпотентности.
func (c *Client) Upload(ctx context.Context, cfg sync.Config, rec *sync.SyncRecord) (*sync.RemoteResult, error) {
	resource, err := c.ResourceFor(rec.Table)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{"Idempotency-Key": rec.ID}
	item := resource + "/" + url.PathEscape(rec.RecordID)

	switch rec.Action {
	case sync.ActionCreate:
		return c.send(ctx, cfg, http.MethodPost, resource, rec.LocalData, headers)

	case sync.ActionUpdate:
		res, err := c.send(ctx, cfg, http.MethodPut, item, rec.LocalData, headers)
		if isStatus(err, http.StatusNotFound) {
			// на сервере записи нет: создаем
			c.log.Debug("update target missing remotely, creating", "table", rec.Table, "record_id", rec.RecordID)
			return c.send(ctx, cfg, http.MethodPost, resource, rec.LocalData, headers)
		}
		return res, err

	case sync.ActionDelete:
		res, err := c.send(ctx, cfg, http.MethodDelete, item, nil, headers)
		if isStatus(err, http.StatusNotFound) || isStatus(err, http.StatusGone) {
			return &sync.RemoteResult{StatusCode: http.StatusNotFound}, nil
		}
		return res, err
	}

	return nil, &sync.ValidationError{Field: "action", Message: fmt.Sprintf("unknown action %q", rec.Action)}
}

type changeDTO struct {
	Resource  string          `json:"resource"`
	RecordID  string          `json:"record_id"`
	Action    sync.Action     `json:"action"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type changesResponse struct {
	Changes    []changeDTO `json:"changes"`
	HasMore    bool        `json:"has_more"`
	ServerTime time.Time   `json:"server_time"`
}

// Download возвращает страницу изменений после since в порядке времени.
// Изменения, которые нельзя применить локально, возвращаются в Skipped.
func (c *Client) Download(ctx context.Context, cfg sync.Config, since time.Time, limit int) (*sync.ChangesPage, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}

	p := "/sync/changes"
	if len(q) > 0 {
		p += "?" + q.Encode()
	}

	resp, err := c.doRequest(ctx, cfg, http.MethodGet, p, nil, nil)
	if err != nil {
		return nil, err
	}

	var out changesResponse
	if err := c.parseResponse(resp, "download", &out); err != nil {
		return nil, err
	}

	page := &sync.ChangesPage{
		Changes: make([]sync.Change, 0, len(out.Changes)),
		HasMore: out.HasMore,
	}
	for _, ch := range out.Changes {
		table, ok := c.TableFor(ch.Resource)
		reason := ""
		switch {
		case !ok:
			reason = "unmapped resource"
		case !ch.Action.Valid():
			reason = fmt.Sprintf("unknown action %q", ch.Action)
		}
		if reason != "" {
			c.log.Warn("remote change skipped", "resource", ch.Resource, "record_id", ch.RecordID, "reason", reason)
			page.Skipped = append(page.Skipped, sync.SkippedChange{
				Resource:  ch.Resource,
				RecordID:  ch.RecordID,
				Action:    ch.Action,
				Reason:    reason,
				Timestamp: ch.Timestamp,
			})
			continue
		}
		page.Changes = append(page.Changes, sync.Change{
			Table:     table,
			RecordID:  ch.RecordID,
			Action:    ch.Action,
			Data:      ch.Data,
			Timestamp: ch.Timestamp,
		})
	}
	return page, nil
}

func (c *Client) send(ctx context.Context, cfg sync.Config, method, p string, body json.RawMessage, headers map[string]string) (*sync.RemoteResult, error) {
	var payload interface{}
	if body != nil {
		payload = body
	}

	resp, err := c.doRequest(ctx, cfg, method, p, payload, headers)
	if err != nil {
		return nil, err
	}

	var data json.RawMessage
	if err := c.parseResponse(resp, strings.ToLower(method)+" "+p, &data); err != nil {
		return nil, err
	}
	return &sync.RemoteResult{StatusCode: resp.StatusCode, Data: data}, nil
}

func (c *Client) doRequest(ctx context.Context, cfg sync.Config, method, p string, body interface{}, headers map[string]string) (*http.Response, error) {
	if !cfg.Authenticated() {
		return nil, sync.ErrUnauthenticated
	}
	if cfg.RemoteBaseURL == "" {
		return nil, &sync.ConfigurationError{Message: "remote base url is not configured"}
	}

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(cfg.RemoteBaseURL, "/")+p, reqBody)
	if err != nil {
		return nil, &sync.ConfigurationError{Message: fmt.Sprintf("failed to build request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	c.log.Debug("remote request", "method", method, "path", p)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &sync.TransportError{Op: method + " " + p, Err: err}
	}
	return resp, nil
}

// parseResponse разбирает ответ и переводит коды в типизированные ошибки
func (c *Client) parseResponse(resp *http.Response, op string, result interface{}) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &sync.TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	c.log.Debug("remote response", "op", op, "status", resp.StatusCode)

	if resp.StatusCode >= 400 {
		return classify(op, resp.StatusCode, errorMessage(body, resp.StatusCode))
	}

	if result != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return &sync.RemoteError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to parse response: %v", err)}
		}
	}
	return nil
}

func classify(op string, status int, msg string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &sync.AuthenticationError{StatusCode: status, Message: msg}
	case status == http.StatusConflict:
		return &sync.RemoteError{StatusCode: status, Message: msg, Err: sync.ErrConflictDetected}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return &sync.ValidationError{Message: fmt.Sprintf("%s: %s", op, msg)}
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return &sync.TransportError{Op: op, StatusCode: status, Err: errors.New(msg)}
	default:
		return &sync.RemoteError{StatusCode: status, Message: msg}
	}
}

// errorMessage достает текст ошибки из тела: {"error"}, {"detail"} или {"title"}
func errorMessage(body []byte, status int) string {
	var errResp struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
		Title  string `json:"title"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil {
		switch {
		case errResp.Error != "":
			return errResp.Error
		case errResp.Detail != "":
			return errResp.Detail
		case errResp.Title != "":
			return errResp.Title
		}
	}
	return http.StatusText(status)
}

func isStatus(err error, status int) bool {
	var re *sync.RemoteError
	return errors.As(err, &re) && re.StatusCode == status
}
