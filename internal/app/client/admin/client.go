package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/slog"

	connAPI "shopsync/internal/app/client/api/http/connection"
	healthAPI "shopsync/internal/app/client/api/http/health"
	syncAPI "shopsync/internal/app/client/api/http/sync"
	"shopsync/internal/domain/sync"
)

// Client клиент административного API запущенного демона
type Client struct {
	client    *http.Client
	log       *slog.Logger
	baseURL   string
	token     string
	userAgent string
}

// StatusError ответ API с кодом ошибки
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("ошибка сервера (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("ошибка сервера: статус %d", e.StatusCode)
}

// New создает клиент для адреса addr (host:port или URL)
func New(addr, token string, log *slog.Logger) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return &Client{
		// цикл синхронизации выполняется синхронно, поэтому таймаут с запасом
		client:    &http.Client{Timeout: 5 * time.Minute},
		log:       log,
		baseURL:   base,
		token:     token,
		userAgent: "ShopSync-CLI/1.0",
	}
}

func (c *Client) Health(ctx context.Context) (*healthAPI.Response, error) {
	var out healthAPI.Response
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Status(ctx context.Context) (*syncAPI.StatusResponse, error) {
	var out syncAPI.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/sync/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Run запускает цикл и ждет его завершения
func (c *Client) Run(ctx context.Context) (*sync.CycleResult, error) {
	var out sync.CycleResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/sync/run", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Queue(ctx context.Context, q sync.RecordQuery) ([]*sync.SyncRecord, error) {
	params := url.Values{}
	if q.Status != "" {
		params.Set("status", string(q.Status))
	}
	if q.Table != "" {
		params.Set("table", q.Table)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}

	var out []*sync.SyncRecord
	if err := c.do(ctx, http.MethodGet, withQuery("/api/v1/sync/queue", params), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Enqueue(ctx context.Context, req syncAPI.EnqueueRequest) (*syncAPI.EnqueueResponse, error) {
	var out syncAPI.EnqueueResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/sync/queue", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Retry(ctx context.Context, id string) (*syncAPI.EnqueueResponse, error) {
	var out syncAPI.EnqueueResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/sync/queue/"+url.PathEscape(id)+"/retry", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Purge(ctx context.Context, olderThanHours int) (int64, error) {
	params := url.Values{"older_than_hours": {strconv.Itoa(olderThanHours)}}

	var out syncAPI.PurgeResponse
	if err := c.do(ctx, http.MethodDelete, withQuery("/api/v1/sync/queue", params), nil, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

func (c *Client) Log(ctx context.Context, q sync.LogQuery) ([]*sync.SyncLogEntry, error) {
	params := url.Values{}
	if q.Direction != "" {
		params.Set("direction", string(q.Direction))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	var out []*sync.SyncLogEntry
	if err := c.do(ctx, http.MethodGet, withQuery("/api/v1/sync/log", params), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Config(ctx context.Context) (*sync.Config, error) {
	var out sync.Config
	if err := c.do(ctx, http.MethodGet, "/api/v1/sync/config", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateConfig(ctx context.Context, patch syncAPI.ConfigPatch) (*sync.Config, error) {
	var out sync.Config
	if err := c.do(ctx, http.MethodPatch, "/api/v1/sync/config", patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Conflicts(ctx context.Context, all bool) ([]*sync.SyncConflict, error) {
	p := "/api/v1/conflicts"
	if all {
		p += "?all=true"
	}

	var out []*sync.SyncConflict
	if err := c.do(ctx, http.MethodGet, p, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Resolve(ctx context.Context, id int64, req sync.ResolveRequest) (*sync.SyncConflict, error) {
	var out sync.SyncConflict
	p := "/api/v1/conflicts/" + strconv.FormatInt(id, 10) + "/resolve"
	if err := c.do(ctx, http.MethodPost, p, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Connection(ctx context.Context, refresh bool) (*connAPI.ConnectionStatusResponse, error) {
	p := "/api/v1/connection"
	if refresh {
		p += "?refresh=true"
	}

	var out connAPI.ConnectionStatusResponse
	if err := c.do(ctx, http.MethodGet, p, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Resume(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/connection/resume", nil, nil)
}

func (c *Client) Reconnect(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/connection/reconnect", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("ошибка маршалинга тела запроса: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("ошибка создания запроса: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.log.Debug("Отправка запроса", "method", method, "url", req.URL.String())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("демон недоступен (%s): %w", c.baseURL, err)
	}

	return c.parseResponse(resp, result)
}

func (c *Client) parseResponse(resp *http.Response, result interface{}) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	c.log.Debug("Получен ответ", "status", resp.StatusCode, "body", string(body))

	if resp.StatusCode >= 400 {
		// huma отвечает problem+json (detail), middleware авторизации {"error": ...}
		var errResp struct {
			Error  string `json:"error"`
			Detail string `json:"detail"`
		}
		_ = json.Unmarshal(body, &errResp)
		msg := errResp.Detail
		if msg == "" {
			msg = errResp.Error
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("ошибка парсинга ответа: %w", err)
		}
	}

	return nil
}

func withQuery(p string, params url.Values) string {
	if len(params) == 0 {
		return p
	}
	return p + "?" + params.Encode()
}
