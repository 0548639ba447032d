// Package backend - REST клиент бэкенда справочников и пар.
//
// Коллекции: /instruments, /accounts, /pairs, /columns, /settings.
// Ошибки HTTP приводятся к ErrNotFound, ErrConflict, ErrDuplicate
// или *StatusError; сетевые ошибки - к ErrUnavailable.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"pairarb/internal/models"
	"pairarb/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrNotFound    = errors.New("not found on backend")
	ErrConflict    = errors.New("modified concurrently on backend")
	ErrDuplicate   = errors.New("natural key already exists on backend")
	ErrUnavailable = errors.New("backend unavailable")
)

// Пути коллекций
const (
	PathInstruments = "/instruments"
	PathAccounts    = "/accounts"
	PathPairs       = "/pairs"
	PathColumns     = "/columns"
	PathSettings    = "/settings"
)

// Коды ошибок в теле ответа 409
const (
	CodeConflict  = "conflict"
	CodeDuplicate = "duplicate"
)

// HeaderIfUnmodifiedSince - заголовок оптимистичной блокировки пар
const HeaderIfUnmodifiedSince = "If-Unmodified-Since"

// errorBody - тело ответа с ошибкой
type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// StatusError - неуспешный HTTP ответ бэкенда
type StatusError struct {
	Method  string
	Path    string
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, msg)
}

// Unwrap сопоставляет статус с ошибкой пакета
func (e *StatusError) Unwrap() error {
	switch {
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status == http.StatusConflict && e.Code == CodeDuplicate:
		return ErrDuplicate
	case e.Status == http.StatusConflict:
		return ErrConflict
	case e.Status >= 500:
		return ErrUnavailable
	default:
		return nil
	}
}

// Retryable - повторять имеет смысл только ответы 5xx
func (e *StatusError) Retryable() bool {
	return e.Status >= 500
}

// Config - параметры клиента
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	ConnectTimeout time.Duration
}

// Client - клиент бэкенда
type Client struct {
	base string
	http *http.Client
	log  *utils.Logger
}

// New создаёт клиент
func New(cfg Config, logger *utils.Logger) *Client {
	if logger == nil {
		logger = utils.L()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.Timeout,
	}

	return &Client{
		base: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		log:  logger.WithComponent("backend"),
	}
}

// ============================================================
// Инструменты
// ============================================================

func (c *Client) ListInstruments(ctx context.Context) ([]models.Instrument, error) {
	return list[models.Instrument](ctx, c, PathInstruments)
}

func (c *Client) CreateInstrument(ctx context.Context, in models.Instrument) (models.Instrument, error) {
	in.ID = 0
	return send[models.Instrument](ctx, c, http.MethodPost, PathInstruments, in, time.Time{})
}

func (c *Client) UpdateInstrument(ctx context.Context, id int64, in models.Instrument) (models.Instrument, error) {
	return send[models.Instrument](ctx, c, http.MethodPatch, itemPath(PathInstruments, id), in, time.Time{})
}

func (c *Client) DeleteInstrument(ctx context.Context, id int64) error {
	return c.delete(ctx, itemPath(PathInstruments, id), time.Time{})
}

// ============================================================
// Счета
// ============================================================

func (c *Client) ListAccounts(ctx context.Context) ([]models.Account, error) {
	return list[models.Account](ctx, c, PathAccounts)
}

func (c *Client) CreateAccount(ctx context.Context, in models.Account) (models.Account, error) {
	in.ID = 0
	return send[models.Account](ctx, c, http.MethodPost, PathAccounts, in, time.Time{})
}

func (c *Client) UpdateAccount(ctx context.Context, id int64, in models.Account) (models.Account, error) {
	return send[models.Account](ctx, c, http.MethodPatch, itemPath(PathAccounts, id), in, time.Time{})
}

func (c *Client) DeleteAccount(ctx context.Context, id int64) error {
	return c.delete(ctx, itemPath(PathAccounts, id), time.Time{})
}

// ============================================================
// Пары
// ============================================================

func (c *Client) ListPairs(ctx context.Context) ([]models.PairRecord, error) {
	return list[models.PairRecord](ctx, c, PathPairs)
}

func (c *Client) CreatePair(ctx context.Context, in models.PairRecord) (models.PairRecord, error) {
	in.ID = 0
	return send[models.PairRecord](ctx, c, http.MethodPost, PathPairs, in, time.Time{})
}

// UpdatePair отправляет текущие значения пары. lastKnown - updated_at,
// известный клиенту; если запись на бэкенде новее, вернётся ErrConflict.
func (c *Client) UpdatePair(ctx context.Context, id int64, in models.PairRecord, lastKnown time.Time) (models.PairRecord, error) {
	in.ID = 0
	return send[models.PairRecord](ctx, c, http.MethodPatch, itemPath(PathPairs, id), in, lastKnown)
}

func (c *Client) DeletePair(ctx context.Context, id int64, lastKnown time.Time) error {
	return c.delete(ctx, itemPath(PathPairs, id), lastKnown)
}

// ============================================================
// Колонки и настройки
// ============================================================

func (c *Client) ListColumns(ctx context.Context) ([]models.Column, error) {
	return list[models.Column](ctx, c, PathColumns)
}

func (c *Client) CreateColumn(ctx context.Context, in models.Column) (models.Column, error) {
	in.ID = 0
	return send[models.Column](ctx, c, http.MethodPost, PathColumns, in, time.Time{})
}

func (c *Client) UpdateColumn(ctx context.Context, id int64, in models.Column) (models.Column, error) {
	return send[models.Column](ctx, c, http.MethodPatch, itemPath(PathColumns, id), in, time.Time{})
}

func (c *Client) DeleteColumn(ctx context.Context, id int64) error {
	return c.delete(ctx, itemPath(PathColumns, id), time.Time{})
}

func (c *Client) ListSettings(ctx context.Context) ([]models.Setting, error) {
	return list[models.Setting](ctx, c, PathSettings)
}

func (c *Client) CreateSetting(ctx context.Context, in models.Setting) (models.Setting, error) {
	in.ID = 0
	return send[models.Setting](ctx, c, http.MethodPost, PathSettings, in, time.Time{})
}

func (c *Client) UpdateSetting(ctx context.Context, id int64, in models.Setting) (models.Setting, error) {
	return send[models.Setting](ctx, c, http.MethodPatch, itemPath(PathSettings, id), in, time.Time{})
}

func (c *Client) DeleteSetting(ctx context.Context, id int64) error {
	return c.delete(ctx, itemPath(PathSettings, id), time.Time{})
}

// ============================================================
// HTTP
// ============================================================

func itemPath(collection string, id int64) string {
	return fmt.Sprintf("%s/%d", collection, id)
}

func list[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var out []T
	if err := c.do(ctx, http.MethodGet, path, nil, time.Time{}, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

func send[T any](ctx context.Context, c *Client, method, path string, body T, lastKnown time.Time) (T, error) {
	var out T
	err := c.do(ctx, method, path, body, lastKnown, &out)
	return out, err
}

func (c *Client) delete(ctx context.Context, path string, lastKnown time.Time) error {
	return c.do(ctx, http.MethodDelete, path, nil, lastKnown, nil)
}

// do выполняет запрос и разбирает ответ в out (если out != nil)
func (c *Client) do(ctx context.Context, method, path string, body interface{}, lastKnown time.Time, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !lastKnown.IsZero() {
		req.Header.Set(HeaderIfUnmodifiedSince, lastKnown.UTC().Format(time.RFC3339Nano))
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s %s: %v", ErrUnavailable, method, path, err)
	}

	c.log.Debug("backend request",
		utils.String("method", method), utils.String("path", path),
		utils.Int("status", resp.StatusCode), utils.Latency(float64(time.Since(start).Microseconds())/1000))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{Method: method, Path: path, Status: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil {
			se.Code = eb.Code
			se.Message = eb.Error
			if eb.Details != "" {
				se.Message += ": " + eb.Details
			}
		}
		return se
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
