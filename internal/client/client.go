package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// InternalSecretHeader передаёт общий секрет межсервисных вызовов.
const InternalSecretHeader = "x-internal-service-secret"

const defaultTimeout = 5 * time.Second

// ServiceConfig описывает один downstream-сервис. Конфиг собирается на
// старте процесса; пустой BaseURL означает, что вызовы сервиса отключены.
type ServiceConfig struct {
	BaseURL  string
	BasePath string
	Timeout  time.Duration
	Secret   string
}

// DownstreamTimeoutError — downstream не ответил в срок (маппится в 504).
type DownstreamTimeoutError struct {
	Service string
	Err     error
}

func (e *DownstreamTimeoutError) Error() string {
	return fmt.Sprintf("downstream %s timed out: %v", e.Service, e.Err)
}

func (e *DownstreamTimeoutError) Unwrap() error {
	return e.Err
}

// DownstreamAbortError — вызов прерван или downstream ответил ошибкой
// (маппится в 502).
type DownstreamAbortError struct {
	Service string
	Status  int
	Err     error
}

func (e *DownstreamAbortError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("downstream %s responded %d", e.Service, e.Status)
	}
	return fmt.Sprintf("downstream %s aborted: %v", e.Service, e.Err)
}

func (e *DownstreamAbortError) Unwrap() error {
	return e.Err
}

// httpClient — общий транспорт внутренних вызовов: дедлайн на запрос,
// секретный заголовок, JSON-тела, разделение timeout/abort ошибок.
type httpClient struct {
	service string
	cfg     ServiceConfig
	http    *http.Client
	logger  *log.Entry
}

func newHTTPClient(service string, cfg ServiceConfig) *httpClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	cfg.Timeout = timeout

	return &httpClient{
		service: service,
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		logger:  log.WithField("component", service+"-client"),
	}
}

func (c *httpClient) enabled() bool {
	return c.cfg.BaseURL != ""
}

func (c *httpClient) url(path string) string {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	prefix := strings.Trim(c.cfg.BasePath, "/")
	if prefix != "" {
		return base + "/" + prefix + path
	}
	return base + path
}

// postJSON выполняет POST с дедлайном и разбирает ответ в out (если не nil).
// Любой не-2xx статус — жёсткая ошибка вызова.
func (c *httpClient) postJSON(ctx context.Context, path, idempotencyKey string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", c.service, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.url(path), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", c.service, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Secret != "" {
		req.Header.Set(InternalSecretHeader, c.cfg.Secret)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || reqCtx.Err() == context.DeadlineExceeded {
			return &DownstreamTimeoutError{Service: c.service, Err: err}
		}
		return &DownstreamAbortError{Service: c.service, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &DownstreamAbortError{Service: c.service, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.WithFields(log.Fields{
			"status": resp.StatusCode,
			"path":   path,
		}).Warn("downstream call failed")
		return &DownstreamAbortError{Service: c.service, Status: resp.StatusCode}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return &DownstreamAbortError{Service: c.service, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}
