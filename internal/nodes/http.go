package nodes

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/shaiso/conveyor/internal/domain"
)

const (
	// TypeHTTPRequest: тип HTTP узла.
	TypeHTTPRequest = "http-request"

	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 * 1024 * 1024 // 10 MB
)

// HTTPNode: узел HTTP запроса.
//
// Параметры:
//
//	{
//	    "method": "POST",
//	    "url": "https://api.example.com/items",
//	    "headers": {"Authorization": "Bearer {{credentials.token}}"},
//	    "query": {"page": "1"},
//	    "body": {"name": "{{input.name}}"},
//	    "validate_ssl": true,
//	    "max_attempts": 3,
//	    "retry_delay_ms": 1000,
//	    "backoff": "exponential"
//	}
//
// Если body не задан для POST/PUT/PATCH, отправляется вход узла.
// Настройки settings.retries имеют приоритет над параметрами повторов.
//
// Результат:
//
//	{"status_code": 200, "headers": {...}, "body": {...}}
type HTTPNode struct {
	// sleep позволяет тестам не ждать реальные задержки.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewHTTPNode создаёт HTTP узел.
func NewHTTPNode() *HTTPNode {
	return &HTTPNode{sleep: sleepContext}
}

// Type возвращает тип узла.
func (n *HTTPNode) Type() string {
	return TypeHTTPRequest
}

// Execute выполняет запрос с повторами.
// Возвращает первый успешный ответ или последнюю ошибку; Attempt содержит число попыток.
func (n *HTTPNode) Execute(ctx context.Context, req *Request) (*Response, error) {
	cfg, err := parseHTTPConfig(req)
	if err != nil {
		return nil, err
	}

	policy := n.retryPolicy(req)
	maxAttempts := policy.Attempts()

	var (
		data    map[string]any
		lastErr error
		attempt int
	)

	for attempt = 1; attempt <= maxAttempts; attempt++ {
		data, lastErr = n.do(ctx, cfg, req.Timeout)
		if lastErr == nil {
			return &Response{Data: data, Attempt: attempt}, nil
		}

		// Отмена выполнения: повторять бессмысленно
		if ctx.Err() != nil || attempt == maxAttempts {
			break
		}

		if err := n.sleep(ctx, policy.Delay(attempt)); err != nil {
			break
		}
	}

	if attempt > maxAttempts {
		attempt = maxAttempts
	}
	return &Response{Data: data, Attempt: attempt}, lastErr
}

// retryPolicy выбирает политику повторов: settings.retries, затем параметры узла.
func (n *HTTPNode) retryPolicy(req *Request) *domain.RetryPolicy {
	if req.Settings != nil && req.Settings.Retries != nil {
		return req.Settings.Retries
	}
	return &domain.RetryPolicy{
		MaxAttempts: GetInt(req.Params, "max_attempts"),
		Backoff:     GetString(req.Params, "backoff"),
		DelayMs:     GetInt(req.Params, "retry_delay_ms"),
	}
}

// do выполняет одну попытку.
func (n *HTTPNode) do(ctx context.Context, cfg *httpConfig, timeout time.Duration) (map[string]any, error) {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := cfg.build(attemptCtx)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := cfg.client().Do(httpReq)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: request exceeded %s", ErrTimeout, timeout)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := parseHTTPResponse(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return data, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return data, nil
}

// httpConfig: разобранные параметры HTTP узла.
type httpConfig struct {
	Method      string
	URL         string
	Headers     map[string]string
	Query       map[string]string
	Body        any
	ValidateSSL bool
}

func parseHTTPConfig(req *Request) (*httpConfig, error) {
	cfg := &httpConfig{
		Method:      strings.ToUpper(GetString(req.Params, "method")),
		URL:         GetString(req.Params, "url"),
		Headers:     GetStringMap(req.Params, "headers"),
		Query:       GetStringMap(req.Params, "query"),
		Body:        req.Params["body"],
		ValidateSSL: GetBool(req.Params, "validate_ssl", true),
	}

	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: %s: url is required", ErrInvalidParams, TypeHTTPRequest)
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}

	// Пустой шаблон тела: отправляем вход узла
	if cfg.Body == nil || cfg.Body == "" {
		switch cfg.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			if len(req.Input) > 0 {
				cfg.Body = req.Input
			} else {
				cfg.Body = nil
			}
		default:
			cfg.Body = nil
		}
	}

	return cfg, nil
}

func (c *httpConfig) client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !c.ValidateSSL},
		},
	}
}

func (c *httpConfig) build(ctx context.Context) (*http.Request, error) {
	target, err := url.Parse(c.URL)
	if err != nil {
		return nil, err
	}
	if len(c.Query) > 0 {
		q := target.Query()
		for k, v := range c.Query {
			q.Set(k, v)
		}
		target.RawQuery = q.Encode()
	}

	var body io.Reader
	if c.Body != nil {
		b, err := serializeBody(c.Body)
		if err != nil {
			return nil, fmt.Errorf("serialize body: %w", err)
		}
		body = bytes.NewReader(b)
		if _, ok := c.Headers["Content-Type"]; !ok {
			c.Headers["Content-Type"] = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, c.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func serializeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

func parseHTTPResponse(resp *http.Response) (map[string]any, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var body any = string(raw)
	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		var parsed any
		if err := json.Unmarshal(raw, &parsed); err == nil {
			body = parsed
		}
	}

	headers := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headers[strings.ToLower(key)] = resp.Header.Get(key)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        body,
	}, nil
}

// HTTPError: ответ с кодом >= 400.
type HTTPError struct {
	StatusCode int
	Status     string
}

// Error реализует интерфейс error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// sleepContext ждёт d или отмены ctx.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
