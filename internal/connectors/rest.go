package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/engine"
	"github.com/avast/retry-go/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	maxResponseBody   = 10 << 20
	defaultRetryAfter = time.Second
)

// request — описание одного HTTP вызова к платформе
type request struct {
	method string
	path   string // Относительный путь или абсолютный URL (webhook)
	query  url.Values
	body   interface{}
	form   url.Values

	skipAuth  bool // Не отправлять auth заголовки (webhook, token endpoint)
	skipHooks bool // Не вызывать beforeRequest/onUnauthorized (обмен токенов)
}

// restClient — общий HTTP клиент адаптеров: лимитер, предохранитель,
// одна повторная попытка после 429 и хуки для управления токенами.
type restClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *engine.CircuitBreaker
	logger  *zap.Logger

	mu      sync.RWMutex
	headers map[string]string

	// beforeRequest — проверка срока жизни токена перед каждым запросом
	beforeRequest func(ctx context.Context) error
	// onUnauthorized — платформа ответила 401, токены больше не годятся
	onUnauthorized func()
}

func newRESTClient(baseURL string, timeout time.Duration, breaker *engine.CircuitBreaker, deps Dependencies, logger *zap.Logger) *restClient {
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	// Копия, чтобы таймаут одного адаптера не протекал в общий клиент
	hc := *httpClient
	hc.Timeout = timeout

	rps := deps.Options.RateLimitRPS
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	return &restClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &hc,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		breaker: breaker,
		logger:  logger,
		headers: make(map[string]string),
	}
}

func (c *restClient) setHeader(key, value string) {
	c.mu.Lock()
	c.headers[key] = value
	c.mu.Unlock()
}

func (c *restClient) clearAuth() {
	c.mu.Lock()
	c.headers = make(map[string]string)
	c.mu.Unlock()
}

func (c *restClient) hasAuth() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.headers) > 0
}

func (c *restClient) setBaseURL(baseURL string) {
	c.mu.Lock()
	c.baseURL = strings.TrimRight(baseURL, "/")
	c.mu.Unlock()
}

func (c *restClient) setTimeout(timeout time.Duration) {
	c.mu.Lock()
	hc := *c.http
	hc.Timeout = timeout
	c.http = &hc
	c.mu.Unlock()
}

func (c *restClient) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.do(ctx, request{method: http.MethodGet, path: path, query: query}, out)
}

func (c *restClient) postJSON(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, request{method: http.MethodPost, path: path, body: body}, out)
}

// do — полный цикл вызова: хук токена -> предохранитель -> (лимитер -> HTTP) с одной паузой на 429.
func (c *restClient) do(ctx context.Context, req request, out interface{}) error {
	if !req.skipHooks && c.beforeRequest != nil {
		if err := c.beforeRequest(ctx); err != nil {
			return err
		}
	}

	return c.breaker.Execute(func() error {
		var lastErr error

		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(2), // Исходный запрос + один повтор после Retry-After
			retry.RetryIf(func(err error) bool {
				var tErr *ThrottleError
				return errors.As(err, &tErr)
			}),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				return 0
			}),
		)

		err := r.Do(func() error {
			lastErr = c.send(ctx, req, out)
			return lastErr
		})
		if lastErr != nil {
			return lastErr
		}
		return err
	})
}

func (c *restClient) send(ctx context.Context, req request, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return err
	}

	c.mu.RLock()
	client := c.http
	c.mu.RUnlock()

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.method, req.path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.logger.Warn("platform throttled request",
			zap.String("path", req.path),
			zap.Duration("retry_after", retryAfter))
		return &ThrottleError{RetryAfter: retryAfter, Cause: newAPIError(resp.StatusCode, body)}

	case resp.StatusCode == http.StatusUnauthorized:
		if !req.skipHooks && c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return newAPIError(resp.StatusCode, body)

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return newAPIError(resp.StatusCode, body)
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.path, err)
	}
	return nil
}

func (c *restClient) newRequest(ctx context.Context, req request) (*http.Request, error) {
	c.mu.RLock()
	target := req.path
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(target, "/")
	}
	headers := make(map[string]string, len(c.headers))
	if !req.skipAuth {
		for k, v := range c.headers {
			headers[k] = v
		}
	}
	c.mu.RUnlock()

	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case req.form != nil:
		body = strings.NewReader(req.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.body != nil:
		data, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

func newAPIError(status int, body []byte) *APIError {
	return &APIError{
		StatusCode: status,
		Message:    bodyMessage(body),
		Body:       string(body),
	}
}

// bodyMessage достает человекочитаемое сообщение из тела ошибки платформы
func bodyMessage(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(trimmed, &payload); err == nil {
		for _, key := range []string{"message", "error", "detail", "error_description"} {
			switch v := payload[key].(type) {
			case string:
				if v != "" {
					return v
				}
			case map[string]interface{}:
				if msg, ok := v["message"].(string); ok && msg != "" {
					return msg
				}
			}
		}
	}

	msg := string(trimmed)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// parseRetryAfter понимает и секунды, и HTTP-date
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return defaultRetryAfter
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
		return 0
	}
	return defaultRetryAfter
}

// flexID — идентификатор, который платформы отдают то числом, то строкой
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

func (f flexID) String() string { return string(f) }
