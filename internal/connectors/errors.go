package connectors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/engine"
)

// ThrottleError — платформа ответила 429, RetryAfter прочитан из заголовка Retry-After
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// APIError — не-2xx ответ платформы
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status %d: %s", e.StatusCode, e.Message)
}

// ErrTokenExpired — access token истек, а обновить его нечем
var ErrTokenExpired = errors.New("access token expired, re-authentication required")

// ExtractErrorMessage — единая нормализация ошибок платформ в читаемую строку:
// HTTP статус + сообщение из тела, иначе код транспортной ошибки, иначе текст ошибки.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var tErr *ThrottleError
	if errors.As(err, &tErr) {
		return fmt.Sprintf("HTTP %d: rate limited, retry after %v", http.StatusTooManyRequests, tErr.RetryAfter)
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		return fmt.Sprintf("HTTP %d: %s", apiErr.StatusCode, msg)
	}

	if code := transportCode(err); code != "" {
		return fmt.Sprintf("%s: %s", code, err.Error())
	}

	if msg := err.Error(); msg != "" {
		return msg
	}
	return "unknown error"
}

func transportCode(err error) string {
	var netErr net.Error
	var dnsErr *net.DNSError

	switch {
	case errors.Is(err, engine.ErrBreakerOpen):
		return "" // Сообщение предохранителя и так понятное
	case errors.Is(err, syscall.ECONNREFUSED):
		return "ECONNREFUSED"
	case errors.Is(err, syscall.ECONNRESET):
		return "ECONNRESET"
	case errors.As(err, &dnsErr):
		return "ENOTFOUND"
	case errors.Is(err, context.DeadlineExceeded):
		return "ETIMEDOUT"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "ETIMEDOUT"
	}
	return ""
}

// isPlatformFailure решает, считается ли ошибка сбоем платформы для Circuit Breaker.
// Клиентские 4xx (кроме 408/429) — это проблема запроса, а не недоступность платформы.
func isPlatformFailure(err error) bool {
	if err == nil {
		return false
	}
	var tErr *ThrottleError
	if errors.As(err, &tErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusRequestTimeout {
			return false
		}
	}
	return true
}

func isStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}
