package connectors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"github.com/akashrtd/cubcen-sub008/internal/engine"
	"github.com/stretchr/testify/assert"
)

func TestDetermineAgentStatus(t *testing.T) {
	tests := []struct {
		name   string
		locked bool
		active bool
		recent []bool
		want   domain.AgentStatus
	}{
		{"locked wins over everything", true, false, []bool{true, true, true}, domain.StatusMaintenance},
		{"inactive", false, false, nil, domain.StatusInactive},
		{"active without history", false, true, nil, domain.StatusActive},
		{"two errors of five", false, true, []bool{true, false, true, false, false}, domain.StatusActive},
		{"three errors of five", false, true, []bool{true, false, true, false, true}, domain.StatusError},
		{"errors outside window ignored", false, true, []bool{false, false, false, false, false, true, true, true}, domain.StatusActive},
		{"three errors in short history", false, true, []bool{true, true, true}, domain.StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetermineAgentStatus(tt.locked, tt.active, tt.recent))
		})
	}
}

func TestExtractErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"api error with message", &APIError{StatusCode: 403, Message: "forbidden scope"}, "HTTP 403: forbidden scope"},
		{"api error without message", &APIError{StatusCode: 502}, "HTTP 502: Bad Gateway"},
		{"wrapped api error", fmt.Errorf("list: %w", &APIError{StatusCode: 404, Message: "nope"}), "HTTP 404: nope"},
		{"throttled", &ThrottleError{RetryAfter: 2 * time.Second, Cause: &APIError{StatusCode: 429}}, "HTTP 429: rate limited, retry after 2s"},
		{"breaker open", fmt.Errorf("%w: make:p1", engine.ErrBreakerOpen), "circuit breaker is open: make:p1"},
		{"plain", errors.New("boom"), "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractErrorMessage(tt.err))
		})
	}
}

func TestExtractErrorMessageTransportCodes(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	assert.Contains(t, ExtractErrorMessage(fmt.Errorf("GET /x: %w", refused)), "ECONNREFUSED")

	assert.Contains(t, ExtractErrorMessage(fmt.Errorf("GET /x: %w", context.DeadlineExceeded)), "ETIMEDOUT")

	dns := &net.DNSError{Err: "no such host", Name: "make.invalid", IsNotFound: true}
	assert.Contains(t, ExtractErrorMessage(dns), "ENOTFOUND")
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, defaultRetryAfter, parseRetryAfter(""))
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("0"))
	assert.Equal(t, defaultRetryAfter, parseRetryAfter("soon"))

	future := time.Now().Add(10 * time.Second).UTC().Format(http.TimeFormat)
	d := parseRetryAfter(future)
	assert.Greater(t, d, 5*time.Second)
	assert.LessOrEqual(t, d, 10*time.Second)
}

func TestRunMetrics(t *testing.T) {
	now := time.Now()
	m, last := runMetrics([]runSample{
		{Errored: false, Duration: 100 * time.Millisecond, At: now},
		{Errored: true, Duration: 300 * time.Millisecond, At: now.Add(-time.Minute)},
		{Errored: false},
	})

	assert.Equal(t, 3, m.TotalExecutions)
	assert.Equal(t, 2, m.SuccessfulExecutions)
	assert.Equal(t, 1, m.FailedExecutions)
	assert.InDelta(t, 200.0, m.AverageExecutionTimeMs, 0.001)
	if assert.NotNil(t, last) {
		assert.True(t, last.Equal(now))
	}
}

func TestIsPlatformFailure(t *testing.T) {
	assert.False(t, isPlatformFailure(nil))
	assert.False(t, isPlatformFailure(&APIError{StatusCode: 404}))
	assert.False(t, isPlatformFailure(&APIError{StatusCode: 401}))
	assert.True(t, isPlatformFailure(&APIError{StatusCode: 408}))
	assert.True(t, isPlatformFailure(&ThrottleError{Cause: &APIError{StatusCode: 429}}))
	assert.True(t, isPlatformFailure(&APIError{StatusCode: 503}))
	assert.True(t, isPlatformFailure(errors.New("dial tcp: refused")))
}
