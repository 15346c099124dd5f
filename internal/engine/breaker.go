package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrBreakerOpen — быстрый отказ без обращения к платформе
var ErrBreakerOpen = errors.New("circuit breaker is open")

// Дефолты предохранителя
const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second
	DefaultMonitoringPeriod = 10 * time.Second
)

type BreakerSettings struct {
	Name             string
	FailureThreshold int           // Сколько ошибок подряд открывают предохранитель
	RecoveryTimeout  time.Duration // Сколько держим open перед пробным запросом
	MonitoringPeriod time.Duration // Только для статистики, не триггер

	// IsSuccessful решает, считать ли ошибку успехом (например, 404 — это не сбой платформы)
	IsSuccessful func(err error) bool
}

// BreakerStats — снимок для observability. Управляющих решений по нему не принимаем.
type BreakerStats struct {
	Name               string     `json:"name"`
	State              string     `json:"state"`
	FailureCount       int        `json:"failure_count"`
	LastFailure        *time.Time `json:"last_failure,omitempty"`
	FailureThreshold   int        `json:"failure_threshold"`
	RecoveryTimeoutMs  int64      `json:"recovery_timeout_ms"`
	MonitoringPeriodMs int64      `json:"monitoring_period_ms"`
}

// CircuitBreaker — один экземпляр на адаптер (не на вызов).
// closed -> open после FailureThreshold ошибок подряд, open -> half-open по RecoveryTimeout,
// в half-open пропускается ровно один пробный вызов.
type CircuitBreaker struct {
	cb       *gobreaker.CircuitBreaker
	settings BreakerSettings
	logger   *zap.Logger
	metrics  *Metrics

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
}

func NewCircuitBreaker(st BreakerSettings, metrics *Metrics, logger *zap.Logger) *CircuitBreaker {
	if st.FailureThreshold <= 0 {
		st.FailureThreshold = DefaultFailureThreshold
	}
	if st.RecoveryTimeout <= 0 {
		st.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if st.MonitoringPeriod <= 0 {
		st.MonitoringPeriod = DefaultMonitoringPeriod
	}
	if st.IsSuccessful == nil {
		st.IsSuccessful = func(err error) bool { return err == nil }
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &CircuitBreaker{
		settings: st,
		logger:   logger.With(zap.String("mod", "breaker"), zap.String("breaker", st.Name)),
		metrics:  metrics,
	}

	threshold := uint32(st.FailureThreshold)
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        st.Name,
		MaxRequests: 1,                  // В half-open — ровно одна проба
		Interval:    0,                  // Счетчики в closed не обнуляются по таймеру, только успехом
		Timeout:     st.RecoveryTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful:  st.IsSuccessful,
		OnStateChange: b.onStateChange,
	})

	metrics.CircuitBreakerState.WithLabelValues(st.Name).Set(stateValue(gobreaker.StateClosed))
	return b
}

// Execute прогоняет вызов через предохранитель.
// Отказ в open/half-open возвращается как ErrBreakerOpen, без вызова fn.
func (b *CircuitBreaker) Execute(fn func() error) error {
	called := false
	_, err := b.cb.Execute(func() (interface{}, error) {
		called = true
		return nil, fn()
	})

	if !called {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %s", ErrBreakerOpen, b.settings.Name)
		}
		return err
	}

	b.mu.Lock()
	if b.settings.IsSuccessful(err) {
		b.failures = 0
	} else {
		b.failures++
		b.lastFailure = time.Now()
	}
	b.mu.Unlock()

	return err
}

func (b *CircuitBreaker) State() string {
	return b.cb.State().String()
}

func (b *CircuitBreaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := BreakerStats{
		Name:               b.settings.Name,
		State:              b.cb.State().String(),
		FailureCount:       b.failures,
		FailureThreshold:   b.settings.FailureThreshold,
		RecoveryTimeoutMs:  b.settings.RecoveryTimeout.Milliseconds(),
		MonitoringPeriodMs: b.settings.MonitoringPeriod.Milliseconds(),
	}
	if !b.lastFailure.IsZero() {
		lf := b.lastFailure
		stats.LastFailure = &lf
	}
	return stats
}

func (b *CircuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	b.metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))

	if to == gobreaker.StateOpen {
		b.logger.Warn("circuit breaker opened",
			zap.String("from", from.String()),
			zap.Duration("recovery_timeout", b.settings.RecoveryTimeout))
		return
	}
	b.logger.Info("circuit breaker state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
