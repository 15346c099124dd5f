package connectors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"github.com/akashrtd/cubcen-sub008/internal/engine"
	"go.uber.org/zap"
)

// Poller — один проход опроса платформы: события с прошлого прохода
type Poller func(ctx context.Context) ([]domain.PlatformEvent, error)

type subscription struct {
	id SubscriptionID
	cb EventCallback
}

// BaseAdapter — общее состояние адаптеров. Конкретные адаптеры встраивают его.
type BaseAdapter struct {
	mu            sync.RWMutex
	config        domain.PlatformConfig
	connected     bool
	lastError     string
	lastConnected time.Time

	subsMu     sync.Mutex
	subs       []subscription
	nextSubID  SubscriptionID
	poller     Poller
	pollEvery  time.Duration
	pollCancel context.CancelFunc
	pollDone   chan struct{}

	logger  *zap.Logger
	metrics *engine.Metrics
}

func NewBaseAdapter(cfg domain.PlatformConfig, deps Dependencies) *BaseAdapter {
	deps = deps.normalize()
	return &BaseAdapter{
		config:    cfg,
		pollEvery: deps.Options.EventPollInterval,
		logger: deps.Logger.Named("adapter").With(
			zap.String("platform_id", cfg.ID),
			zap.String("platform_type", string(cfg.Type))),
		metrics: deps.Metrics,
	}
}

func (b *BaseAdapter) ID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config.ID
}

func (b *BaseAdapter) Type() domain.PlatformType {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config.Type
}

func (b *BaseAdapter) Config() domain.PlatformConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config
}

// UpdateConfig — поверхностное слияние, ID и тип платформы поменять нельзя
func (b *BaseAdapter) UpdateConfig(update domain.PlatformConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if update.ID != "" && update.ID != b.config.ID {
		return fmt.Errorf("%w: platform id cannot be changed", domain.ErrInvalidConfig)
	}
	if update.Type != "" && update.Type != b.config.Type {
		return fmt.Errorf("%w: platform type cannot be changed", domain.ErrInvalidConfig)
	}

	merged := b.config.Merge(update)
	if err := merged.Validate(); err != nil {
		return err
	}
	b.config = merged
	return nil
}

// ValidateConfig — базовые обязательные поля. Адаптеры вызывают его первым.
func (b *BaseAdapter) ValidateConfig() error {
	return b.Config().Validate()
}

func (b *BaseAdapter) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

func (b *BaseAdapter) SetConnected(connected bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = connected
	if connected {
		b.lastConnected = time.Now()
		b.lastError = ""
	}
}

func (b *BaseAdapter) LastError() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastError
}

func (b *BaseAdapter) SetLastError(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastError = msg
}

// Logger — логгер адаптера с полями платформы
func (b *BaseAdapter) Logger() *zap.Logger { return b.logger }

// AddEventCallback регистрирует callback без запуска опроса
func (b *BaseAdapter) AddEventCallback(cb EventCallback) SubscriptionID {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	return b.addLocked(cb)
}

func (b *BaseAdapter) addLocked(cb EventCallback) SubscriptionID {
	b.nextSubID++
	b.subs = append(b.subs, subscription{id: b.nextSubID, cb: cb})
	return b.nextSubID
}

// RemoveEventCallback — no-op, если подписки нет
func (b *BaseAdapter) RemoveEventCallback(id SubscriptionID) bool {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	return b.removeLocked(id)
}

func (b *BaseAdapter) removeLocked(id SubscriptionID) bool {
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (b *BaseAdapter) CallbackCount() int {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	return len(b.subs)
}

// SetPoller задает функцию опроса платформы. Без нее подписка только регистрирует callback.
func (b *BaseAdapter) SetPoller(p Poller, every time.Duration) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	b.poller = p
	if every > 0 {
		b.pollEvery = every
	}
}

// SubscribeToEvents — первая подписка запускает цикл опроса
func (b *BaseAdapter) SubscribeToEvents(cb EventCallback) SubscriptionID {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	id := b.addLocked(cb)
	if b.poller != nil && b.pollCancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		b.pollCancel = cancel
		b.pollDone = done
		go b.pollLoop(ctx, b.poller, b.pollEvery, done)
		b.logger.Info("event polling started", zap.Duration("interval", b.pollEvery))
	}
	return id
}

// UnsubscribeFromEvents — цикл живет, пока есть хотя бы одна подписка
func (b *BaseAdapter) UnsubscribeFromEvents(id SubscriptionID) {
	b.subsMu.Lock()
	b.removeLocked(id)
	empty := len(b.subs) == 0
	b.subsMu.Unlock()

	// Не ждем: отписка может прийти из callback внутри самого цикла
	if empty {
		b.stopPolling(false)
	}
}

// StopPolling останавливает цикл опроса и ждет его завершения.
// Ждем без subsMu: Emit из цикла сам берет этот мьютекс.
func (b *BaseAdapter) StopPolling() {
	b.stopPolling(true)
}

func (b *BaseAdapter) stopPolling(wait bool) {
	b.subsMu.Lock()
	cancel, done := b.pollCancel, b.pollDone
	b.pollCancel, b.pollDone = nil, nil
	b.subsMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if wait {
		<-done
	}
	b.logger.Info("event polling stopped")
}

// IsPolling — запущен ли цикл опроса
func (b *BaseAdapter) IsPolling() bool {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	return b.pollCancel != nil
}

func (b *BaseAdapter) pollLoop(ctx context.Context, poll Poller, every time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			events, err := poll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				msg := ExtractErrorMessage(err)
				b.SetLastError(msg)
				b.logger.Warn("event poll failed", zap.String("error", msg))
				continue
			}
			for _, ev := range events {
				if ctx.Err() != nil {
					return
				}
				b.Emit(ev)
			}
		}
	}
}

// Emit — синхронная раздача события всем подписчикам по порядку.
// Паника одного callback не мешает остальным.
func (b *BaseAdapter) Emit(event domain.PlatformEvent) {
	if event.PlatformID == "" {
		event.PlatformID = b.ID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.subsMu.Lock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.subsMu.Unlock()

	b.metrics.PlatformEvents.WithLabelValues(event.PlatformID, string(event.Type)).Inc()

	for _, s := range subs {
		b.deliver(s, event)
	}
}

func (b *BaseAdapter) deliver(s subscription, event domain.PlatformEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event callback panicked",
				zap.Uint64("subscription", uint64(s.id)),
				zap.String("event_type", string(event.Type)),
				zap.Any("panic", r))
		}
	}()
	s.cb(event)
}

// connect — общий сценарий Connect: аутентификация (если есть учетные данные) и health-check.
func (b *BaseAdapter) connect(
	ctx context.Context,
	authenticate func(ctx context.Context, creds domain.Credentials) (domain.AuthResult, error),
	healthCheck func(ctx context.Context) domain.HealthStatus,
) domain.ConnectionStatus {
	fail := func(msg string) domain.ConnectionStatus {
		b.mu.Lock()
		b.connected = false
		b.lastError = msg
		b.mu.Unlock()
		b.logger.Warn("platform connect failed", zap.String("error", msg))
		return domain.ConnectionStatus{Connected: false, Error: msg}
	}

	if creds := b.Config().Credentials; creds != nil {
		res, err := authenticate(ctx, creds)
		if err != nil {
			return fail(err.Error())
		}
		if !res.Success {
			return fail(res.Error)
		}
	}

	health := healthCheck(ctx)
	if health.Status == domain.HealthUnhealthy {
		return fail(health.Error)
	}

	b.SetConnected(true)
	b.mu.RLock()
	at := b.lastConnected
	b.mu.RUnlock()

	b.logger.Info("platform connected", zap.Int64("response_time_ms", health.ResponseTimeMs))
	return domain.ConnectionStatus{Connected: true, LastConnected: &at}
}

// disconnect — общий сценарий Disconnect: стоп опроса и сброс флага
func (b *BaseAdapter) disconnect() {
	b.StopPolling()
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
	b.logger.Info("platform disconnected")
}
