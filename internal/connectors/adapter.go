package connectors

import (
	"context"
	"net/http"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"github.com/akashrtd/cubcen-sub008/internal/engine"
	"go.uber.org/zap"
)

// EventCallback получает события платформы. Вызывается синхронно из цикла опроса.
type EventCallback func(event domain.PlatformEvent)

// SubscriptionID идентифицирует подписку (функции в Go не сравниваются)
type SubscriptionID uint64

// PlatformAdapter — единый контракт интеграции с платформой автоматизации.
// Статусные вызовы (HealthCheck, GetAgentStatus) никогда не возвращают ошибку:
// сбой закодирован в самом значении.
type PlatformAdapter interface {
	ID() string
	Type() domain.PlatformType
	Config() domain.PlatformConfig
	UpdateConfig(update domain.PlatformConfig) error
	IsConnected() bool
	LastError() string

	// Authenticate возвращает error только при программной ошибке (nil credentials)
	Authenticate(ctx context.Context, creds domain.Credentials) (domain.AuthResult, error)
	// DiscoverAgents падает целиком, если упал листинг на платформе
	DiscoverAgents(ctx context.Context) ([]domain.Agent, error)
	GetAgentStatus(ctx context.Context, externalID string) domain.AgentStatusReport
	ExecuteAgent(ctx context.Context, externalID string, params map[string]interface{}) domain.ExecutionResult

	SubscribeToEvents(cb EventCallback) SubscriptionID
	UnsubscribeFromEvents(id SubscriptionID)

	HealthCheck(ctx context.Context) domain.HealthStatus
	Connect(ctx context.Context) domain.ConnectionStatus
	Disconnect(ctx context.Context) error

	BreakerStats() engine.BreakerStats
}

// Дефолты адаптеров
const (
	DefaultRequestTimeout        = 30 * time.Second
	DefaultRateLimitRPS          = 10
	DefaultEventPollInterval     = 30 * time.Second
	DefaultExecutionPollInterval = 2 * time.Second
	DefaultExecutionMaxWait      = 5 * time.Minute
	DefaultTokenLifetime         = time.Hour // Если платформа не сообщила срок жизни токена
	DefaultDegradedLatency       = 2 * time.Second
)

// Options — общие настройки адаптеров (из секции adapters конфига)
type Options struct {
	RequestTimeout          time.Duration `mapstructure:"request_timeout"`
	RateLimitRPS            float64       `mapstructure:"rate_limit_rps"`
	EventPollInterval       time.Duration `mapstructure:"event_poll_interval"`
	ExecutionPollInterval   time.Duration `mapstructure:"execution_poll_interval"`
	ExecutionMaxWait        time.Duration `mapstructure:"execution_max_wait"`
	BreakerThreshold        int           `mapstructure:"breaker_threshold"`
	BreakerRecoveryTimeout  time.Duration `mapstructure:"breaker_recovery_timeout"`
	BreakerMonitoringPeriod time.Duration `mapstructure:"breaker_monitoring_period"`
	TokenLifetime           time.Duration `mapstructure:"token_lifetime"`
	DegradedLatency         time.Duration `mapstructure:"degraded_latency"`
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.RateLimitRPS <= 0 {
		o.RateLimitRPS = DefaultRateLimitRPS
	}
	if o.EventPollInterval <= 0 {
		o.EventPollInterval = DefaultEventPollInterval
	}
	if o.ExecutionPollInterval <= 0 {
		o.ExecutionPollInterval = DefaultExecutionPollInterval
	}
	if o.ExecutionMaxWait <= 0 {
		o.ExecutionMaxWait = DefaultExecutionMaxWait
	}
	if o.BreakerThreshold <= 0 {
		o.BreakerThreshold = engine.DefaultFailureThreshold
	}
	if o.BreakerRecoveryTimeout <= 0 {
		o.BreakerRecoveryTimeout = engine.DefaultRecoveryTimeout
	}
	if o.BreakerMonitoringPeriod <= 0 {
		o.BreakerMonitoringPeriod = engine.DefaultMonitoringPeriod
	}
	if o.TokenLifetime <= 0 {
		o.TokenLifetime = DefaultTokenLifetime
	}
	if o.DegradedLatency <= 0 {
		o.DegradedLatency = DefaultDegradedLatency
	}
	return o
}

// Dependencies — то, что менеджер прокидывает в каждый адаптер
type Dependencies struct {
	Logger     *zap.Logger
	Metrics    *engine.Metrics
	Options    Options
	HTTPClient *http.Client // Опционально: свой транспорт (тесты, прокси)
}

func (d Dependencies) normalize() Dependencies {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = engine.NewMetrics(nil)
	}
	d.Options = d.Options.withDefaults()
	return d
}

// Factory создает адаптер нужного типа из конфигурации
type Factory func(cfg domain.PlatformConfig, deps Dependencies) (PlatformAdapter, error)
