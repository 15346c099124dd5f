package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/audit"
	"github.com/akashrtd/cubcen-sub008/internal/connectors"
	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации сервиса.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Monitoring    MonitoringConfig    `mapstructure:"monitoring"`
	Discovery     DiscoveryConfig     `mapstructure:"discovery"`
	Adapters      connectors.Options  `mapstructure:"adapters"`
	Audit         audit.Options       `mapstructure:"audit"`
	Logger        LoggerConfig        `mapstructure:"logger"`
	Notifications NotificationsConfig `mapstructure:"notifications"`

	// PlatformsFile — YAML со списком платформ и их учетными данными
	PlatformsFile string `mapstructure:"platforms_file"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig: driver postgres или memory (тесты, локальный запуск).
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	URL             string        `mapstructure:"url"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// RedisConfig — Pub/Sub уведомлений, сигналы мониторинга и блокировки discovery.
// Пустой Addr выключает все, что завязано на Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и операторов Console API.
// Без публичного ключа API работает без аутентификации.
type AuthConfig struct {
	PublicKeyPath  string           `mapstructure:"public_key_path"`
	PrivateKeyPath string           `mapstructure:"private_key_path"`
	TokenTTL       time.Duration    `mapstructure:"token_ttl"`
	Operators      []OperatorConfig `mapstructure:"operators"`
	PublicKey      []byte
	PrivateKey     []byte
}

// OperatorConfig — scopes списком: ключи с точкой ("agents.write") viper разобрал бы как вложенность
type OperatorConfig struct {
	ID           string   `mapstructure:"id"`
	Username     string   `mapstructure:"username"`
	PasswordHash string   `mapstructure:"password_hash"`
	Scopes       []string `mapstructure:"scopes"`
}

func (a AuthConfig) DomainOperators() []domain.Operator {
	ops := make([]domain.Operator, 0, len(a.Operators))
	for _, o := range a.Operators {
		scopes := make(map[string]bool, len(o.Scopes))
		for _, s := range o.Scopes {
			scopes[s] = true
		}
		ops = append(ops, domain.Operator{ID: o.ID, Username: o.Username, PasswordHash: o.PasswordHash, Scopes: scopes})
	}
	return ops
}

// MonitoringConfig — настройка мониторинга по умолчанию для всех агентов
type MonitoringConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Retries   int           `mapstructure:"retries"`
	Enabled   bool          `mapstructure:"enabled"`
	Autostart bool          `mapstructure:"autostart"` // Запустить мониторинг всех агентов при старте
}

func (m MonitoringConfig) HealthCheck() domain.HealthCheckConfig {
	return domain.HealthCheckConfig{
		Interval: m.Interval,
		Timeout:  m.Timeout,
		Retries:  m.Retries,
		Enabled:  m.Enabled,
	}
}

type DiscoveryConfig struct {
	OnStartup bool          `mapstructure:"on_startup"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
}

type NotificationsConfig struct {
	Redis            bool `mapstructure:"redis"`
	WebSocket        bool `mapstructure:"websocket"`
	MaxWSConnections int  `mapstructure:"max_ws_connections"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig ищет config.yaml в . и ./configs, перекрывая значения из ENV.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom("")
}

// LoadConfigFrom читает конкретный файл (пустой путь — поиск по умолчанию).
func LoadConfigFrom(path string) (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// 2. ENV: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Monitoring.HealthCheck().Validate(); err != nil {
		return nil, fmt.Errorf("monitoring: %w", err)
	}
	switch cfg.Database.Driver {
	case "postgres", "memory":
	default:
		return nil, fmt.Errorf("database.driver must be postgres or memory, got %q", cfg.Database.Driver)
	}
	if cfg.Database.Driver == "postgres" && cfg.Database.URL == "" {
		return nil, errors.New("database.url is required for the postgres driver")
	}

	// 6. Ключи: PEM прямо в ENV (Docker/K8s) или файл по пути
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 6*time.Minute) // ExecuteAgent ждет до execution_max_wait
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", time.Hour)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.public_key_path", "")
	v.SetDefault("auth.private_key_path", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	def := domain.DefaultHealthCheckConfig()
	v.SetDefault("monitoring.interval", def.Interval)
	v.SetDefault("monitoring.timeout", def.Timeout)
	v.SetDefault("monitoring.retries", def.Retries)
	v.SetDefault("monitoring.enabled", def.Enabled)
	v.SetDefault("monitoring.autostart", false)

	v.SetDefault("discovery.on_startup", false)
	v.SetDefault("discovery.lock_ttl", 2*time.Minute)

	v.SetDefault("adapters.request_timeout", connectors.DefaultRequestTimeout)
	v.SetDefault("adapters.rate_limit_rps", connectors.DefaultRateLimitRPS)
	v.SetDefault("adapters.event_poll_interval", connectors.DefaultEventPollInterval)
	v.SetDefault("adapters.execution_poll_interval", connectors.DefaultExecutionPollInterval)
	v.SetDefault("adapters.execution_max_wait", connectors.DefaultExecutionMaxWait)
	v.SetDefault("adapters.breaker_threshold", 5)
	v.SetDefault("adapters.breaker_recovery_timeout", 60*time.Second)
	v.SetDefault("adapters.breaker_monitoring_period", 10*time.Second)
	v.SetDefault("adapters.token_lifetime", connectors.DefaultTokenLifetime)
	v.SetDefault("adapters.degraded_latency", connectors.DefaultDegradedLatency)

	v.SetDefault("audit.buffer_size", audit.DefaultBufferSize)
	v.SetDefault("audit.batch_size", audit.DefaultBatchSize)
	v.SetDefault("audit.flush_interval", audit.DefaultFlushInterval)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("notifications.redis", true)
	v.SetDefault("notifications.websocket", true)
	v.SetDefault("notifications.max_ws_connections", 200)

	v.SetDefault("platforms_file", "")
}

// loadKeyResource: сначала ENV с самим ключом, потом файл
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
