package domain

import (
	"fmt"
	"time"
)

type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// HealthStatus — снимок одной проверки. Значение, а не указатель:
// потребитель никогда не видит "наполовину обновленную" структуру.
type HealthStatus struct {
	Status         HealthState            `json:"status"`
	LastCheck      time.Time              `json:"last_check"`
	ResponseTimeMs int64                  `json:"response_time_ms,omitempty"`
	Details        map[string]interface{} `json:"details,omitempty"`
	Error          string                 `json:"error,omitempty"`
}

// AgentStatus переводит здоровье в статус агента: healthy/degraded -> active, unhealthy -> error
func (h HealthStatus) AgentStatus() AgentStatus {
	if h.Status == HealthUnhealthy {
		return StatusError
	}
	return StatusActive
}

// HealthRecord — строка истории проверок (append-only)
type HealthRecord struct {
	ID      string `json:"id"`
	AgentID string `json:"agent_id"`
	HealthStatus
}

// Границы HealthCheckConfig
const (
	MinHealthInterval = 1 * time.Second
	MaxHealthInterval = 300 * time.Second
	MinHealthTimeout  = 1 * time.Second
	MaxHealthTimeout  = 60 * time.Second
	MaxHealthRetries  = 5
)

type HealthCheckConfig struct {
	Interval time.Duration `json:"interval" mapstructure:"interval"`
	Timeout  time.Duration `json:"timeout" mapstructure:"timeout"`
	Retries  int           `json:"retries" mapstructure:"retries"`
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
}

func DefaultHealthCheckConfig() HealthCheckConfig {
	return HealthCheckConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
		Retries:  3,
		Enabled:  true,
	}
}

// Validate отклоняет значения вне диапазона (без "подрезки")
func (c HealthCheckConfig) Validate() error {
	if c.Interval < MinHealthInterval || c.Interval > MaxHealthInterval {
		return fmt.Errorf("%w: interval must be between %v and %v, got %v",
			ErrInvalidHealthConfig, MinHealthInterval, MaxHealthInterval, c.Interval)
	}
	if c.Timeout < MinHealthTimeout || c.Timeout > MaxHealthTimeout {
		return fmt.Errorf("%w: timeout must be between %v and %v, got %v",
			ErrInvalidHealthConfig, MinHealthTimeout, MaxHealthTimeout, c.Timeout)
	}
	if c.Retries < 0 || c.Retries > MaxHealthRetries {
		return fmt.Errorf("%w: retries must be between 0 and %d, got %d",
			ErrInvalidHealthConfig, MaxHealthRetries, c.Retries)
	}
	return nil
}

// MonitoringStatus — состояние мониторинга одного агента для API
type MonitoringStatus struct {
	AgentID   string            `json:"agent_id"`
	Enabled   bool              `json:"enabled"`
	Config    HealthCheckConfig `json:"config"`
	LastCheck *time.Time        `json:"last_check,omitempty"`
}
