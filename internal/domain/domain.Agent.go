package domain

import "time"

type AgentStatus string

const (
	StatusActive      AgentStatus = "active"      // Агент включен и отрабатывает без сбоев
	StatusInactive    AgentStatus = "inactive"    // Выключен на стороне платформы
	StatusError       AgentStatus = "error"       // Сбоит (health-check или серия ошибок исполнения)
	StatusMaintenance AgentStatus = "maintenance" // Заблокирован на платформе (редактирование, lock)
)

// Valid проверяет, что статус входит в перечисление
func (s AgentStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusError, StatusMaintenance:
		return true
	}
	return false
}

// Agent — нормализованное представление сценария/воркфлоу внешней платформы.
type Agent struct {
	ID          string       `json:"id"`          // Внутренний UUID
	ExternalID  string       `json:"external_id"` // Нативный ID на платформе (строкой)
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	PlatformID  string       `json:"platform_id"`
	Platform    PlatformType `json:"platform_type"`
	Status      AgentStatus  `json:"status"`

	Capabilities  []string               `json:"capabilities"`
	Configuration map[string]interface{} `json:"configuration"`

	// Последний снимок здоровья (всегда заменяется целиком)
	HealthStatus HealthStatus `json:"health_status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AgentFilter — фильтр выборки для списка агентов
type AgentFilter struct {
	PlatformID string      `json:"platform_id,omitempty"`
	Status     AgentStatus `json:"status,omitempty"`
	Search     string      `json:"search,omitempty"` // Подстрока в имени
}

// AgentUpdate описывает частичное обновление агента (nil — поле не трогаем).
type AgentUpdate struct {
	Name          *string                `json:"name,omitempty"`
	Description   *string                `json:"description,omitempty"`
	Status        *AgentStatus           `json:"status,omitempty"`
	Capabilities  []string               `json:"capabilities,omitempty"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
}

// Apply накладывает изменения на копию агента
func (u AgentUpdate) Apply(a Agent) Agent {
	if u.Name != nil {
		a.Name = *u.Name
	}
	if u.Description != nil {
		a.Description = *u.Description
	}
	if u.Status != nil {
		a.Status = *u.Status
	}
	if u.Capabilities != nil {
		a.Capabilities = append([]string(nil), u.Capabilities...)
	}
	if u.Configuration != nil {
		a.Configuration = u.Configuration
	}
	return a
}
