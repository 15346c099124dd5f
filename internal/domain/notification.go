package domain

import "time"

// AgentStatusChange — стабильная форма уведомления о смене статуса
type AgentStatusChange struct {
	AgentID        string                 `json:"agent_id"`
	Status         AgentStatus            `json:"status"`
	PreviousStatus AgentStatus            `json:"previous_status,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// AgentHealthChange — уведомление о новом снимке здоровья
type AgentHealthChange struct {
	AgentID string       `json:"agent_id"`
	Health  HealthStatus `json:"health"`
}
