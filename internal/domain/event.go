package domain

import "time"

type EventType string

const (
	EventTaskCompleted      EventType = "task_completed"
	EventTaskFailed         EventType = "task_failed"
	EventErrorOccurred      EventType = "error_occurred"
	EventAgentStatusChanged EventType = "agent_status_changed"
)

// PlatformEvent — эфемерное событие платформы, раздается подписчикам и не сохраняется адаптером.
type PlatformEvent struct {
	Type       EventType              `json:"type"`
	AgentID    string                 `json:"agent_id"` // Нативный ID на платформе
	PlatformID string                 `json:"platform_id"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}
