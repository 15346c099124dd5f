package audit

import "time"

// ExecutionEvent — запись журнала запусков агентов
type ExecutionEvent struct {
	ID          string                 `json:"id"`           // UUID события
	AgentID     string                 `json:"agent_id"`     // Внутренний ID агента
	ExternalID  string                 `json:"external_id"`  // ID на платформе
	PlatformID  string                 `json:"platform_id"`  // Где запускали
	ExecutionID string                 `json:"execution_id"` // ID запуска на платформе (если есть)
	Params      map[string]interface{} `json:"params"`       // С какими данными

	// Результат
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// ExecutionFilter — выборка журнала. Пустые поля не фильтруют.
type ExecutionFilter struct {
	AgentID    string
	PlatformID string
	Limit      int
}
