package domain

import "time"

// ExecutionResult — результат запуска агента. Время меряется от начала вызова при любом исходе.
type ExecutionResult struct {
	Success         bool                   `json:"success"`
	ExecutionID     string                 `json:"execution_id,omitempty"`
	Data            map[string]interface{} `json:"data,omitempty"`
	Error           string                 `json:"error,omitempty"`
	ExecutionTimeMs int64                  `json:"execution_time_ms"`
	Timestamp       time.Time              `json:"timestamp"`
}

type AgentMetrics struct {
	TotalExecutions        int     `json:"total_executions"`
	SuccessfulExecutions   int     `json:"successful_executions"`
	FailedExecutions       int     `json:"failed_executions"`
	AverageExecutionTimeMs float64 `json:"average_execution_time_ms"`
}

// AgentStatusReport — живой статус агента на платформе.
// При сбое запроса адаптер возвращает Status=error и нулевые метрики, а не ошибку.
type AgentStatusReport struct {
	AgentID string       `json:"agent_id"`
	Status  AgentStatus  `json:"status"`
	LastRun *time.Time   `json:"last_run,omitempty"`
	Metrics AgentMetrics `json:"metrics"`
	Error   string       `json:"error,omitempty"`
}

// DiscoveryResult — отчет о сверке агентов с платформами (не сохраняется)
type DiscoveryResult struct {
	Discovered int      `json:"discovered"`
	Registered int      `json:"registered"`
	Updated    int      `json:"updated"`
	Errors     []string `json:"errors"`
}
