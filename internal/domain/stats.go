package domain

// Overview — сводка для дашборда консоли
type Overview struct {
	Agents    AgentStats    `json:"agents"`
	Health    HealthStats   `json:"health"`
	Platforms PlatformStats `json:"platforms"`
}

type AgentStats struct {
	Total     int                 `json:"total"`
	ByStatus  map[AgentStatus]int `json:"by_status"`
	Monitored int                 `json:"monitored"`
}

// HealthStats — по последнему снимку здоровья. Агенты без проверок идут в Unknown.
type HealthStats struct {
	Healthy   int `json:"healthy"`
	Degraded  int `json:"degraded"`
	Unhealthy int `json:"unhealthy"`
	Unknown   int `json:"unknown"`
}

type PlatformStats struct {
	Total     int `json:"total"`
	Connected int `json:"connected"`
}
