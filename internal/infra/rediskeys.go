package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "cubcen"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanAgentStatus — смены статуса агентов для внешних подписчиков (UI, алерты)
	RedisChanAgentStatus = RedisNamespace + ":agents:status"
	// RedisChanAgentHealth — результаты health-check, когда меняется состояние здоровья
	RedisChanAgentHealth = RedisNamespace + ":agents:health"
	// RedisChanMonitoringSignal — команды "<agentID>:on|off" на включение мониторинга с любого инстанса
	RedisChanMonitoringSignal = RedisNamespace + ":agents:monitoring-signal"
)

// DiscoveryLockKey — ключ блокировки сверки одной платформы
func DiscoveryLockKey(platformID string) string {
	return fmt.Sprintf("%s:lock:discovery:%s", RedisNamespace, platformID)
}
