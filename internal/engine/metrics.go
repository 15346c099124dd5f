package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Health: результаты и длительность проверок по платформам
	HealthChecksTotal   *prometheus.CounterVec
	HealthCheckDuration *prometheus.HistogramVec

	// Saturation: состояние Circuit Breaker (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState *prometheus.GaugeVec

	// Discovery: запуски сверки и судьба найденных агентов
	DiscoveryRunsTotal *prometheus.CounterVec
	DiscoveredAgents   *prometheus.CounterVec

	// Executions: latency запусков агентов
	ExecutionDuration *prometheus.HistogramVec

	// Events: события, пришедшие от пуллеров платформ
	PlatformEvents *prometheus.CounterVec

	// Сколько агентов сейчас под мониторингом
	MonitoredAgents prometheus.Gauge

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		HealthChecksTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cubcen_health_checks_total",
			Help: "Total number of agent health checks by result.",
		}, []string{"platform_id", "status"}),

		HealthCheckDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cubcen_health_check_duration_seconds",
			Help:    "Histogram of health check latencies.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"platform_id"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "cubcen_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"breaker"}),

		DiscoveryRunsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cubcen_discovery_runs_total",
			Help: "Total number of per-platform discovery runs by outcome.",
		}, []string{"platform_id", "outcome"}), // outcome: ok, failed, locked

		DiscoveredAgents: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cubcen_discovered_agents_total",
			Help: "Agents processed by discovery reconciliation.",
		}, []string{"platform_id", "action"}), // action: registered, updated, failed

		ExecutionDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cubcen_agent_execution_duration_seconds",
			Help:    "Histogram of agent execution latencies.",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"platform_id", "status"}),

		PlatformEvents: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cubcen_platform_events_total",
			Help: "Events emitted by platform pollers.",
		}, []string{"platform_id", "type"}),

		MonitoredAgents: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "cubcen_monitored_agents",
			Help: "Number of agents with an active health monitoring loop.",
		}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "cubcen_audit_buffer_utilization",
			Help: "Current number of execution events in audit buffer.",
		}),
	}
}
