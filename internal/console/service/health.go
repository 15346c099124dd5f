package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"github.com/akashrtd/cubcen-sub008/internal/engine"
	retry "github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

var errUnhealthy = errors.New("agent unhealthy")

// PerformHealthCheck — разовая проверка: одна попытка, запись в историю, пересчет статуса.
// Сбой проверки не возвращается как ошибка, он записывается как unhealthy.
func (s *AgentService) PerformHealthCheck(ctx context.Context, id string) (domain.HealthStatus, error) {
	agent, err := s.agents.GetAgent(ctx, id)
	if err != nil {
		return domain.HealthStatus{}, err
	}

	cfg := s.monitorConfig(id)
	health := s.checkHealth(ctx, agent, cfg.Timeout)
	if err := s.recordHealth(ctx, agent, health); err != nil {
		return health, err
	}
	return health, nil
}

// checkHealth опрашивает адаптер платформы агента. Паника и таймаут превращаются в unhealthy.
func (s *AgentService) checkHealth(ctx context.Context, agent *domain.Agent, timeout time.Duration) (health domain.HealthStatus) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("health check panicked",
				zap.String("agent_id", agent.ID),
				zap.String("platform_id", agent.PlatformID),
				zap.Any("panic", r))
			health = unhealthy(start, fmt.Sprintf("health check panicked: %v", r))
		}
	}()

	adapter, err := s.adapterFor(agent.PlatformID)
	if err != nil {
		return unhealthy(start, err.Error())
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	health = adapter.HealthCheck(cctx)
	if health.Status == "" {
		health = unhealthy(start, "health check returned no status")
	}
	if health.LastCheck.IsZero() {
		health.LastCheck = time.Now()
	}
	if health.Status == domain.HealthUnhealthy && health.Error == "" {
		health.Error = "platform reported unhealthy"
	}

	s.metrics.HealthCheckDuration.WithLabelValues(agent.PlatformID).Observe(time.Since(start).Seconds())
	return health
}

// checkWithRetries — проверка тика мониторинга: до cfg.Retries повторов с backoff, пока unhealthy
func (s *AgentService) checkWithRetries(ctx context.Context, agent *domain.Agent, cfg domain.HealthCheckConfig) domain.HealthStatus {
	var health domain.HealthStatus

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(uint(cfg.Retries)+1),
		retry.RetryIf(func(err error) bool { return errors.Is(err, errUnhealthy) }),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			return retry.BackOffDelay(n, err, config)
		}),
	)
	_ = r.Do(func() error {
		health = s.checkHealth(ctx, agent, cfg.Timeout)
		if health.Status == domain.HealthUnhealthy {
			return errUnhealthy
		}
		return nil
	})
	return health
}

// recordHealth дописывает историю, обновляет снимок и пересчитывает статус агента
func (s *AgentService) recordHealth(ctx context.Context, agent *domain.Agent, health domain.HealthStatus) error {
	s.metrics.HealthChecksTotal.WithLabelValues(agent.PlatformID, string(health.Status)).Inc()

	// 1. История (append-only)
	rec := domain.HealthRecord{ID: uuid.NewString(), AgentID: agent.ID, HealthStatus: health}
	if err := s.health.AppendHealthRecord(ctx, rec); err != nil {
		s.logger.Error("failed to append health record", zap.String("agent_id", agent.ID), zap.Error(err))
		return fmt.Errorf("append health record: %w", err)
	}

	s.mu.Lock()
	s.lastChecks[agent.ID] = health.LastCheck
	s.mu.Unlock()

	// 2. Последний снимок на агенте
	if err := s.agents.UpdateAgentHealth(ctx, agent.ID, health); err != nil {
		s.logger.Error("failed to update agent health snapshot", zap.String("agent_id", agent.ID), zap.Error(err))
		return fmt.Errorf("update health snapshot: %w", err)
	}

	if health.Status == domain.HealthUnhealthy {
		s.logger.Warn("agent unhealthy",
			zap.String("agent_id", agent.ID),
			zap.String("platform_id", agent.PlatformID),
			zap.String("error", health.Error))
	}
	if agent.HealthStatus.Status != health.Status {
		s.notifyHealth(ctx, agent.ID, health)
	}

	// 3. Статус агента выводится из здоровья
	derived := health.AgentStatus()
	if derived == agent.Status {
		return nil
	}
	if err := s.agents.UpdateAgentStatus(ctx, agent.ID, derived); err != nil {
		s.logger.Error("failed to update agent status in DB", zap.String("agent_id", agent.ID), zap.Error(err))
		return fmt.Errorf("update status: %w", err)
	}
	s.logger.Info("agent status changed by health check",
		zap.String("agent_id", agent.ID),
		zap.String("previous", string(agent.Status)),
		zap.String("status", string(derived)))
	s.notifyStatus(ctx, agent.ID, agent.Status, derived, map[string]interface{}{
		"source": "health_check",
		"health": string(health.Status),
	})
	return nil
}

// ConfigureHealthMonitoring сохраняет настройку и перезапускает мониторинг.
// Старый таймер всегда останавливается до запуска нового.
func (s *AgentService) ConfigureHealthMonitoring(ctx context.Context, id string, cfg domain.HealthCheckConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if _, err := s.agents.GetAgent(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	s.monitors[id] = cfg
	s.mu.Unlock()

	if !cfg.Enabled {
		s.stopMonitoring(id)
		return nil
	}
	s.schedule(id, cfg)
	return nil
}

// StartHealthMonitoring запускает периодическую проверку (первая проверка сразу)
func (s *AgentService) StartHealthMonitoring(ctx context.Context, id string) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if _, err := s.agents.GetAgent(ctx, id); err != nil {
		return err
	}

	cfg := s.monitorConfig(id)
	cfg.Enabled = true
	s.mu.Lock()
	s.monitors[id] = cfg
	s.mu.Unlock()

	s.schedule(id, cfg)
	return nil
}

// StopHealthMonitoring отменяет таймер и ждет текущий тик. После возврата записей в историю не будет.
func (s *AgentService) StopHealthMonitoring(id string) bool {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return s.stopMonitoring(id)
}

// stopMonitoring вызывается под lifecycleMu
func (s *AgentService) stopMonitoring(id string) bool {
	stopped := s.scheduler.Cancel(id)
	if stopped {
		s.metrics.MonitoredAgents.Set(float64(s.scheduler.Len()))
		s.logger.Info("health monitoring stopped", zap.String("agent_id", id))
	}
	return stopped
}

// StartAllHealthMonitoring включает мониторинг для всех сохраненных агентов (автостарт при загрузке)
func (s *AgentService) StartAllHealthMonitoring(ctx context.Context) (int, error) {
	agents, err := s.agents.ListAgents(ctx, domain.AgentFilter{})
	if err != nil {
		return 0, fmt.Errorf("list agents: %w", err)
	}

	started := 0
	for _, a := range agents {
		if s.startListed(ctx, a.ID) {
			started++
		}
	}
	s.logger.Info("health monitoring autostarted", zap.Int("agents", started))
	return started, nil
}

// startListed ставит таймер агенту из списка, если его не удалили после ListAgents
func (s *AgentService) startListed(ctx context.Context, id string) bool {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	cfg := s.monitorConfig(id)
	if !cfg.Enabled {
		return false
	}
	if _, err := s.agents.GetAgent(ctx, id); err != nil {
		return false
	}
	s.mu.Lock()
	s.monitors[id] = cfg
	s.mu.Unlock()
	s.schedule(id, cfg)
	return true
}

// HandleMonitoringSignal применяет сигнал "<agentID>:on|off", пришедший с другого инстанса
func (s *AgentService) HandleMonitoringSignal(ctx context.Context, sig engine.Signal) {
	if !sig.Enabled {
		s.StopHealthMonitoring(sig.ID)
		return
	}
	if err := s.StartHealthMonitoring(ctx, sig.ID); err != nil {
		s.logger.Warn("monitoring signal rejected", zap.String("agent_id", sig.ID), zap.Error(err))
	}
}

// GetHealthMonitoringStatus — состояние мониторинга всех известных сервису агентов
func (s *AgentService) GetHealthMonitoringStatus() map[string]domain.MonitoringStatus {
	s.mu.RLock()
	ids := make([]string, 0, len(s.monitors))
	for id := range s.monitors {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	out := make(map[string]domain.MonitoringStatus, len(ids))
	for _, id := range ids {
		out[id] = s.AgentMonitoringStatus(id)
	}
	return out
}

func (s *AgentService) AgentMonitoringStatus(id string) domain.MonitoringStatus {
	st := domain.MonitoringStatus{
		AgentID: id,
		Enabled: s.scheduler.Has(id),
		Config:  s.monitorConfig(id),
	}
	st.Config.Enabled = st.Enabled

	s.mu.RLock()
	if t, ok := s.lastChecks[id]; ok {
		st.LastCheck = &t
	}
	s.mu.RUnlock()
	return st
}

// GetAgentHealthHistory — история проверок от новых к старым
func (s *AgentService) GetAgentHealthHistory(ctx context.Context, id string, limit int) ([]domain.HealthRecord, error) {
	if _, err := s.agents.GetAgent(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	records, err := s.health.HealthHistory(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("health history: %w", err)
	}
	if records == nil {
		return []domain.HealthRecord{}, nil
	}
	return records, nil
}

func (s *AgentService) monitorConfig(id string) domain.HealthCheckConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cfg, ok := s.monitors[id]; ok {
		return cfg
	}
	return s.defaultHealth
}

func (s *AgentService) schedule(id string, cfg domain.HealthCheckConfig) {
	s.scheduler.Schedule(id, cfg.Interval, true, s.monitorTick(id, cfg))
	s.metrics.MonitoredAgents.Set(float64(s.scheduler.Len()))
	s.logger.Info("health monitoring started",
		zap.String("agent_id", id),
		zap.Duration("interval", cfg.Interval),
		zap.Int("retries", cfg.Retries))
}

// monitorTick — один тик мониторинга. Результат пишется, только если задача еще жива:
// Cancel ждет завершения тика, поэтому после остановки записей не появляется.
// Агент, удаленный в обход сервиса (другой инстанс, прямая запись в БД), снимает свою задачу.
func (s *AgentService) monitorTick(id string, cfg domain.HealthCheckConfig) engine.TaskFunc {
	return func(ctx context.Context) error {
		agent, err := s.agents.GetAgent(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isNotFound(err) {
				s.forgetMonitor(id)
				s.logger.Info("agent gone, health monitoring stopped", zap.String("agent_id", id))
				return engine.ErrStopTask
			}
			s.logger.Warn("health tick skipped", zap.String("agent_id", id), zap.Error(err))
			return nil
		}

		health := s.checkWithRetries(ctx, agent, cfg)
		if ctx.Err() != nil {
			return nil
		}
		if err := s.recordHealth(ctx, agent, health); err != nil {
			s.logger.Error("health tick failed to persist", zap.String("agent_id", id), zap.Error(err))
		}
		return nil
	}
}

// forgetMonitor убирает состояние мониторинга агента, задачу которого снимает сам тик
func (s *AgentService) forgetMonitor(id string) {
	s.mu.Lock()
	delete(s.monitors, id)
	delete(s.lastChecks, id)
	s.mu.Unlock()
	s.metrics.MonitoredAgents.Set(float64(max(s.scheduler.Len()-1, 0)))
}

func unhealthy(start time.Time, msg string) domain.HealthStatus {
	return domain.HealthStatus{
		Status:         domain.HealthUnhealthy,
		LastCheck:      time.Now(),
		ResponseTimeMs: time.Since(start).Milliseconds(),
		Error:          msg,
	}
}
