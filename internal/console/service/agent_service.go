package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/audit"
	"github.com/akashrtd/cubcen-sub008/internal/connectors"
	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"github.com/akashrtd/cubcen-sub008/internal/engine"
	"github.com/akashrtd/cubcen-sub008/internal/notify"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AgentRepository описывает требования к хранилищу данных об агентах
type AgentRepository interface {
	// CreateAgent отклоняет дубликат пары (platformID, externalID) с ErrAgentAlreadyExists
	CreateAgent(ctx context.Context, agent domain.Agent) error
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
	FindByExternalID(ctx context.Context, platformID, externalID string) (*domain.Agent, error)
	ListAgents(ctx context.Context, filter domain.AgentFilter) ([]*domain.Agent, error)
	UpdateAgent(ctx context.Context, agent domain.Agent) error
	UpdateAgentStatus(ctx context.Context, id string, status domain.AgentStatus) error
	UpdateAgentHealth(ctx context.Context, id string, health domain.HealthStatus) error
	DeleteAgent(ctx context.Context, id string) error
}

// HealthRepository — append-only история проверок
type HealthRepository interface {
	AppendHealthRecord(ctx context.Context, rec domain.HealthRecord) error
	HealthHistory(ctx context.Context, agentID string, limit int) ([]domain.HealthRecord, error)
	LatestHealth(ctx context.Context, agentID string) (*domain.HealthRecord, error)
}

// AdapterProvider — доступ к адаптерам платформ (connectors.Manager)
type AdapterProvider interface {
	GetAdapter(platformID string) (connectors.PlatformAdapter, bool)
	PlatformIDs() []string
}

// Locker — распределенная блокировка (engine.RedisLocker)
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), acquired bool, err error)
}

type Deps struct {
	Agents   AgentRepository
	Health   HealthRepository
	Adapters AdapterProvider

	// Опциональные зависимости
	Notifier notify.Sink
	Auditor  audit.Auditor
	Locker   Locker
	Metrics  *engine.Metrics
	Logger   *zap.Logger

	// DefaultHealth применяется к агентам без собственной настройки мониторинга
	DefaultHealth domain.HealthCheckConfig
}

type platformSub struct {
	adapter connectors.PlatformAdapter
	id      connectors.SubscriptionID
}

type AgentService struct {
	agents   AgentRepository
	health   HealthRepository
	adapters AdapterProvider
	notifier notify.Sink
	auditor  audit.Auditor
	locker   Locker
	metrics  *engine.Metrics
	logger   *zap.Logger

	scheduler     *engine.Scheduler
	defaultHealth domain.HealthCheckConfig

	// lifecycleMu держится от проверки существования агента до постановки таймера
	// и от снятия таймера до удаления агента: таймер удаленного агента не появится
	lifecycleMu sync.Mutex

	mu         sync.RWMutex
	monitors   map[string]domain.HealthCheckConfig // agentID -> настройка мониторинга
	lastChecks map[string]time.Time

	subsMu sync.Mutex
	subs   map[string]platformSub // platformID -> подписка на события адаптера
}

func NewAgentService(deps Deps) *AgentService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = engine.NewMetrics(nil)
	}
	def := deps.DefaultHealth
	if def.Validate() != nil {
		def = domain.DefaultHealthCheckConfig()
	}

	return &AgentService{
		agents:        deps.Agents,
		health:        deps.Health,
		adapters:      deps.Adapters,
		notifier:      deps.Notifier,
		auditor:       deps.Auditor,
		locker:        deps.Locker,
		metrics:       metrics,
		logger:        logger.Named("agent-service"),
		scheduler:     engine.NewScheduler(logger),
		defaultHealth: def,
		monitors:      make(map[string]domain.HealthCheckConfig),
		lastChecks:    make(map[string]time.Time),
		subs:          make(map[string]platformSub),
	}
}

// RegisterAgent сохраняет нового агента. Повторная регистрация той же пары
// (platformID, externalID) — ошибка, а не upsert.
func (s *AgentService) RegisterAgent(ctx context.Context, agent domain.Agent) (*domain.Agent, error) {
	switch {
	case strings.TrimSpace(agent.Name) == "":
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidAgent)
	case agent.PlatformID == "":
		return nil, fmt.Errorf("%w: platform id is required", domain.ErrInvalidAgent)
	case agent.ExternalID == "":
		return nil, fmt.Errorf("%w: external id is required", domain.ErrInvalidAgent)
	case agent.Status != "" && !agent.Status.Valid():
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidAgent, agent.Status)
	}

	existing, err := s.agents.FindByExternalID(ctx, agent.PlatformID, agent.ExternalID)
	if err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("lookup agent: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: agent with external id %s already exists on platform %s",
			domain.ErrAgentAlreadyExists, agent.ExternalID, agent.PlatformID)
	}

	return s.createAgent(ctx, agent)
}

func (s *AgentService) createAgent(ctx context.Context, agent domain.Agent) (*domain.Agent, error) {
	now := time.Now()
	agent.ID = uuid.NewString()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	if agent.Status == "" {
		agent.Status = domain.StatusActive
	}
	if agent.Capabilities == nil {
		agent.Capabilities = []string{}
	}
	if agent.Configuration == nil {
		agent.Configuration = map[string]interface{}{}
	}
	if agent.Platform == "" && s.adapters != nil {
		if a, ok := s.adapters.GetAdapter(agent.PlatformID); ok {
			agent.Platform = a.Type()
		}
	}

	if err := s.agents.CreateAgent(ctx, agent); err != nil {
		s.logger.Error("failed to register agent",
			zap.String("platform_id", agent.PlatformID),
			zap.String("external_id", agent.ExternalID),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("agent registered",
		zap.String("agent_id", agent.ID),
		zap.String("platform_id", agent.PlatformID),
		zap.String("external_id", agent.ExternalID))
	return &agent, nil
}

func (s *AgentService) UpdateAgent(ctx context.Context, id string, upd domain.AgentUpdate) (*domain.Agent, error) {
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return nil, fmt.Errorf("%w: name must not be empty", domain.ErrInvalidAgent)
	}
	if upd.Status != nil && !upd.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidAgent, *upd.Status)
	}

	current, err := s.agents.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}

	updated := upd.Apply(*current)
	updated.UpdatedAt = time.Now()
	if err := s.agents.UpdateAgent(ctx, updated); err != nil {
		s.logger.Error("failed to update agent", zap.String("agent_id", id), zap.Error(err))
		return nil, err
	}

	if updated.Status != current.Status {
		s.notifyStatus(ctx, id, current.Status, updated.Status, map[string]interface{}{"source": "update"})
	}
	return &updated, nil
}

func (s *AgentService) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	agent, err := s.agents.GetAgent(ctx, id)
	if err != nil {
		if !isNotFound(err) {
			s.logger.Error("failed to fetch agent details", zap.String("agent_id", id), zap.Error(err))
		}
		return nil, err
	}
	return agent, nil
}

// GetAgents возвращает агентов по фильтру. Пустой результат — [], а не nil.
func (s *AgentService) GetAgents(ctx context.Context, filter domain.AgentFilter) ([]*domain.Agent, error) {
	agents, err := s.agents.ListAgents(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list agents from repository", zap.Error(err))
		return nil, fmt.Errorf("service: could not fetch agents: %w", err)
	}
	if agents == nil {
		return []*domain.Agent{}, nil
	}
	return agents, nil
}

// DeleteAgent сначала останавливает мониторинг, потом удаляет
func (s *AgentService) DeleteAgent(ctx context.Context, id string) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.stopMonitoring(id)

	s.mu.Lock()
	delete(s.monitors, id)
	delete(s.lastChecks, id)
	s.mu.Unlock()

	if err := s.agents.DeleteAgent(ctx, id); err != nil {
		if !isNotFound(err) {
			s.logger.Error("failed to delete agent", zap.String("agent_id", id), zap.Error(err))
		}
		return err
	}
	s.logger.Info("agent deleted", zap.String("agent_id", id))
	return nil
}

// UpdateAgentStatus меняет статус и уведомляет подписчиков. Тот же статус — no-op.
func (s *AgentService) UpdateAgentStatus(ctx context.Context, id string, status domain.AgentStatus, metadata map[string]interface{}) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidAgent, status)
	}

	agent, err := s.agents.GetAgent(ctx, id)
	if err != nil {
		return err
	}
	if agent.Status == status {
		return nil
	}

	if err := s.agents.UpdateAgentStatus(ctx, id, status); err != nil {
		s.logger.Error("failed to update agent status in DB",
			zap.String("agent_id", id),
			zap.String("status", string(status)),
			zap.Error(err))
		return fmt.Errorf("update status: %w", err)
	}

	s.logger.Info("agent status changed",
		zap.String("agent_id", id),
		zap.String("previous", string(agent.Status)),
		zap.String("status", string(status)))
	s.notifyStatus(ctx, id, agent.Status, status, metadata)
	return nil
}

// GetAgentPlatformStatus запрашивает живой статус и метрики агента у платформы
func (s *AgentService) GetAgentPlatformStatus(ctx context.Context, id string) (domain.AgentStatusReport, error) {
	agent, err := s.agents.GetAgent(ctx, id)
	if err != nil {
		return domain.AgentStatusReport{}, err
	}
	adapter, err := s.adapterFor(agent.PlatformID)
	if err != nil {
		return domain.AgentStatusReport{}, err
	}
	report := adapter.GetAgentStatus(ctx, agent.ExternalID)
	report.AgentID = agent.ID
	return report, nil
}

// ExecuteAgent запускает агента на платформе и пишет исход в журнал исполнений
func (s *AgentService) ExecuteAgent(ctx context.Context, id string, params map[string]interface{}) (domain.ExecutionResult, error) {
	agent, err := s.agents.GetAgent(ctx, id)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	adapter, err := s.adapterFor(agent.PlatformID)
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	result := adapter.ExecuteAgent(ctx, agent.ExternalID, params)

	outcome := "success"
	if !result.Success {
		outcome = "failed"
		s.logger.Warn("agent execution failed",
			zap.String("agent_id", id),
			zap.String("platform_id", agent.PlatformID),
			zap.String("error", result.Error))
	}
	s.metrics.ExecutionDuration.WithLabelValues(agent.PlatformID, outcome).
		Observe(float64(result.ExecutionTimeMs) / 1000)

	if s.auditor != nil {
		s.auditor.Log(audit.ExecutionEvent{
			ID:          uuid.NewString(),
			AgentID:     agent.ID,
			ExternalID:  agent.ExternalID,
			PlatformID:  agent.PlatformID,
			ExecutionID: result.ExecutionID,
			Params:      params,
			Success:     result.Success,
			Error:       result.Error,
			DurationMs:  result.ExecutionTimeMs,
			Timestamp:   result.Timestamp,
		})
	}
	return result, nil
}

// Cleanup останавливает все таймеры мониторинга и снимает подписки на события
func (s *AgentService) Cleanup() {
	s.scheduler.Stop()
	s.metrics.MonitoredAgents.Set(0)

	s.subsMu.Lock()
	for platformID, sub := range s.subs {
		sub.adapter.UnsubscribeFromEvents(sub.id)
		delete(s.subs, platformID)
	}
	s.subsMu.Unlock()

	s.logger.Info("agent service stopped")
}

func (s *AgentService) adapterFor(platformID string) (connectors.PlatformAdapter, error) {
	if s.adapters == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrPlatformNotFound, platformID)
	}
	a, ok := s.adapters.GetAdapter(platformID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPlatformNotFound, platformID)
	}
	return a, nil
}

func (s *AgentService) notifyStatus(ctx context.Context, agentID string, prev, next domain.AgentStatus, metadata map[string]interface{}) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyAgentStatusChange(ctx, domain.AgentStatusChange{
		AgentID:        agentID,
		Status:         next,
		PreviousStatus: prev,
		Timestamp:      time.Now(),
		Metadata:       metadata,
	})
}

func (s *AgentService) notifyHealth(ctx context.Context, agentID string, health domain.HealthStatus) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyAgentHealthChange(ctx, domain.AgentHealthChange{AgentID: agentID, Health: health})
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrAgentNotFound)
}
