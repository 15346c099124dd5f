package connectors

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"github.com/akashrtd/cubcen-sub008/internal/engine"
	"go.uber.org/zap"
)

// Статусы логов сценария Make
const (
	makeLogSuccess = 1
	makeLogWarning = 2
	makeLogError   = 3
)

type makeScenario struct {
	ID           flexID   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	TeamID       flexID   `json:"teamId"`
	IsActive     bool     `json:"isActive"`
	IsLocked     bool     `json:"islocked"`
	IsPaused     bool     `json:"isPaused"`
	UsedPackages []string `json:"usedPackages"`
	Scheduling   struct {
		Type     string `json:"type"`
		Interval int    `json:"interval"`
	} `json:"scheduling"`
	Created  time.Time `json:"created"`
	LastEdit time.Time `json:"lastEdit"`
}

type makeLog struct {
	ID        flexID    `json:"id"`
	Status    int       `json:"status"`
	Duration  int64     `json:"duration"` // ms
	Timestamp time.Time `json:"timestamp"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type makeExecution struct {
	ID         flexID                 `json:"id"`
	Status     string                 `json:"status"`
	StartedAt  *time.Time             `json:"startedAt"`
	FinishedAt *time.Time             `json:"finishedAt"`
	Outputs    map[string]interface{} `json:"outputs"`
	Error      string                 `json:"error"`
}

// MakeAdapter — интеграция с Make.com: сценарии = агенты
type MakeAdapter struct {
	*BaseAdapter

	client  *restClient
	auth    *credentialAuth
	breaker *engine.CircuitBreaker
	opts    Options

	pollMu   sync.Mutex
	lastPoll time.Time
}

func NewMakeAdapter(cfg domain.PlatformConfig, deps Dependencies) (*MakeAdapter, error) {
	deps = deps.normalize()
	base := NewBaseAdapter(cfg, deps)

	a := &MakeAdapter{BaseAdapter: base, opts: deps.Options}
	if err := a.ValidateConfig(); err != nil {
		return nil, err
	}

	a.breaker = newAdapterBreaker(cfg, deps, base.Logger())
	a.client = newRESTClient(cfg.BaseURL, requestTimeout(cfg, deps.Options), a.breaker, deps, base.Logger())
	a.auth = newCredentialAuth(a.client, a.tokenURL, deps.Options, base.Logger())
	a.auth.apiKeyHeader = "Authorization"
	a.auth.apiKeyPrefix = "Token "
	a.auth.allowClientCreds = true
	a.auth.validate = func(ctx context.Context) error {
		_, err := a.listScenarios(ctx, 1)
		return err
	}

	a.SetPoller(a.pollEvents, deps.Options.EventPollInterval)
	return a, nil
}

// ValidateConfig — базовая проверка + Make требует учетные данные
func (a *MakeAdapter) ValidateConfig() error {
	if err := a.BaseAdapter.ValidateConfig(); err != nil {
		return err
	}
	if a.Config().Credentials == nil {
		return fmt.Errorf("%w: make requires credentials", domain.ErrInvalidConfig)
	}
	return nil
}

func (a *MakeAdapter) UpdateConfig(update domain.PlatformConfig) error {
	if err := a.BaseAdapter.UpdateConfig(update); err != nil {
		return err
	}
	cfg := a.Config()
	a.client.setBaseURL(cfg.BaseURL)
	a.client.setTimeout(requestTimeout(cfg, a.opts))
	return nil
}

func (a *MakeAdapter) tokenURL() string {
	cfg := a.Config()
	if cfg.TokenURL != "" {
		return cfg.TokenURL
	}
	return strings.TrimRight(cfg.BaseURL, "/") + "/oauth/v2/token"
}

func (a *MakeAdapter) Authenticate(ctx context.Context, creds domain.Credentials) (domain.AuthResult, error) {
	return a.auth.authenticate(ctx, creds)
}

func (a *MakeAdapter) listScenarios(ctx context.Context, limit int) ([]makeScenario, error) {
	q := url.Values{}
	if team := a.Config().TeamID; team != "" {
		q.Set("teamId", team)
	}
	if limit > 0 {
		q.Set("pg[limit]", strconv.Itoa(limit))
	}

	var resp struct {
		Scenarios []makeScenario `json:"scenarios"`
	}
	if err := a.client.getJSON(ctx, "/scenarios", q, &resp); err != nil {
		return nil, err
	}
	return resp.Scenarios, nil
}

func (a *MakeAdapter) getScenario(ctx context.Context, id string) (makeScenario, error) {
	var resp struct {
		Scenario makeScenario `json:"scenario"`
	}
	err := a.client.getJSON(ctx, "/scenarios/"+url.PathEscape(id), nil, &resp)
	return resp.Scenario, err
}

func (a *MakeAdapter) scenarioLogs(ctx context.Context, id string, limit int) ([]makeLog, error) {
	q := url.Values{}
	q.Set("pg[limit]", strconv.Itoa(limit))
	q.Set("pg[sortDir]", "desc")

	var resp struct {
		ScenarioLogs []makeLog `json:"scenarioLogs"`
	}
	if err := a.client.getJSON(ctx, "/scenarios/"+url.PathEscape(id)+"/logs", q, &resp); err != nil {
		return nil, err
	}
	return resp.ScenarioLogs, nil
}

// DiscoverAgents — сценарии команды. Падает целиком, если листинг не удался.
// Логи по отдельным сценариям best-effort: без них статус считается по флагам.
func (a *MakeAdapter) DiscoverAgents(ctx context.Context) ([]domain.Agent, error) {
	scenarios, err := a.listScenarios(ctx, 0)
	if err != nil {
		a.SetLastError(ExtractErrorMessage(err))
		return nil, fmt.Errorf("list make scenarios: %w", err)
	}

	cfg := a.Config()
	agents := make([]domain.Agent, 0, len(scenarios))
	for _, s := range scenarios {
		var recent []bool
		if s.IsActive && !s.IsLocked {
			logs, err := a.scenarioLogs(ctx, s.ID.String(), StatusWindowSize)
			if err != nil {
				a.Logger().Debug("scenario logs unavailable",
					zap.String("scenario_id", s.ID.String()),
					zap.String("error", ExtractErrorMessage(err)))
			}
			recent = erroredFlags(makeRuns(logs))
		}
		agents = append(agents, a.toAgent(cfg, s, recent))
	}
	return agents, nil
}

func (a *MakeAdapter) toAgent(cfg domain.PlatformConfig, s makeScenario, recent []bool) domain.Agent {
	caps := make([]string, 0, len(s.UsedPackages)+1)
	seen := make(map[string]bool, len(s.UsedPackages))
	for _, p := range s.UsedPackages {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		caps = append(caps, p)
	}
	if s.Scheduling.Type != "" {
		caps = append(caps, "scheduling:"+s.Scheduling.Type)
	}

	return domain.Agent{
		ID:           s.ID.String(),
		ExternalID:   s.ID.String(),
		Name:         s.Name,
		Description:  s.Description,
		PlatformID:   cfg.ID,
		Platform:     domain.PlatformMake,
		Status:       DetermineAgentStatus(s.IsLocked, s.IsActive, recent),
		Capabilities: caps,
		Configuration: map[string]interface{}{
			"team_id":             s.TeamID.String(),
			"scheduling_type":     s.Scheduling.Type,
			"scheduling_interval": s.Scheduling.Interval,
			"is_paused":           s.IsPaused,
			"is_locked":           s.IsLocked,
		},
		CreatedAt: s.Created,
		UpdatedAt: s.LastEdit,
	}
}

func makeRuns(logs []makeLog) []runSample {
	runs := make([]runSample, 0, len(logs))
	for _, l := range logs {
		runs = append(runs, runSample{
			Errored:  l.Status == makeLogError,
			Duration: time.Duration(l.Duration) * time.Millisecond,
			At:       l.Timestamp,
		})
	}
	return runs
}

func (a *MakeAdapter) GetAgentStatus(ctx context.Context, externalID string) domain.AgentStatusReport {
	scenario, err := a.getScenario(ctx, externalID)
	if err != nil {
		return statusFailure(externalID, err)
	}
	logs, err := a.scenarioLogs(ctx, externalID, 50)
	if err != nil {
		return statusFailure(externalID, err)
	}

	runs := makeRuns(logs)
	metrics, lastRun := runMetrics(runs)
	return domain.AgentStatusReport{
		AgentID: externalID,
		Status:  DetermineAgentStatus(scenario.IsLocked, scenario.IsActive, erroredFlags(runs)),
		LastRun: lastRun,
		Metrics: metrics,
	}
}

// ExecuteAgent запускает сценарий и ждет завершения исполнения
func (a *MakeAdapter) ExecuteAgent(ctx context.Context, externalID string, params map[string]interface{}) domain.ExecutionResult {
	start := time.Now()

	var started struct {
		ExecutionID flexID `json:"executionId"`
	}
	body := map[string]interface{}{"data": params, "responsive": false}
	if err := a.client.postJSON(ctx, "/scenarios/"+url.PathEscape(externalID)+"/run", body, &started); err != nil {
		return executionFailure(start, "", err)
	}
	execID := started.ExecutionID.String()
	if execID == "" {
		return executionFailure(start, "", fmt.Errorf("make returned no execution id"))
	}

	var final makeExecution
	err := waitForCompletion(ctx, a.opts.ExecutionPollInterval, a.opts.ExecutionMaxWait, a.Logger(),
		func(ctx context.Context) (bool, error) {
			var resp struct {
				Execution makeExecution `json:"execution"`
			}
			if err := a.client.getJSON(ctx, "/executions/"+url.PathEscape(execID), nil, &resp); err != nil {
				return false, err
			}
			final = resp.Execution
			return final.FinishedAt != nil, nil
		})
	if err != nil {
		return executionFailure(start, execID, err)
	}

	res := domain.ExecutionResult{
		Success:         final.Status != "error",
		ExecutionID:     execID,
		Data:            final.Outputs,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
		Timestamp:       time.Now(),
	}
	if !res.Success {
		res.Error = final.Error
		if res.Error == "" {
			res.Error = "execution finished with status error"
		}
	}
	return res
}

// pollEvents — новые логи сценариев с прошлого прохода
func (a *MakeAdapter) pollEvents(ctx context.Context) ([]domain.PlatformEvent, error) {
	a.pollMu.Lock()
	since := a.lastPoll
	a.pollMu.Unlock()
	now := time.Now()
	if since.IsZero() {
		// Первый проход только фиксирует точку отсчета, историю не воспроизводим
		a.pollMu.Lock()
		a.lastPoll = now
		a.pollMu.Unlock()
		return nil, nil
	}

	scenarios, err := a.listScenarios(ctx, 0)
	if err != nil {
		return nil, err
	}

	var events []domain.PlatformEvent
	for _, s := range scenarios {
		logs, err := a.scenarioLogs(ctx, s.ID.String(), 10)
		if err != nil {
			a.Logger().Debug("scenario logs unavailable", zap.String("scenario_id", s.ID.String()))
			continue
		}
		// Логи идут от свежих к старым, события отдаем в хронологическом порядке
		for i := len(logs) - 1; i >= 0; i-- {
			l := logs[i]
			if !l.Timestamp.After(since) {
				continue
			}
			events = append(events, makeLogEvent(a.ID(), s, l))
		}
	}

	a.pollMu.Lock()
	a.lastPoll = now
	a.pollMu.Unlock()
	return events, nil
}

func makeLogEvent(platformID string, s makeScenario, l makeLog) domain.PlatformEvent {
	ev := domain.PlatformEvent{
		Type:       domain.EventTaskCompleted,
		AgentID:    s.ID.String(),
		PlatformID: platformID,
		Timestamp:  l.Timestamp,
		Data: map[string]interface{}{
			"execution_id": l.ID.String(),
			"duration_ms":  l.Duration,
			"status":       l.Status,
		},
	}
	if l.Status == makeLogError {
		ev.Type = domain.EventTaskFailed
		if l.Error != nil {
			ev.Data["error"] = l.Error.Message
		}
	}
	return ev
}

func (a *MakeAdapter) HealthCheck(ctx context.Context) domain.HealthStatus {
	start := time.Now()
	err := a.client.getJSON(ctx, "/users/me", nil, nil)
	return probeHealth(start, err, a.opts.DegradedLatency, map[string]interface{}{
		"platform":      string(domain.PlatformMake),
		"authenticated": a.auth.authenticated(),
		"breaker":       a.breaker.State(),
	})
}

func (a *MakeAdapter) Connect(ctx context.Context) domain.ConnectionStatus {
	return a.connect(ctx, a.Authenticate, a.HealthCheck)
}

func (a *MakeAdapter) Disconnect(ctx context.Context) error {
	a.disconnect()
	a.auth.reset()
	return nil
}

func (a *MakeAdapter) BreakerStats() engine.BreakerStats {
	return a.breaker.Stats()
}

// newAdapterBreaker — отдельный предохранитель на каждый адаптер
func newAdapterBreaker(cfg domain.PlatformConfig, deps Dependencies, logger *zap.Logger) *engine.CircuitBreaker {
	threshold := deps.Options.BreakerThreshold
	if cfg.CircuitBreakerThreshold > 0 {
		threshold = cfg.CircuitBreakerThreshold
	}
	return engine.NewCircuitBreaker(engine.BreakerSettings{
		Name:             string(cfg.Type) + ":" + cfg.ID,
		FailureThreshold: threshold,
		RecoveryTimeout:  deps.Options.BreakerRecoveryTimeout,
		MonitoringPeriod: deps.Options.BreakerMonitoringPeriod,
		IsSuccessful:     func(err error) bool { return !isPlatformFailure(err) },
	}, deps.Metrics, logger)
}

func requestTimeout(cfg domain.PlatformConfig, opts Options) time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return opts.RequestTimeout
}
