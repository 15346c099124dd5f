package connectors

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"github.com/akashrtd/cubcen-sub008/internal/engine"
)

// MockAdapter — управляемый адаптер без сети: тесты и платформы type: mock для локальной отладки
type MockAdapter struct {
	*BaseAdapter

	breaker *engine.CircuitBreaker

	mu          sync.Mutex
	agents      []domain.Agent
	discoverErr error
	health      domain.HealthStatus
	healthFn    func(ctx context.Context) domain.HealthStatus
	executeFn   func(ctx context.Context, externalID string, params map[string]interface{}) domain.ExecutionResult
	latency     time.Duration
	queued      []domain.PlatformEvent
	calls       map[string]int
}

func NewMockAdapter(cfg domain.PlatformConfig, deps Dependencies) (*MockAdapter, error) {
	deps = deps.normalize()
	base := NewBaseAdapter(cfg, deps)
	if err := base.ValidateConfig(); err != nil {
		return nil, err
	}

	a := &MockAdapter{
		BaseAdapter: base,
		breaker:     newAdapterBreaker(cfg, deps, base.Logger()),
		agents:      DefaultMockAgents(cfg.ID),
		health:      domain.HealthStatus{Status: domain.HealthHealthy},
		calls:       make(map[string]int),
	}
	a.SetPoller(a.drainQueued, deps.Options.EventPollInterval)
	return a, nil
}

// DefaultMockAgents — набор агентов, который отдает mock-платформа по умолчанию
func DefaultMockAgents(platformID string) []domain.Agent {
	mk := func(id, name string, status domain.AgentStatus, caps ...string) domain.Agent {
		return domain.Agent{
			ID:            id,
			ExternalID:    id,
			Name:          name,
			PlatformID:    platformID,
			Platform:      domain.PlatformMock,
			Status:        status,
			Capabilities:  caps,
			Configuration: map[string]interface{}{"source": "mock"},
		}
	}
	return []domain.Agent{
		mk("mock-1", "Daily sales report", domain.StatusActive, "slack", "google-sheets"),
		mk("mock-2", "Lead enrichment", domain.StatusActive, "http", "crm"),
		mk("mock-3", "Invoice sync", domain.StatusInactive, "db"),
	}
}

func (a *MockAdapter) SetAgents(agents []domain.Agent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.agents = append([]domain.Agent(nil), agents...)
}

func (a *MockAdapter) SetDiscoverError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.discoverErr = err
}

func (a *MockAdapter) SetHealth(h domain.HealthStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.health = h
	a.healthFn = nil
}

// SetHealthFunc подменяет health-check целиком (паника, задержка, смена результата)
func (a *MockAdapter) SetHealthFunc(fn func(ctx context.Context) domain.HealthStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.healthFn = fn
}

func (a *MockAdapter) SetExecuteFunc(fn func(ctx context.Context, externalID string, params map[string]interface{}) domain.ExecutionResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.executeFn = fn
}

// SetLatency — имитация сетевой задержки (плюс случайный джиттер до половины)
func (a *MockAdapter) SetLatency(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.latency = d
}

// QueueEvents — события, которые отдаст следующий проход опроса
func (a *MockAdapter) QueueEvents(events ...domain.PlatformEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queued = append(a.queued, events...)
}

// Calls — сколько раз вызывалась операция
func (a *MockAdapter) Calls(op string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[op]
}

func (a *MockAdapter) record(op string) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[op]++
	if a.latency <= 0 {
		return 0
	}
	return a.latency + time.Duration(rand.Int64N(int64(a.latency)/2+1))
}

func (a *MockAdapter) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *MockAdapter) Authenticate(ctx context.Context, creds domain.Credentials) (domain.AuthResult, error) {
	a.record("authenticate")
	switch c := creds.(type) {
	case nil:
		return domain.AuthResult{}, fmt.Errorf("%w: no credentials supplied", domain.ErrInvalidCredentials)
	case domain.APIKeyCredentials:
		if c.APIKey == "" || c.APIKey == "invalid" {
			return invalidCredentials("api key rejected"), nil
		}
	case domain.OAuth2TokenCredentials:
		if c.AccessToken == "" {
			return invalidCredentials("access token is empty"), nil
		}
	case domain.OAuth2ClientCredentials:
		if c.ClientID == "" || c.ClientSecret == "" || c.RefreshToken == "" {
			return invalidCredentials("client id, client secret and refresh token are required"), nil
		}
	}
	exp := time.Now().Add(DefaultTokenLifetime)
	return domain.AuthResult{Success: true, Token: "mock-token", ExpiresAt: &exp}, nil
}

func (a *MockAdapter) DiscoverAgents(ctx context.Context) ([]domain.Agent, error) {
	d := a.record("discover")
	if err := a.wait(ctx, d); err != nil {
		return nil, err
	}

	var agents []domain.Agent
	err := a.breaker.Execute(func() error {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.discoverErr != nil {
			return a.discoverErr
		}
		agents = make([]domain.Agent, len(a.agents))
		copy(agents, a.agents)
		return nil
	})
	if err != nil {
		a.SetLastError(ExtractErrorMessage(err))
		return nil, fmt.Errorf("list mock agents: %w", err)
	}
	return agents, nil
}

func (a *MockAdapter) GetAgentStatus(ctx context.Context, externalID string) domain.AgentStatusReport {
	a.record("status")
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ag := range a.agents {
		if ag.ExternalID == externalID {
			return domain.AgentStatusReport{AgentID: externalID, Status: ag.Status}
		}
	}
	return statusFailure(externalID, &APIError{StatusCode: 404, Message: "agent not found"})
}

func (a *MockAdapter) ExecuteAgent(ctx context.Context, externalID string, params map[string]interface{}) domain.ExecutionResult {
	start := time.Now()
	d := a.record("execute")
	if err := a.wait(ctx, d); err != nil {
		return executionFailure(start, "", err)
	}

	a.mu.Lock()
	fn := a.executeFn
	a.mu.Unlock()
	if fn != nil {
		return fn(ctx, externalID, params)
	}

	return domain.ExecutionResult{
		Success:         true,
		ExecutionID:     fmt.Sprintf("mock-exec-%d", a.Calls("execute")),
		Data:            map[string]interface{}{"agent_id": externalID, "params": params},
		ExecutionTimeMs: time.Since(start).Milliseconds(),
		Timestamp:       time.Now(),
	}
}

func (a *MockAdapter) HealthCheck(ctx context.Context) domain.HealthStatus {
	start := time.Now()
	d := a.record("health")

	a.mu.Lock()
	fn, h := a.healthFn, a.health
	a.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	if err := a.wait(ctx, d); err != nil {
		return probeHealth(start, err, DefaultDegradedLatency, nil)
	}
	h.LastCheck = time.Now()
	h.ResponseTimeMs = time.Since(start).Milliseconds()
	return h
}

func (a *MockAdapter) drainQueued(ctx context.Context) ([]domain.PlatformEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	events := a.queued
	a.queued = nil
	return events, nil
}

func (a *MockAdapter) Connect(ctx context.Context) domain.ConnectionStatus {
	return a.connect(ctx, a.Authenticate, a.HealthCheck)
}

func (a *MockAdapter) Disconnect(ctx context.Context) error {
	a.record("disconnect")
	a.disconnect()
	return nil
}

func (a *MockAdapter) BreakerStats() engine.BreakerStats {
	return a.breaker.Stats()
}
