package connectors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"github.com/akashrtd/cubcen-sub008/internal/engine"
	"go.uber.org/zap"
)

const zapierPageSize = 100

type zapierZap struct {
	ID        flexID `json:"id"`
	Title     string `json:"title"`
	IsEnabled bool   `json:"is_enabled"`
	State     string `json:"state"` // on, off, draft, paused
	HookURL   string `json:"hook_url"`
	Steps     []struct {
		Type string `json:"type"`
		App  struct {
			Title string `json:"title"`
			Slug  string `json:"slug"`
		} `json:"app"`
	} `json:"steps"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

func (z zapierZap) enabled() bool {
	return z.IsEnabled || z.State == "on"
}

type zapierRun struct {
	ID         flexID     `json:"id"`
	Status     string     `json:"status"` // success, error, halted, filtered
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time"`
	DurationMs int64      `json:"duration_ms"`
}

type zapierList[T any] struct {
	Data []T `json:"data"`
}

// ZapierAdapter — интеграция с Zapier: zap = агент. Запуск идет через catch hook zap'а.
type ZapierAdapter struct {
	*BaseAdapter

	client  *restClient
	auth    *credentialAuth
	breaker *engine.CircuitBreaker
	opts    Options

	pollMu  sync.Mutex
	enabled map[string]bool // Последнее известное состояние zap'ов для событий смены статуса
	primed  bool
}

func NewZapierAdapter(cfg domain.PlatformConfig, deps Dependencies) (*ZapierAdapter, error) {
	deps = deps.normalize()
	base := NewBaseAdapter(cfg, deps)

	a := &ZapierAdapter{BaseAdapter: base, opts: deps.Options, enabled: make(map[string]bool)}
	if err := a.ValidateConfig(); err != nil {
		return nil, err
	}

	a.breaker = newAdapterBreaker(cfg, deps, base.Logger())
	a.client = newRESTClient(cfg.BaseURL, requestTimeout(cfg, deps.Options), a.breaker, deps, base.Logger())
	a.auth = newCredentialAuth(a.client, a.tokenURL, deps.Options, base.Logger())
	a.auth.apiKeyHeader = "X-API-Key"
	a.auth.allowClientCreds = true
	a.auth.validate = func(ctx context.Context) error {
		return a.client.getJSON(ctx, "/profiles/me", nil, nil)
	}

	a.SetPoller(a.pollEvents, deps.Options.EventPollInterval)
	return a, nil
}

func (a *ZapierAdapter) ValidateConfig() error {
	if err := a.BaseAdapter.ValidateConfig(); err != nil {
		return err
	}
	if a.Config().Credentials == nil {
		return fmt.Errorf("%w: zapier requires credentials", domain.ErrInvalidConfig)
	}
	return nil
}

func (a *ZapierAdapter) UpdateConfig(update domain.PlatformConfig) error {
	if err := a.BaseAdapter.UpdateConfig(update); err != nil {
		return err
	}
	cfg := a.Config()
	a.client.setBaseURL(cfg.BaseURL)
	a.client.setTimeout(requestTimeout(cfg, a.opts))
	return nil
}

func (a *ZapierAdapter) tokenURL() string {
	cfg := a.Config()
	if cfg.TokenURL != "" {
		return cfg.TokenURL
	}
	return strings.TrimRight(cfg.BaseURL, "/") + "/oauth/token/"
}

func (a *ZapierAdapter) Authenticate(ctx context.Context, creds domain.Credentials) (domain.AuthResult, error) {
	return a.auth.authenticate(ctx, creds)
}

func (a *ZapierAdapter) listZaps(ctx context.Context) ([]zapierZap, error) {
	var all []zapierZap
	for offset := 0; ; offset += zapierPageSize {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(zapierPageSize))
		q.Set("offset", strconv.Itoa(offset))

		var page zapierList[zapierZap]
		if err := a.client.getJSON(ctx, "/zaps", q, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Data...)
		if len(page.Data) < zapierPageSize {
			return all, nil
		}
	}
}

func (a *ZapierAdapter) getZap(ctx context.Context, id string) (zapierZap, error) {
	var resp struct {
		Data zapierZap `json:"data"`
	}
	err := a.client.getJSON(ctx, "/zaps/"+url.PathEscape(id), nil, &resp)
	return resp.Data, err
}

func (a *ZapierAdapter) runs(ctx context.Context, id string, limit int) ([]zapierRun, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	var page zapierList[zapierRun]
	if err := a.client.getJSON(ctx, "/zaps/"+url.PathEscape(id)+"/runs", q, &page); err != nil {
		return nil, err
	}
	return page.Data, nil
}

func zapierRuns(runs []zapierRun) []runSample {
	out := make([]runSample, 0, len(runs))
	for _, r := range runs {
		d := time.Duration(r.DurationMs) * time.Millisecond
		if d == 0 && r.EndTime != nil {
			d = r.EndTime.Sub(r.StartTime)
		}
		out = append(out, runSample{Errored: r.Status == "error", Duration: d, At: r.StartTime})
	}
	return out
}

func (a *ZapierAdapter) DiscoverAgents(ctx context.Context) ([]domain.Agent, error) {
	zaps, err := a.listZaps(ctx)
	if err != nil {
		a.SetLastError(ExtractErrorMessage(err))
		return nil, fmt.Errorf("list zaps: %w", err)
	}

	cfg := a.Config()
	agents := make([]domain.Agent, 0, len(zaps))
	for _, z := range zaps {
		var recent []bool
		if z.enabled() {
			if runs, err := a.runs(ctx, z.ID.String(), StatusWindowSize); err == nil {
				recent = erroredFlags(zapierRuns(runs))
			}
		}
		agents = append(agents, zapierAgent(cfg, z, recent))
	}
	return agents, nil
}

func zapierAgent(cfg domain.PlatformConfig, z zapierZap, recent []bool) domain.Agent {
	seen := make(map[string]bool)
	caps := []string{}
	for _, s := range z.Steps {
		app := s.App.Slug
		if app == "" {
			app = strings.ToLower(s.App.Title)
		}
		if app == "" || seen[app] {
			continue
		}
		seen[app] = true
		caps = append(caps, app)
	}
	if z.HookURL != "" {
		caps = append(caps, "webhook")
	}

	return domain.Agent{
		ID:           z.ID.String(),
		ExternalID:   z.ID.String(),
		Name:         z.Title,
		PlatformID:   cfg.ID,
		Platform:     domain.PlatformZapier,
		Status:       DetermineAgentStatus(false, z.enabled(), recent),
		Capabilities: caps,
		Configuration: map[string]interface{}{
			"state":      z.State,
			"hook_url":   z.HookURL,
			"step_count": len(z.Steps),
		},
		CreatedAt: z.CreatedAt,
		UpdatedAt: z.ModifiedAt,
	}
}

func (a *ZapierAdapter) GetAgentStatus(ctx context.Context, externalID string) domain.AgentStatusReport {
	z, err := a.getZap(ctx, externalID)
	if err != nil {
		return statusFailure(externalID, err)
	}
	runs, err := a.runs(ctx, externalID, 50)
	if err != nil {
		return statusFailure(externalID, err)
	}

	samples := zapierRuns(runs)
	metrics, lastRun := runMetrics(samples)
	return domain.AgentStatusReport{
		AgentID: externalID,
		Status:  DetermineAgentStatus(false, z.enabled(), erroredFlags(samples)),
		LastRun: lastRun,
		Metrics: metrics,
	}
}

// ExecuteAgent шлет параметры в catch hook zap'а. Принятый hook и есть результат.
func (a *ZapierAdapter) ExecuteAgent(ctx context.Context, externalID string, params map[string]interface{}) domain.ExecutionResult {
	start := time.Now()

	payload := make(map[string]interface{}, len(params))
	var hookURL string
	for k, v := range params {
		if k == "hook_url" {
			hookURL, _ = v.(string)
			continue
		}
		payload[k] = v
	}

	if hookURL == "" {
		z, err := a.getZap(ctx, externalID)
		if err != nil {
			return executionFailure(start, "", err)
		}
		hookURL = z.HookURL
	}
	if hookURL == "" {
		return executionFailure(start, "", fmt.Errorf("zap %s has no catch hook url", externalID))
	}

	var accepted struct {
		Status    string `json:"status"`
		ID        flexID `json:"id"`
		RequestID flexID `json:"request_id"`
	}
	err := a.client.do(ctx, request{
		method:    http.MethodPost,
		path:      hookURL,
		body:      payload,
		// Токен платформы в webhook не отправляем, 401 от hook'а не трогает токены
		skipAuth:  true,
		skipHooks: true,
	}, &accepted)
	if err != nil {
		return executionFailure(start, "", err)
	}

	execID := accepted.RequestID.String()
	if execID == "" {
		execID = accepted.ID.String()
	}
	res := domain.ExecutionResult{
		Success:         accepted.Status == "" || accepted.Status == "success",
		ExecutionID:     execID,
		Data:            map[string]interface{}{"status": accepted.Status},
		ExecutionTimeMs: time.Since(start).Milliseconds(),
		Timestamp:       time.Now(),
	}
	if !res.Success {
		res.Error = fmt.Sprintf("hook rejected payload with status %s", accepted.Status)
	}
	return res
}

// pollEvents сравнивает флаги включения zap'ов с прошлым проходом
func (a *ZapierAdapter) pollEvents(ctx context.Context) ([]domain.PlatformEvent, error) {
	zaps, err := a.listZaps(ctx)
	if err != nil {
		return nil, err
	}

	a.pollMu.Lock()
	defer a.pollMu.Unlock()

	var events []domain.PlatformEvent
	now := time.Now()
	for _, z := range zaps {
		id := z.ID.String()
		enabled := z.enabled()
		prev, known := a.enabled[id]
		a.enabled[id] = enabled

		if !a.primed || !known || prev == enabled {
			continue
		}
		status := domain.StatusInactive
		if enabled {
			status = domain.StatusActive
		}
		events = append(events, domain.PlatformEvent{
			Type:       domain.EventAgentStatusChanged,
			AgentID:    id,
			PlatformID: a.ID(),
			Timestamp:  now,
			Data: map[string]interface{}{
				"status":          string(status),
				"previous_status": statusFromEnabled(prev),
				"state":           z.State,
			},
		})
	}
	if !a.primed {
		a.Logger().Debug("zap state snapshot taken", zap.Int("zaps", len(zaps)))
	}
	a.primed = true
	return events, nil
}

func statusFromEnabled(enabled bool) string {
	if enabled {
		return string(domain.StatusActive)
	}
	return string(domain.StatusInactive)
}

func (a *ZapierAdapter) HealthCheck(ctx context.Context) domain.HealthStatus {
	start := time.Now()
	err := a.client.getJSON(ctx, "/profiles/me", nil, nil)
	return probeHealth(start, err, a.opts.DegradedLatency, map[string]interface{}{
		"platform":      string(domain.PlatformZapier),
		"authenticated": a.auth.authenticated(),
		"breaker":       a.breaker.State(),
	})
}

func (a *ZapierAdapter) Connect(ctx context.Context) domain.ConnectionStatus {
	return a.connect(ctx, a.Authenticate, a.HealthCheck)
}

func (a *ZapierAdapter) Disconnect(ctx context.Context) error {
	a.disconnect()
	a.auth.reset()

	a.pollMu.Lock()
	a.enabled = make(map[string]bool)
	a.primed = false
	a.pollMu.Unlock()
	return nil
}

func (a *ZapierAdapter) BreakerStats() engine.BreakerStats {
	return a.breaker.Stats()
}
