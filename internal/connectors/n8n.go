package connectors

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"github.com/akashrtd/cubcen-sub008/internal/engine"
)

const n8nPageSize = 100

type n8nWorkflow struct {
	ID     flexID `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
	Tags   []struct {
		Name string `json:"name"`
	} `json:"tags"`
	Nodes []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"nodes"`
	IsArchived bool      `json:"isArchived"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type n8nExecution struct {
	ID         flexID                 `json:"id"`
	Finished   bool                   `json:"finished"`
	Mode       string                 `json:"mode"`
	Status     string                 `json:"status"`
	StartedAt  time.Time              `json:"startedAt"`
	StoppedAt  *time.Time             `json:"stoppedAt"`
	WorkflowID flexID                 `json:"workflowId"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

func (e n8nExecution) errored() bool {
	switch e.Status {
	case "error", "crashed":
		return true
	case "success":
		return false
	}
	return e.StoppedAt != nil && !e.Finished
}

func (e n8nExecution) duration() time.Duration {
	if e.StoppedAt == nil || e.StartedAt.IsZero() {
		return 0
	}
	return e.StoppedAt.Sub(e.StartedAt)
}

type n8nPage[T any] struct {
	Data       []T    `json:"data"`
	NextCursor string `json:"nextCursor"`
}

// N8NAdapter — интеграция с n8n: воркфлоу = агенты
type N8NAdapter struct {
	*BaseAdapter

	client  *restClient
	auth    *credentialAuth
	breaker *engine.CircuitBreaker
	opts    Options

	pollMu   sync.Mutex
	lastPoll time.Time
}

func NewN8NAdapter(cfg domain.PlatformConfig, deps Dependencies) (*N8NAdapter, error) {
	deps = deps.normalize()
	base := NewBaseAdapter(cfg, deps)

	a := &N8NAdapter{BaseAdapter: base, opts: deps.Options}
	if err := a.ValidateConfig(); err != nil {
		return nil, err
	}

	a.breaker = newAdapterBreaker(cfg, deps, base.Logger())
	a.client = newRESTClient(cfg.BaseURL, requestTimeout(cfg, deps.Options), a.breaker, deps, base.Logger())
	a.auth = newCredentialAuth(a.client, func() string { return a.Config().TokenURL }, deps.Options, base.Logger())
	a.auth.apiKeyHeader = "X-N8N-API-KEY"
	a.auth.validate = func(ctx context.Context) error {
		_, _, err := a.workflowPage(ctx, "", 1)
		return err
	}

	a.SetPoller(a.pollEvents, deps.Options.EventPollInterval)
	return a, nil
}

// ValidateConfig — n8n принимает только API ключ или готовый токен
func (a *N8NAdapter) ValidateConfig() error {
	if err := a.BaseAdapter.ValidateConfig(); err != nil {
		return err
	}
	switch c := a.Config().Credentials.(type) {
	case nil:
		return fmt.Errorf("%w: n8n requires credentials", domain.ErrInvalidConfig)
	case domain.OAuth2ClientCredentials, *domain.OAuth2ClientCredentials:
		return fmt.Errorf("%w: n8n supports api key or access token credentials, got %s",
			domain.ErrInvalidConfig, domain.CredentialKind(c))
	}
	return nil
}

func (a *N8NAdapter) UpdateConfig(update domain.PlatformConfig) error {
	if err := a.BaseAdapter.UpdateConfig(update); err != nil {
		return err
	}
	cfg := a.Config()
	a.client.setBaseURL(cfg.BaseURL)
	a.client.setTimeout(requestTimeout(cfg, a.opts))
	return nil
}

func (a *N8NAdapter) Authenticate(ctx context.Context, creds domain.Credentials) (domain.AuthResult, error) {
	return a.auth.authenticate(ctx, creds)
}

func (a *N8NAdapter) workflowPage(ctx context.Context, cursor string, limit int) ([]n8nWorkflow, string, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var page n8nPage[n8nWorkflow]
	if err := a.client.getJSON(ctx, "/workflows", q, &page); err != nil {
		return nil, "", err
	}
	return page.Data, page.NextCursor, nil
}

func (a *N8NAdapter) listWorkflows(ctx context.Context) ([]n8nWorkflow, error) {
	var (
		all    []n8nWorkflow
		cursor string
	)
	for {
		page, next, err := a.workflowPage(ctx, cursor, n8nPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == "" || next == cursor {
			return all, nil
		}
		cursor = next
	}
}

func (a *N8NAdapter) executions(ctx context.Context, workflowID string, limit int) ([]n8nExecution, error) {
	q := url.Values{}
	if workflowID != "" {
		q.Set("workflowId", workflowID)
	}
	q.Set("limit", strconv.Itoa(limit))

	var page n8nPage[n8nExecution]
	if err := a.client.getJSON(ctx, "/executions", q, &page); err != nil {
		return nil, err
	}
	return page.Data, nil
}

func n8nRuns(execs []n8nExecution) []runSample {
	runs := make([]runSample, 0, len(execs))
	for _, e := range execs {
		runs = append(runs, runSample{Errored: e.errored(), Duration: e.duration(), At: e.StartedAt})
	}
	return runs
}

func (a *N8NAdapter) DiscoverAgents(ctx context.Context) ([]domain.Agent, error) {
	workflows, err := a.listWorkflows(ctx)
	if err != nil {
		a.SetLastError(ExtractErrorMessage(err))
		return nil, fmt.Errorf("list n8n workflows: %w", err)
	}

	cfg := a.Config()
	agents := make([]domain.Agent, 0, len(workflows))
	for _, w := range workflows {
		var recent []bool
		if w.Active {
			if execs, err := a.executions(ctx, w.ID.String(), StatusWindowSize); err == nil {
				recent = erroredFlags(n8nRuns(execs))
			}
		}
		agents = append(agents, n8nAgent(cfg, w, recent))
	}
	return agents, nil
}

func n8nAgent(cfg domain.PlatformConfig, w n8nWorkflow, recent []bool) domain.Agent {
	seen := make(map[string]bool)
	caps := []string{}
	for _, n := range w.Nodes {
		t := n.Type
		if i := strings.LastIndex(t, "."); i >= 0 {
			t = t[i+1:]
		}
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		caps = append(caps, t)
	}
	sort.Strings(caps)

	tags := make([]string, 0, len(w.Tags))
	for _, t := range w.Tags {
		tags = append(tags, t.Name)
		caps = append(caps, "tag:"+t.Name)
	}

	return domain.Agent{
		ID:           w.ID.String(),
		ExternalID:   w.ID.String(),
		Name:         w.Name,
		PlatformID:   cfg.ID,
		Platform:     domain.PlatformN8N,
		Status:       DetermineAgentStatus(false, w.Active && !w.IsArchived, recent),
		Capabilities: caps,
		Configuration: map[string]interface{}{
			"tags":       tags,
			"node_count": len(w.Nodes),
			"archived":   w.IsArchived,
		},
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

func (a *N8NAdapter) GetAgentStatus(ctx context.Context, externalID string) domain.AgentStatusReport {
	var w n8nWorkflow
	if err := a.client.getJSON(ctx, "/workflows/"+url.PathEscape(externalID), nil, &w); err != nil {
		return statusFailure(externalID, err)
	}
	execs, err := a.executions(ctx, externalID, 50)
	if err != nil {
		return statusFailure(externalID, err)
	}

	runs := n8nRuns(execs)
	metrics, lastRun := runMetrics(runs)
	return domain.AgentStatusReport{
		AgentID: externalID,
		Status:  DetermineAgentStatus(false, w.Active && !w.IsArchived, erroredFlags(runs)),
		LastRun: lastRun,
		Metrics: metrics,
	}
}

func (a *N8NAdapter) ExecuteAgent(ctx context.Context, externalID string, params map[string]interface{}) domain.ExecutionResult {
	start := time.Now()

	var started struct {
		ExecutionID flexID `json:"executionId"`
		Data        struct {
			ExecutionID flexID `json:"executionId"`
		} `json:"data"`
	}
	body := map[string]interface{}{"data": params}
	if err := a.client.postJSON(ctx, "/workflows/"+url.PathEscape(externalID)+"/run", body, &started); err != nil {
		return executionFailure(start, "", err)
	}
	execID := started.ExecutionID.String()
	if execID == "" {
		execID = started.Data.ExecutionID.String()
	}
	if execID == "" {
		return executionFailure(start, "", fmt.Errorf("n8n returned no execution id"))
	}

	var final n8nExecution
	q := url.Values{}
	q.Set("includeData", "true")
	err := waitForCompletion(ctx, a.opts.ExecutionPollInterval, a.opts.ExecutionMaxWait, a.Logger(),
		func(ctx context.Context) (bool, error) {
			if err := a.client.getJSON(ctx, "/executions/"+url.PathEscape(execID), q, &final); err != nil {
				return false, err
			}
			return final.StoppedAt != nil, nil
		})
	if err != nil {
		return executionFailure(start, execID, err)
	}

	res := domain.ExecutionResult{
		Success:         !final.errored(),
		ExecutionID:     execID,
		Data:            final.Data,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
		Timestamp:       time.Now(),
	}
	if !res.Success {
		res.Error = fmt.Sprintf("execution finished with status %s", final.Status)
	}
	return res
}

// pollEvents — завершенные исполнения с прошлого прохода
func (a *N8NAdapter) pollEvents(ctx context.Context) ([]domain.PlatformEvent, error) {
	a.pollMu.Lock()
	since := a.lastPoll
	a.pollMu.Unlock()
	now := time.Now()

	if !since.IsZero() {
		execs, err := a.executions(ctx, "", n8nPageSize)
		if err != nil {
			return nil, err
		}

		var events []domain.PlatformEvent
		for i := len(execs) - 1; i >= 0; i-- {
			e := execs[i]
			if e.StoppedAt == nil || !e.StoppedAt.After(since) {
				continue
			}
			ev := domain.PlatformEvent{
				Type:       domain.EventTaskCompleted,
				AgentID:    e.WorkflowID.String(),
				PlatformID: a.ID(),
				Timestamp:  *e.StoppedAt,
				Data: map[string]interface{}{
					"execution_id": e.ID.String(),
					"mode":         e.Mode,
					"status":       e.Status,
					"duration_ms":  e.duration().Milliseconds(),
				},
			}
			if e.errored() {
				ev.Type = domain.EventTaskFailed
			}
			events = append(events, ev)
		}
		a.pollMu.Lock()
		a.lastPoll = now
		a.pollMu.Unlock()
		return events, nil
	}

	a.pollMu.Lock()
	a.lastPoll = now
	a.pollMu.Unlock()
	return nil, nil
}

func (a *N8NAdapter) HealthCheck(ctx context.Context) domain.HealthStatus {
	start := time.Now()
	_, _, err := a.workflowPage(ctx, "", 1)
	return probeHealth(start, err, a.opts.DegradedLatency, map[string]interface{}{
		"platform":      string(domain.PlatformN8N),
		"authenticated": a.auth.authenticated(),
		"breaker":       a.breaker.State(),
	})
}

func (a *N8NAdapter) Connect(ctx context.Context) domain.ConnectionStatus {
	return a.connect(ctx, a.Authenticate, a.HealthCheck)
}

func (a *N8NAdapter) Disconnect(ctx context.Context) error {
	a.disconnect()
	a.auth.reset()
	return nil
}

func (a *N8NAdapter) BreakerStats() engine.BreakerStats {
	return a.breaker.Stats()
}
