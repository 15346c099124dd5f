package handler

import (
	"net/http"

	"github.com/akashrtd/cubcen-sub008/internal/console/service"
	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"github.com/akashrtd/cubcen-sub008/internal/infra/auth"
	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
)

type AgentHandler struct {
	service *service.AgentService
	logger  *zap.Logger
}

func NewAgentHandler(s *service.AgentService, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{service: s, logger: logger.Named("agent-handler")}
}

// Routes Маршруты для Chi (монтируется в /api/v1/agents)
func (h *AgentHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(auth.RequireScope(domain.ScopeAgentsRead)).Get("/", h.List)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireScope(domain.ScopeAgentsWrite))
		r.Post("/", h.Register)
		r.Post("/discover", h.Discover) // POST /agents/discover?platform_id=n8n-prod
	})

	r.Route("/{agentID}", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(domain.ScopeAgentsRead))
			r.Get("/", h.Get)
			r.Get("/health", h.HealthHistory)
			r.Get("/monitoring", h.MonitoringStatus)
			r.Get("/platform-status", h.PlatformStatus)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(domain.ScopeAgentsWrite))
			r.Patch("/", h.Update)
			r.Delete("/", h.Delete)
			r.Put("/status", h.SetStatus)
			r.Post("/health-check", h.HealthCheck)
			r.Put("/monitoring", h.ConfigureMonitoring)
			r.Post("/monitoring/start", h.StartMonitoring)
			r.Post("/monitoring/stop", h.StopMonitoring)
		})

		r.With(auth.RequireScope(domain.ScopeAgentsExecute)).Post("/execute", h.Execute)
	})
	return r
}

// MonitoringRoutes — мониторинг в целом (монтируется в /api/v1/monitoring)
func (h *AgentHandler) MonitoringRoutes() chi.Router {
	r := chi.NewRouter()
	r.With(auth.RequireScope(domain.ScopeAgentsRead)).Get("/", h.MonitoringOverview)
	r.With(auth.RequireScope(domain.ScopeAgentsWrite)).Post("/start-all", h.StartAllMonitoring)
	return r
}

// List GET /agents?platform_id=...&status=...&search=...
func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.AgentFilter{
		PlatformID: q.Get("platform_id"),
		Status:     domain.AgentStatus(q.Get("status")),
		Search:     q.Get("search"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeMessage(w, http.StatusBadRequest, "unknown status filter")
		return
	}

	agents, err := h.service.GetAgents(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

type registerRequest struct {
	ExternalID    string                 `json:"external_id"`
	Name          string                 `json:"name"`
	Description   string                 `json:"description"`
	PlatformID    string                 `json:"platform_id"`
	Status        domain.AgentStatus     `json:"status"`
	Capabilities  []string               `json:"capabilities"`
	Configuration map[string]interface{} `json:"configuration"`
}

func (h *AgentHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	agent, err := h.service.RegisterAgent(r.Context(), domain.Agent{
		ExternalID:    req.ExternalID,
		Name:          req.Name,
		Description:   req.Description,
		PlatformID:    req.PlatformID,
		Status:        req.Status,
		Capabilities:  req.Capabilities,
		Configuration: req.Configuration,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	agent, err := h.service.GetAgent(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (h *AgentHandler) Update(w http.ResponseWriter, r *http.Request) {
	var upd domain.AgentUpdate
	if !decodeJSON(w, r, &upd, false) {
		return
	}

	agent, err := h.service.UpdateAgent(r.Context(), chi.URLParam(r, "agentID"), upd)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (h *AgentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteAgent(r.Context(), chi.URLParam(r, "agentID")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusRequest struct {
	Status   domain.AgentStatus     `json:"status"`
	Metadata map[string]interface{} `json:"metadata"`
}

// SetStatus PUT /agents/{id}/status — ручная смена статуса оператором
func (h *AgentHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if req.Metadata == nil {
		req.Metadata = map[string]interface{}{}
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		req.Metadata["operator"] = claims.UserID
	}

	id := chi.URLParam(r, "agentID")
	if err := h.service.UpdateAgentStatus(r.Context(), id, req.Status, req.Metadata); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Discover сверяет агентов с одной платформой или со всеми (без platform_id)
func (h *AgentHandler) Discover(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.DiscoverAgents(r.Context(), r.URL.Query().Get("platform_id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *AgentHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health, err := h.service.PerformHealthCheck(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

// HealthHistory GET /agents/{id}/health?limit=50
func (h *AgentHandler) HealthHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "limit must be an integer")
		return
	}

	records, err := h.service.GetAgentHealthHistory(r.Context(), chi.URLParam(r, "agentID"), limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *AgentHandler) MonitoringStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "agentID")
	if _, err := h.service.GetAgent(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.AgentMonitoringStatus(id))
}

// monitoringRequest: длительности строками ("30s"), отсутствующие поля берутся из текущей настройки
type monitoringRequest struct {
	Interval string `json:"interval"`
	Timeout  string `json:"timeout"`
	Retries  *int   `json:"retries"`
	Enabled  *bool  `json:"enabled"`
}

func (h *AgentHandler) ConfigureMonitoring(w http.ResponseWriter, r *http.Request) {
	var req monitoringRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	id := chi.URLParam(r, "agentID")
	cfg := h.service.AgentMonitoringStatus(id).Config
	cfg.Enabled = true

	var err error
	if cfg.Interval, err = parseOptionalDuration(req.Interval, cfg.Interval); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid interval")
		return
	}
	if cfg.Timeout, err = parseOptionalDuration(req.Timeout, cfg.Timeout); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid timeout")
		return
	}
	if req.Retries != nil {
		cfg.Retries = *req.Retries
	}
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}

	if err := h.service.ConfigureHealthMonitoring(r.Context(), id, cfg); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.AgentMonitoringStatus(id))
}

func (h *AgentHandler) StartMonitoring(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "agentID")
	if err := h.service.StartHealthMonitoring(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.AgentMonitoringStatus(id))
}

func (h *AgentHandler) StopMonitoring(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "agentID")
	stopped := h.service.StopHealthMonitoring(id)
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

func (h *AgentHandler) MonitoringOverview(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.GetHealthMonitoringStatus())
}

func (h *AgentHandler) StartAllMonitoring(w http.ResponseWriter, r *http.Request) {
	started, err := h.service.StartAllHealthMonitoring(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"started": started})
}

type executeRequest struct {
	Parameters map[string]interface{} `json:"parameters"`
}

// Execute POST /agents/{id}/execute. Неуспешный запуск — 200 с success=false.
func (h *AgentHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	result, err := h.service.ExecuteAgent(r.Context(), chi.URLParam(r, "agentID"), req.Parameters)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *AgentHandler) PlatformStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.GetAgentPlatformStatus(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
