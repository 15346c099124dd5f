package handler

import (
	"net/http"

	"github.com/akashrtd/cubcen-sub008/internal/audit"
	"github.com/akashrtd/cubcen-sub008/internal/console/service"
	"go.uber.org/zap"
)

type AuditHandler struct {
	service *service.AuditService
	logger  *zap.Logger
}

func NewAuditHandler(s *service.AuditService, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{service: s, logger: logger.Named("audit-handler")}
}

// GetExecutions возвращает журнал запусков с поддержкой фильтрации
// GET /api/v1/executions?agent_id=...&platform_id=...&limit=...
func (h *AuditHandler) GetExecutions(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "limit must be an integer")
		return
	}

	events, err := h.service.FetchExecutions(r.Context(), audit.ExecutionFilter{
		AgentID:    r.URL.Query().Get("agent_id"),
		PlatformID: r.URL.Query().Get("platform_id"),
		Limit:      limit,
	})
	if err != nil {
		h.logger.Error("failed to fetch executions", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "failed to fetch executions")
		return
	}
	writeJSON(w, http.StatusOK, events)
}
