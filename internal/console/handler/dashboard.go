package handler

import (
	"context"
	"net/http"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"go.uber.org/zap"
)

// OverviewService Описываем, что нам нужно от сервиса
type OverviewService interface {
	GetOverview(ctx context.Context) (*domain.Overview, error)
}

type DashboardHandler struct {
	service OverviewService
	logger  *zap.Logger
}

func NewDashboardHandler(s OverviewService, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{service: s, logger: logger.Named("dashboard-handler")}
}

func (h *DashboardHandler) GetOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.service.GetOverview(r.Context())
	if err != nil {
		h.logger.Error("failed to build overview", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "failed to fetch overview")
		return
	}
	writeJSON(w, http.StatusOK, overview)
}
