package handler

import (
	"context"
	"net/http"

	"github.com/akashrtd/cubcen-sub008/internal/connectors"
	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// PlatformRegistry — то, что нужно от connectors.Manager
type PlatformRegistry interface {
	AddPlatform(ctx context.Context, cfg domain.PlatformConfig) (connectors.PlatformAdapter, error)
	RemovePlatform(ctx context.Context, platformID string) error
	ConnectPlatform(ctx context.Context, platformID string) (domain.ConnectionStatus, error)
	ListPlatforms() []domain.PlatformInfo
}

type PlatformHandler struct {
	registry PlatformRegistry
	// onAdded вызывается после регистрации платформы (подписка сервиса на ее события)
	onAdded func()
	logger  *zap.Logger
}

func NewPlatformHandler(reg PlatformRegistry, onAdded func(), logger *zap.Logger) *PlatformHandler {
	if onAdded == nil {
		onAdded = func() {}
	}
	return &PlatformHandler{registry: reg, onAdded: onAdded, logger: logger.Named("platform-handler")}
}

func (h *PlatformHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.ListPlatforms())
}

// Add POST /platforms — регистрирует (или заменяет) платформу и сразу подключается
func (h *PlatformHandler) Add(w http.ResponseWriter, r *http.Request) {
	var spec domain.PlatformSpec
	if !decodeJSON(w, r, &spec, false) {
		return
	}
	cfg, err := spec.ToConfig()
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	adapter, err := h.registry.AddPlatform(r.Context(), cfg)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.onAdded()

	status := adapter.Connect(r.Context())
	if !status.Connected {
		h.logger.Warn("platform registered but not connected",
			zap.String("platform_id", cfg.ID), zap.String("error", status.Error))
	}
	writeJSON(w, http.StatusCreated, status)
}

func (h *PlatformHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.RemovePlatform(r.Context(), chi.URLParam(r, "platformID")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PlatformHandler) Connect(w http.ResponseWriter, r *http.Request) {
	status, err := h.registry.ConnectPlatform(r.Context(), chi.URLParam(r, "platformID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
