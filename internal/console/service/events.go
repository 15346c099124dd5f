package service

import (
	"context"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"go.uber.org/zap"
)

const eventHandlingTimeout = 30 * time.Second

// SubscribePlatformEvents подписывает сервис на события всех зарегистрированных адаптеров.
// Повторный вызов подписывает только новые или замененные адаптеры.
func (s *AgentService) SubscribePlatformEvents() {
	if s.adapters == nil {
		return
	}

	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for _, platformID := range s.adapters.PlatformIDs() {
		adapter, ok := s.adapters.GetAdapter(platformID)
		if !ok {
			continue
		}
		if sub, ok := s.subs[platformID]; ok {
			if sub.adapter == adapter {
				continue
			}
			sub.adapter.UnsubscribeFromEvents(sub.id)
		}
		id := adapter.SubscribeToEvents(s.handlePlatformEvent)
		s.subs[platformID] = platformSub{adapter: adapter, id: id}
		s.logger.Debug("subscribed to platform events", zap.String("platform_id", platformID))
	}
}

// handlePlatformEvent переводит событие платформы в действие над сохраненным агентом
func (s *AgentService) handlePlatformEvent(ev domain.PlatformEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), eventHandlingTimeout)
	defer cancel()

	logger := s.logger.With(
		zap.String("platform_id", ev.PlatformID),
		zap.String("external_id", ev.AgentID),
		zap.String("event", string(ev.Type)))

	agent, err := s.agents.FindByExternalID(ctx, ev.PlatformID, ev.AgentID)
	if err != nil {
		if !isNotFound(err) {
			logger.Error("failed to resolve event agent", zap.Error(err))
		}
		return
	}

	switch ev.Type {
	case domain.EventTaskFailed, domain.EventErrorOccurred:
		if _, err := s.PerformHealthCheck(ctx, agent.ID); err != nil {
			logger.Error("health check after failure event failed", zap.Error(err))
		}
	case domain.EventAgentStatusChanged:
		raw, _ := ev.Data["status"].(string)
		status := domain.AgentStatus(raw)
		if !status.Valid() {
			logger.Warn("status event without valid status", zap.String("status", raw))
			return
		}
		if err := s.UpdateAgentStatus(ctx, agent.ID, status, map[string]interface{}{"source": "platform_event"}); err != nil {
			logger.Error("failed to apply platform status", zap.Error(err))
		}
	default:
		logger.Debug("platform event ignored")
	}
}
