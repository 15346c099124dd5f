package service

import (
	"context"
	"fmt"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/connectors"
	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"github.com/akashrtd/cubcen-sub008/internal/infra"
	"go.uber.org/zap"
)

// DiscoverAgents сверяет агентов платформ с хранилищем. Пустой platformID — все платформы.
// Сбой одной платформы или одного агента попадает в Errors и не прерывает остальных.
func (s *AgentService) DiscoverAgents(ctx context.Context, platformID string) (domain.DiscoveryResult, error) {
	result := domain.DiscoveryResult{Errors: []string{}}

	var ids []string
	switch {
	case platformID != "":
		if _, err := s.adapterFor(platformID); err != nil {
			return result, err
		}
		ids = []string{platformID}
	case s.adapters != nil:
		ids = s.adapters.PlatformIDs()
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("platform %s: %s", id, ctx.Err()))
			continue
		}
		s.discoverPlatform(ctx, id, &result)
	}

	s.logger.Info("agent discovery finished",
		zap.Int("platforms", len(ids)),
		zap.Int("discovered", result.Discovered),
		zap.Int("registered", result.Registered),
		zap.Int("updated", result.Updated),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

func (s *AgentService) discoverPlatform(ctx context.Context, platformID string, result *domain.DiscoveryResult) {
	logger := s.logger.With(zap.String("platform_id", platformID))

	adapter, err := s.adapterFor(platformID)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("platform %s: %s", platformID, err))
		return
	}

	// 1. Один инстанс на платформу. Недоступный Redis не блокирует discovery.
	if s.locker != nil {
		release, acquired, err := s.locker.Acquire(ctx, infra.DiscoveryLockKey(platformID))
		switch {
		case err != nil:
			logger.Warn("discovery lock unavailable, proceeding without it", zap.Error(err))
		case !acquired:
			s.metrics.DiscoveryRunsTotal.WithLabelValues(platformID, "locked").Inc()
			result.Errors = append(result.Errors,
				fmt.Sprintf("platform %s: discovery already in progress on another instance", platformID))
			return
		default:
			defer release()
		}
	}

	// 2. Листинг платформы
	discovered, err := adapter.DiscoverAgents(ctx)
	if err != nil {
		msg := connectors.ExtractErrorMessage(err)
		logger.Error("platform discovery failed", zap.String("error", msg))
		s.metrics.DiscoveryRunsTotal.WithLabelValues(platformID, "failed").Inc()
		result.Errors = append(result.Errors, fmt.Sprintf("platform %s: %s", platformID, msg))
		return
	}
	result.Discovered += len(discovered)

	// 3. Сверка по (platformID, externalID)
	for _, d := range discovered {
		d.PlatformID = platformID
		if d.Platform == "" {
			d.Platform = adapter.Type()
		}
		action, err := s.reconcile(ctx, d)
		if err != nil {
			logger.Error("failed to reconcile agent", zap.String("external_id", d.ExternalID), zap.Error(err))
			s.metrics.DiscoveredAgents.WithLabelValues(platformID, "failed").Inc()
			result.Errors = append(result.Errors, fmt.Sprintf("agent %s on %s: %s", d.ExternalID, platformID, err))
			continue
		}
		s.metrics.DiscoveredAgents.WithLabelValues(platformID, action).Inc()
		if action == "registered" {
			result.Registered++
		} else {
			result.Updated++
		}
	}
	s.metrics.DiscoveryRunsTotal.WithLabelValues(platformID, "ok").Inc()
}

func (s *AgentService) reconcile(ctx context.Context, d domain.Agent) (string, error) {
	if d.ExternalID == "" {
		return "", fmt.Errorf("%w: external id is empty", domain.ErrInvalidAgent)
	}

	existing, err := s.agents.FindByExternalID(ctx, d.PlatformID, d.ExternalID)
	if err != nil && !isNotFound(err) {
		return "", err
	}

	if existing == nil {
		if _, err := s.createAgent(ctx, d); err != nil {
			return "", err
		}
		return "registered", nil
	}

	// Статус и здоровье принадлежат мониторингу, discovery их не трогает
	updated := *existing
	if d.Name != "" {
		updated.Name = d.Name
	}
	updated.Description = d.Description
	updated.Platform = d.Platform
	if d.Capabilities != nil {
		updated.Capabilities = d.Capabilities
	}
	if d.Configuration != nil {
		updated.Configuration = d.Configuration
	}
	updated.UpdatedAt = time.Now()

	if err := s.agents.UpdateAgent(ctx, updated); err != nil {
		return "", err
	}
	return "updated", nil
}
