package service

import (
	"context"
	"fmt"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
)

// GetOverview собирает сводку по агентам, здоровью и платформам.
// Считается на лету: агентов десятки-сотни, кэш не нужен.
func (s *AgentService) GetOverview(ctx context.Context) (*domain.Overview, error) {
	agents, err := s.agents.ListAgents(ctx, domain.AgentFilter{})
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	ov := &domain.Overview{
		Agents: domain.AgentStats{
			Total:     len(agents),
			ByStatus:  make(map[domain.AgentStatus]int),
			Monitored: s.scheduler.Len(),
		},
	}

	for _, a := range agents {
		ov.Agents.ByStatus[a.Status]++
		switch a.HealthStatus.Status {
		case domain.HealthHealthy:
			ov.Health.Healthy++
		case domain.HealthDegraded:
			ov.Health.Degraded++
		case domain.HealthUnhealthy:
			ov.Health.Unhealthy++
		default:
			ov.Health.Unknown++
		}
	}

	if s.adapters != nil {
		for _, id := range s.adapters.PlatformIDs() {
			a, ok := s.adapters.GetAdapter(id)
			if !ok {
				continue
			}
			ov.Platforms.Total++
			if a.IsConnected() {
				ov.Platforms.Connected++
			}
		}
	}
	return ov, nil
}
