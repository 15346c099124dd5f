package memory

import (
	"context"
	"testing"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func agent(id, platform, external, name string) domain.Agent {
	now := time.Now()
	return domain.Agent{
		ID:            id,
		ExternalID:    external,
		PlatformID:    platform,
		Name:          name,
		Status:        domain.StatusActive,
		Capabilities:  []string{"http"},
		Configuration: map[string]interface{}{"k": "v"},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestCreateRejectsDuplicateExternalID(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.CreateAgent(ctx, agent("a1", "p1", "e1", "one")))
	err := s.CreateAgent(ctx, agent("a2", "p1", "e1", "dup"))
	assert.ErrorIs(t, err, domain.ErrAgentAlreadyExists)

	// Тот же externalID на другой платформе допустим
	require.NoError(t, s.CreateAgent(ctx, agent("a3", "p2", "e1", "other")))

	list, err := s.ListAgents(ctx, domain.AgentFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestReturnedAgentsAreCopies(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.CreateAgent(ctx, agent("a1", "p1", "e1", "one")))

	got, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	got.Capabilities[0] = "mutated"
	got.Configuration["k"] = "mutated"

	again, err := s.FindByExternalID(ctx, "p1", "e1")
	require.NoError(t, err)
	assert.Equal(t, "http", again.Capabilities[0])
	assert.Equal(t, "v", again.Configuration["k"])
}

func TestListAgentsFilter(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	a := agent("a1", "p1", "e1", "Invoice Sync")
	b := agent("a2", "p1", "e2", "Lead Router")
	b.Status = domain.StatusError
	c := agent("a3", "p2", "e3", "invoice backup")
	for _, ag := range []domain.Agent{a, b, c} {
		require.NoError(t, s.CreateAgent(ctx, ag))
	}

	tests := []struct {
		name   string
		filter domain.AgentFilter
		want   []string
	}{
		{"all", domain.AgentFilter{}, []string{"a1", "a2", "a3"}},
		{"platform", domain.AgentFilter{PlatformID: "p1"}, []string{"a1", "a2"}},
		{"status", domain.AgentFilter{Status: domain.StatusError}, []string{"a2"}},
		{"search is case insensitive", domain.AgentFilter{Search: "INVOICE"}, []string{"a1", "a3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := s.ListAgents(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(list))
			for _, ag := range list {
				ids = append(ids, ag.ID)
			}
			assert.ElementsMatch(t, tt.want, ids)
		})
	}
}

func TestUpdateKeepsIdentity(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.CreateAgent(ctx, agent("a1", "p1", "e1", "one")))

	upd := agent("a1", "p9", "e9", "renamed")
	require.NoError(t, s.UpdateAgent(ctx, upd))

	got, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, "p1", got.PlatformID)
	assert.Equal(t, "e1", got.ExternalID)

	assert.ErrorIs(t, s.UpdateAgent(ctx, agent("missing", "p1", "e1", "x")), domain.ErrAgentNotFound)
	assert.ErrorIs(t, s.UpdateAgentStatus(ctx, "missing", domain.StatusError), domain.ErrAgentNotFound)
}

func TestHealthHistoryNewestFirstAndCascade(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.CreateAgent(ctx, agent("a1", "p1", "e1", "one")))

	states := []domain.HealthState{domain.HealthHealthy, domain.HealthDegraded, domain.HealthUnhealthy}
	for i, st := range states {
		require.NoError(t, s.AppendHealthRecord(ctx, domain.HealthRecord{
			ID:           string(rune('x' + i)),
			AgentID:      "a1",
			HealthStatus: domain.HealthStatus{Status: st, LastCheck: time.Now()},
		}))
	}

	history, err := s.HealthHistory(ctx, "a1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.HealthUnhealthy, history[0].Status)
	assert.Equal(t, domain.HealthDegraded, history[1].Status)

	latest, err := s.LatestHealth(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, domain.HealthUnhealthy, latest.Status)

	require.NoError(t, s.DeleteAgent(ctx, "a1"))
	history, err = s.HealthHistory(ctx, "a1", 0)
	require.NoError(t, err)
	assert.Empty(t, history)

	err = s.AppendHealthRecord(ctx, domain.HealthRecord{ID: "late", AgentID: "a1"})
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)
}
