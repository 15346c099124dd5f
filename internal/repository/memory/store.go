// Package memory — хранилище агентов и истории здоровья в памяти процесса.
// Используется в тестах и при database.driver=memory. Наружу всегда отдаются копии.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
)

// MaxHealthRecords — сколько записей истории держим на агента
const MaxHealthRecords = 1000

type Store struct {
	mu         sync.RWMutex
	agents     map[string]domain.Agent
	byExternal map[string]string // platformID/externalID -> agentID
	health     map[string][]domain.HealthRecord
}

func NewStore() *Store {
	return &Store{
		agents:     make(map[string]domain.Agent),
		byExternal: make(map[string]string),
		health:     make(map[string][]domain.HealthRecord),
	}
}

func externalKey(platformID, externalID string) string {
	return platformID + "/" + externalID
}

// --- Agents ---

func (s *Store) CreateAgent(ctx context.Context, agent domain.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[agent.ID]; ok {
		return fmt.Errorf("%w: id %s", domain.ErrAgentAlreadyExists, agent.ID)
	}
	key := externalKey(agent.PlatformID, agent.ExternalID)
	if _, ok := s.byExternal[key]; ok {
		return fmt.Errorf("%w: %s", domain.ErrAgentAlreadyExists, key)
	}

	s.agents[agent.ID] = cloneAgent(agent)
	s.byExternal[key] = agent.ID
	return nil
}

func (s *Store) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[id]
	if !ok {
		return nil, domain.ErrAgentNotFound
	}
	c := cloneAgent(a)
	return &c, nil
}

func (s *Store) FindByExternalID(ctx context.Context, platformID, externalID string) (*domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byExternal[externalKey(platformID, externalID)]
	if !ok {
		return nil, domain.ErrAgentNotFound
	}
	c := cloneAgent(s.agents[id])
	return &c, nil
}

func (s *Store) ListAgents(ctx context.Context, filter domain.AgentFilter) ([]*domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(filter.Search)
	result := make([]*domain.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		if filter.PlatformID != "" && a.PlatformID != filter.PlatformID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(a.Name), search) {
			continue
		}
		c := cloneAgent(a)
		result = append(result, &c)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// UpdateAgent перезаписывает изменяемые поля. Пара (platformID, externalID) не меняется.
func (s *Store) UpdateAgent(ctx context.Context, agent domain.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.agents[agent.ID]
	if !ok {
		return domain.ErrAgentNotFound
	}
	agent.PlatformID = cur.PlatformID
	agent.ExternalID = cur.ExternalID
	agent.CreatedAt = cur.CreatedAt
	if agent.UpdatedAt.IsZero() {
		agent.UpdatedAt = time.Now()
	}
	s.agents[agent.ID] = cloneAgent(agent)
	return nil
}

func (s *Store) UpdateAgentStatus(ctx context.Context, id string, status domain.AgentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return domain.ErrAgentNotFound
	}
	a.Status = status
	a.UpdatedAt = time.Now()
	s.agents[id] = a
	return nil
}

func (s *Store) UpdateAgentHealth(ctx context.Context, id string, health domain.HealthStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return domain.ErrAgentNotFound
	}
	a.HealthStatus = cloneHealth(health)
	s.agents[id] = a
	return nil
}

// DeleteAgent удаляет агента вместе с историей здоровья
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return domain.ErrAgentNotFound
	}
	delete(s.agents, id)
	delete(s.byExternal, externalKey(a.PlatformID, a.ExternalID))
	delete(s.health, id)
	return nil
}

// --- Health history ---

func (s *Store) AppendHealthRecord(ctx context.Context, rec domain.HealthRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[rec.AgentID]; !ok {
		return domain.ErrAgentNotFound
	}
	rec.HealthStatus = cloneHealth(rec.HealthStatus)
	records := append(s.health[rec.AgentID], rec)
	if len(records) > MaxHealthRecords {
		records = records[len(records)-MaxHealthRecords:]
	}
	s.health[rec.AgentID] = records
	return nil
}

// HealthHistory возвращает записи от новых к старым
func (s *Store) HealthHistory(ctx context.Context, agentID string, limit int) ([]domain.HealthRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.health[agentID]
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}
	out := make([]domain.HealthRecord, 0, limit)
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		r := records[i]
		r.HealthStatus = cloneHealth(r.HealthStatus)
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) LatestHealth(ctx context.Context, agentID string) (*domain.HealthRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.health[agentID]
	if len(records) == 0 {
		return nil, nil
	}
	r := records[len(records)-1]
	r.HealthStatus = cloneHealth(r.HealthStatus)
	return &r, nil
}

func cloneAgent(a domain.Agent) domain.Agent {
	if a.Capabilities != nil {
		a.Capabilities = append([]string(nil), a.Capabilities...)
	}
	a.Configuration = cloneMap(a.Configuration)
	a.HealthStatus = cloneHealth(a.HealthStatus)
	return a
}

func cloneHealth(h domain.HealthStatus) domain.HealthStatus {
	h.Details = cloneMap(h.Details)
	return h
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
