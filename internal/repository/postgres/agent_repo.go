package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AgentRepo struct {
	pool *pgxpool.Pool
}

func NewAgentRepo(pool *pgxpool.Pool) *AgentRepo {
	return &AgentRepo{pool: pool}
}

const agentColumns = `id::text, external_id, platform_id, platform_type, name, description, status,
	capabilities, configuration, health, created_at, updated_at`

func (r *AgentRepo) CreateAgent(ctx context.Context, a domain.Agent) error {
	caps, cfg, health, err := marshalAgentJSON(a)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO agents (id, external_id, platform_id, platform_type, name, description, status,
			capabilities, configuration, health, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.ExternalID, a.PlatformID, string(a.Platform), a.Name, a.Description, string(a.Status),
		caps, cfg, health, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create agent: %w", mapError(err))
	}
	return nil
}

func (r *AgentRepo) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	a, err := scanAgent(row)
	if err != nil {
		return nil, mapError(err)
	}
	return a, nil
}

func (r *AgentRepo) FindByExternalID(ctx context.Context, platformID, externalID string) (*domain.Agent, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE platform_id = $1 AND external_id = $2`,
		platformID, externalID)
	a, err := scanAgent(row)
	if err != nil {
		return nil, mapError(err)
	}
	return a, nil
}

func (r *AgentRepo) ListAgents(ctx context.Context, filter domain.AgentFilter) ([]*domain.Agent, error) {
	where, args := agentFilterClause(filter)
	rows, err := r.pool.Query(ctx, `SELECT `+agentColumns+` FROM agents`+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list agents: %w", err)
	}
	defer rows.Close()

	agents := make([]*domain.Agent, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// agentFilterClause строит WHERE с позиционными параметрами
func agentFilterClause(f domain.AgentFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if f.PlatformID != "" {
		args = append(args, f.PlatformID)
		conds = append(conds, fmt.Sprintf("platform_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+escapeLike(f.Search)+"%")
		conds = append(conds, fmt.Sprintf("name ILIKE $%d", len(args)))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *AgentRepo) UpdateAgent(ctx context.Context, a domain.Agent) error {
	caps, cfg, _, err := marshalAgentJSON(a)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE agents SET name = $1, description = $2, platform_type = $3, status = $4,
			capabilities = $5, configuration = $6, updated_at = NOW()
		WHERE id = $7`,
		a.Name, a.Description, string(a.Platform), string(a.Status), caps, cfg, a.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: update agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAgentNotFound
	}
	return nil
}

func (r *AgentRepo) UpdateAgentStatus(ctx context.Context, id string, status domain.AgentStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE agents SET status = $1, updated_at = NOW() WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: failed to update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAgentNotFound
	}
	return nil
}

func (r *AgentRepo) UpdateAgentHealth(ctx context.Context, id string, health domain.HealthStatus) error {
	data, err := json.Marshal(health)
	if err != nil {
		return fmt.Errorf("postgres: marshal health: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE agents SET health = $1 WHERE id = $2`, data, id)
	if err != nil {
		return fmt.Errorf("postgres: update health: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAgentNotFound
	}
	return nil
}

// DeleteAgent — история здоровья уходит каскадом
func (r *AgentRepo) DeleteAgent(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAgentNotFound
	}
	return nil
}

func (r *AgentRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func marshalAgentJSON(a domain.Agent) (caps, cfg, health []byte, err error) {
	if a.Capabilities == nil {
		a.Capabilities = []string{}
	}
	if a.Configuration == nil {
		a.Configuration = map[string]interface{}{}
	}
	if caps, err = json.Marshal(a.Capabilities); err != nil {
		return nil, nil, nil, fmt.Errorf("postgres: marshal capabilities: %w", err)
	}
	if cfg, err = json.Marshal(a.Configuration); err != nil {
		return nil, nil, nil, fmt.Errorf("postgres: marshal configuration: %w", err)
	}
	if health, err = json.Marshal(a.HealthStatus); err != nil {
		return nil, nil, nil, fmt.Errorf("postgres: marshal health: %w", err)
	}
	return caps, cfg, health, nil
}

func scanAgent(row pgx.Row) (*domain.Agent, error) {
	var (
		a                 domain.Agent
		platform, status  string
		caps, cfg, health []byte
	)
	err := row.Scan(&a.ID, &a.ExternalID, &a.PlatformID, &platform, &a.Name, &a.Description, &status,
		&caps, &cfg, &health, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Platform = domain.PlatformType(platform)
	a.Status = domain.AgentStatus(status)

	if err := json.Unmarshal(caps, &a.Capabilities); err != nil {
		return nil, fmt.Errorf("decode capabilities: %w", err)
	}
	if err := json.Unmarshal(cfg, &a.Configuration); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	if err := json.Unmarshal(health, &a.HealthStatus); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	return &a, nil
}
