package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthRepo — append-only история проверок
type HealthRepo struct {
	pool *pgxpool.Pool
}

func NewHealthRepo(pool *pgxpool.Pool) *HealthRepo {
	return &HealthRepo{pool: pool}
}

func (r *HealthRepo) AppendHealthRecord(ctx context.Context, rec domain.HealthRecord) error {
	var details []byte
	if rec.Details != nil {
		var err error
		if details, err = json.Marshal(rec.Details); err != nil {
			return fmt.Errorf("postgres: marshal details: %w", err)
		}
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO agent_health_records (id, agent_id, status, checked_at, response_time_ms, details, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.AgentID, string(rec.Status), rec.LastCheck, rec.ResponseTimeMs, details, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("postgres: append health record: %w", mapError(err))
	}
	return nil
}

const healthColumns = `id::text, agent_id::text, status, checked_at, response_time_ms, details, error`

// HealthHistory возвращает записи от новых к старым
func (r *HealthRepo) HealthHistory(ctx context.Context, agentID string, limit int) ([]domain.HealthRecord, error) {
	query := `SELECT ` + healthColumns + ` FROM agent_health_records WHERE agent_id = $1 ORDER BY checked_at DESC`
	args := []interface{}{agentID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: health history: %w", err)
	}
	defer rows.Close()

	records := make([]domain.HealthRecord, 0)
	for rows.Next() {
		rec, err := scanHealth(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan health record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LatestHealth — nil, если проверок еще не было
func (r *HealthRepo) LatestHealth(ctx context.Context, agentID string) (*domain.HealthRecord, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+healthColumns+` FROM agent_health_records WHERE agent_id = $1 ORDER BY checked_at DESC LIMIT 1`,
		agentID)
	rec, err := scanHealth(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: latest health: %w", err)
	}
	return &rec, nil
}

func scanHealth(row pgx.Row) (domain.HealthRecord, error) {
	var (
		rec     domain.HealthRecord
		status  string
		details []byte
	)
	if err := row.Scan(&rec.ID, &rec.AgentID, &status, &rec.LastCheck, &rec.ResponseTimeMs, &details, &rec.Error); err != nil {
		return rec, err
	}
	rec.Status = domain.HealthState(status)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &rec.Details); err != nil {
			return rec, fmt.Errorf("decode details: %w", err)
		}
	}
	return rec, nil
}
