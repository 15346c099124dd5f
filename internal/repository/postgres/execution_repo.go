package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/akashrtd/cubcen-sub008/internal/audit"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ExecutionRepo — журнал запусков агентов (audit.Storage + чтение)
type ExecutionRepo struct {
	pool *pgxpool.Pool
}

func NewExecutionRepo(pool *pgxpool.Pool) *ExecutionRepo {
	return &ExecutionRepo{pool: pool}
}

var executionColumns = []string{
	"id", "agent_id", "external_id", "platform_id", "execution_id",
	"params", "success", "error", "duration_ms", "timestamp",
}

// WriteBatch пишет пачку через COPY одним round-trip
func (r *ExecutionRepo) WriteBatch(ctx context.Context, events []audit.ExecutionEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(events))
	for _, e := range events {
		var params []byte
		if e.Params != nil {
			var err error
			if params, err = json.Marshal(e.Params); err != nil {
				return fmt.Errorf("postgres: marshal params of %s: %w", e.ID, err)
			}
		}
		rows = append(rows, []interface{}{
			e.ID, e.AgentID, e.ExternalID, e.PlatformID, e.ExecutionID,
			params, e.Success, e.Error, e.DurationMs, e.Timestamp,
		})
	}

	if _, err := r.pool.CopyFrom(ctx, pgx.Identifier{"execution_logs"}, executionColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("postgres: copy execution logs: %w", err)
	}
	return nil
}

// FetchExecutions возвращает события от новых к старым
func (r *ExecutionRepo) FetchExecutions(ctx context.Context, f audit.ExecutionFilter) ([]audit.ExecutionEvent, error) {
	query := `SELECT id::text, agent_id, external_id, platform_id, execution_id, params, success, error, duration_ms, timestamp
		FROM execution_logs
		WHERE ($1 = '' OR agent_id = $1) AND ($2 = '' OR platform_id = $2)
		ORDER BY timestamp DESC`
	args := []interface{}{f.AgentID, f.PlatformID}
	if f.Limit > 0 {
		query += ` LIMIT $3`
		args = append(args, f.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch executions: %w", err)
	}
	defer rows.Close()

	events := make([]audit.ExecutionEvent, 0)
	for rows.Next() {
		var (
			e      audit.ExecutionEvent
			params []byte
		)
		if err := rows.Scan(&e.ID, &e.AgentID, &e.ExternalID, &e.PlatformID, &e.ExecutionID,
			&params, &e.Success, &e.Error, &e.DurationMs, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &e.Params); err != nil {
				return nil, fmt.Errorf("postgres: decode params: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
