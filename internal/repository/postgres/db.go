package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Коды ошибок Postgres
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgInvalidTextRepr     = "22P02" // Не-UUID в колонке id: такого агента быть не может
)

type PoolConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// NewPool открывает пул и сразу проверяет соединение
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pcfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// schema идемпотентна: безопасно применять при каждом старте
const schema = `
CREATE TABLE IF NOT EXISTS agents (
	id            UUID PRIMARY KEY,
	external_id   TEXT NOT NULL,
	platform_id   TEXT NOT NULL,
	platform_type TEXT NOT NULL DEFAULT '',
	name          TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	capabilities  JSONB NOT NULL DEFAULT '[]',
	configuration JSONB NOT NULL DEFAULT '{}',
	health        JSONB NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (platform_id, external_id)
);

CREATE TABLE IF NOT EXISTS agent_health_records (
	id               UUID PRIMARY KEY,
	agent_id         UUID NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
	status           TEXT NOT NULL,
	checked_at       TIMESTAMPTZ NOT NULL,
	response_time_ms BIGINT NOT NULL DEFAULT 0,
	details          JSONB,
	error            TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_health_records_agent_time
	ON agent_health_records (agent_id, checked_at DESC);

CREATE TABLE IF NOT EXISTS execution_logs (
	id           UUID PRIMARY KEY,
	agent_id     TEXT NOT NULL,
	external_id  TEXT NOT NULL DEFAULT '',
	platform_id  TEXT NOT NULL,
	execution_id TEXT NOT NULL DEFAULT '',
	params       JSONB,
	success      BOOLEAN NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	duration_ms  BIGINT NOT NULL DEFAULT 0,
	timestamp    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_execution_logs_agent_time
	ON execution_logs (agent_id, timestamp DESC);
`

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

// mapError переводит ошибки драйвера в доменные
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrAgentNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", domain.ErrAgentAlreadyExists, pgErr.Detail)
		case pgForeignKeyViolation, pgInvalidTextRepr:
			return domain.ErrAgentNotFound
		}
	}
	return err
}
