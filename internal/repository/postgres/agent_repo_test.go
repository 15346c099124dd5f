package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestAgentFilterClause(t *testing.T) {
	tests := []struct {
		name      string
		filter    domain.AgentFilter
		wantWhere string
		wantArgs  []interface{}
	}{
		{"empty", domain.AgentFilter{}, "", nil},
		{"platform", domain.AgentFilter{PlatformID: "p1"}, " WHERE platform_id = $1", []interface{}{"p1"}},
		{
			"all fields",
			domain.AgentFilter{PlatformID: "p1", Status: domain.StatusError, Search: "50%_off"},
			" WHERE platform_id = $1 AND status = $2 AND name ILIKE $3",
			[]interface{}{"p1", "error", `%50\%\_off%`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := agentFilterClause(tt.filter)
			assert.Equal(t, tt.wantWhere, where)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil))
	assert.ErrorIs(t, mapError(pgx.ErrNoRows), domain.ErrAgentNotFound)
	assert.ErrorIs(t, mapError(fmt.Errorf("wrap: %w", &pgconn.PgError{Code: pgUniqueViolation})), domain.ErrAgentAlreadyExists)
	assert.ErrorIs(t, mapError(&pgconn.PgError{Code: pgForeignKeyViolation}), domain.ErrAgentNotFound)

	other := errors.New("boom")
	assert.Equal(t, other, mapError(other))
}
