package service

import (
	"context"
	"testing"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/audit"
	"github.com/akashrtd/cubcen-sub008/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchExecutionsFiltersAndClampsLimit(t *testing.T) {
	repo := memory.NewExecutionLog()
	ctx := context.Background()

	var batch []audit.ExecutionEvent
	for i := 0; i < 5; i++ {
		agentID := "a1"
		if i%2 == 1 {
			agentID = "a2"
		}
		batch = append(batch, audit.ExecutionEvent{
			ID:         string(rune('a' + i)),
			AgentID:    agentID,
			PlatformID: "p1",
			Success:    i != 4,
			Timestamp:  time.Now(),
		})
	}
	require.NoError(t, repo.WriteBatch(ctx, batch))

	svc := NewAuditService(repo)

	all, err := svc.FetchExecutions(ctx, audit.ExecutionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 5)
	assert.Equal(t, "e", all[0].ID) // новые первыми

	a1, err := svc.FetchExecutions(ctx, audit.ExecutionFilter{AgentID: "a1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, a1, 2)
	assert.False(t, a1[0].Success)

	none, err := svc.FetchExecutions(ctx, audit.ExecutionFilter{PlatformID: "other"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}
