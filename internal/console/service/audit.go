package service

import (
	"context"
	"fmt"

	"github.com/akashrtd/cubcen-sub008/internal/audit"
)

const (
	DefaultExecutionLimit = 100
	MaxExecutionLimit     = 1000
)

// ExecutionLogProvider описывает контракт для чтения журнала запусков.
// Используем audit.ExecutionEvent, чтобы запись и чтение жили на одной модели.
type ExecutionLogProvider interface {
	FetchExecutions(ctx context.Context, filter audit.ExecutionFilter) ([]audit.ExecutionEvent, error)
}

type AuditService struct {
	repo ExecutionLogProvider
}

func NewAuditService(repo ExecutionLogProvider) *AuditService {
	return &AuditService{repo: repo}
}

// FetchExecutions запрашивает журнал с фильтрацией. Limit приводится к [1, MaxExecutionLimit].
func (s *AuditService) FetchExecutions(ctx context.Context, filter audit.ExecutionFilter) ([]audit.ExecutionEvent, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultExecutionLimit
	}
	if filter.Limit > MaxExecutionLimit {
		filter.Limit = MaxExecutionLimit
	}

	events, err := s.repo.FetchExecutions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch executions: %w", err)
	}
	if events == nil {
		return []audit.ExecutionEvent{}, nil
	}
	return events, nil
}
