package connectors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"go.uber.org/zap"
)

// Правило статуса по последним запускам: StatusErrorThreshold ошибок из StatusWindowSize -> error
const (
	StatusWindowSize     = 5
	StatusErrorThreshold = 3
)

// DetermineAgentStatus — общее для всех платформ правило вывода статуса агента.
// recentErrored — исходы последних запусков, самый свежий первым (true = ошибка).
func DetermineAgentStatus(locked, active bool, recentErrored []bool) domain.AgentStatus {
	if locked {
		return domain.StatusMaintenance
	}
	if !active {
		return domain.StatusInactive
	}

	window := recentErrored
	if len(window) > StatusWindowSize {
		window = window[:StatusWindowSize]
	}
	errored := 0
	for _, e := range window {
		if e {
			errored++
		}
	}
	if errored >= StatusErrorThreshold {
		return domain.StatusError
	}
	return domain.StatusActive
}

// runSample — нормализованный запуск агента на любой платформе
type runSample struct {
	Errored  bool
	Duration time.Duration
	At       time.Time
}

func erroredFlags(runs []runSample) []bool {
	flags := make([]bool, len(runs))
	for i, r := range runs {
		flags[i] = r.Errored
	}
	return flags
}

// runMetrics считает метрики по выборке запусков (самый свежий первым)
func runMetrics(runs []runSample) (domain.AgentMetrics, *time.Time) {
	var (
		m        domain.AgentMetrics
		total    time.Duration
		measured int
		lastRun  *time.Time
	)
	for i, r := range runs {
		m.TotalExecutions++
		if r.Errored {
			m.FailedExecutions++
		} else {
			m.SuccessfulExecutions++
		}
		if r.Duration > 0 {
			total += r.Duration
			measured++
		}
		if i == 0 && !r.At.IsZero() {
			at := r.At
			lastRun = &at
		}
	}
	if measured > 0 {
		m.AverageExecutionTimeMs = float64(total.Milliseconds()) / float64(measured)
	}
	return m, lastRun
}

// statusFailure — отчет о статусе, когда платформа недоступна: error и нулевые метрики
func statusFailure(externalID string, err error) domain.AgentStatusReport {
	return domain.AgentStatusReport{
		AgentID: externalID,
		Status:  domain.StatusError,
		Error:   ExtractErrorMessage(err),
	}
}

// probeHealth превращает результат легкого запроса к платформе в HealthStatus
func probeHealth(start time.Time, err error, degradedAfter time.Duration, details map[string]interface{}) domain.HealthStatus {
	elapsed := time.Since(start)
	hs := domain.HealthStatus{
		Status:         domain.HealthHealthy,
		LastCheck:      time.Now(),
		ResponseTimeMs: elapsed.Milliseconds(),
		Details:        details,
	}
	switch {
	case err != nil:
		hs.Status = domain.HealthUnhealthy
		hs.Error = ExtractErrorMessage(err)
	case elapsed > degradedAfter:
		hs.Status = domain.HealthDegraded
	}
	return hs
}

var errExecutionTimeout = errors.New("execution did not finish in time")

// waitForCompletion опрашивает статус запуска до завершения, таймаута или отмены ctx.
// Ошибки отдельных опросов не прерывают ожидание.
func waitForCompletion(
	parent context.Context,
	every, maxWait time.Duration,
	logger *zap.Logger,
	check func(ctx context.Context) (bool, error),
) error {
	ctx, cancel := context.WithTimeout(parent, maxWait)
	defer cancel()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if parent.Err() != nil {
				return parent.Err()
			}
			return fmt.Errorf("%w after %v", errExecutionTimeout, maxWait)
		case <-ticker.C:
			done, err := check(ctx)
			if err != nil {
				logger.Debug("execution status poll failed", zap.String("error", ExtractErrorMessage(err)))
				continue
			}
			if done {
				return nil
			}
		}
	}
}

func executionFailure(start time.Time, executionID string, err error) domain.ExecutionResult {
	return domain.ExecutionResult{
		Success:         false,
		ExecutionID:     executionID,
		Error:           ExtractErrorMessage(err),
		ExecutionTimeMs: time.Since(start).Milliseconds(),
		Timestamp:       time.Now(),
	}
}
