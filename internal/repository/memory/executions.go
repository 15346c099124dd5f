package memory

import (
	"context"
	"sync"

	"github.com/akashrtd/cubcen-sub008/internal/audit"
)

// MaxExecutionEvents — размер кольца журнала запусков в памяти
const MaxExecutionEvents = 10000

// ExecutionLog — журнал запусков в памяти (audit.Storage + чтение)
type ExecutionLog struct {
	mu     sync.RWMutex
	events []audit.ExecutionEvent
}

func NewExecutionLog() *ExecutionLog {
	return &ExecutionLog{}
}

func (l *ExecutionLog) WriteBatch(ctx context.Context, events []audit.ExecutionEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, events...)
	if over := len(l.events) - MaxExecutionEvents; over > 0 {
		l.events = append([]audit.ExecutionEvent(nil), l.events[over:]...)
	}
	return nil
}

// FetchExecutions возвращает события от новых к старым
func (l *ExecutionLog) FetchExecutions(ctx context.Context, f audit.ExecutionFilter) ([]audit.ExecutionEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]audit.ExecutionEvent, 0)
	for i := len(l.events) - 1; i >= 0; i-- {
		ev := l.events[i]
		if f.AgentID != "" && ev.AgentID != f.AgentID {
			continue
		}
		if f.PlatformID != "" && ev.PlatformID != f.PlatformID {
			continue
		}
		out = append(out, ev)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}
