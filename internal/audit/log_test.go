package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStorage struct {
	mu      sync.Mutex
	batches [][]ExecutionEvent
	fail    bool
}

func (m *memStorage) WriteBatch(ctx context.Context, events []ExecutionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("db down")
	}
	cp := make([]ExecutionEvent, len(events))
	copy(cp, events)
	m.batches = append(m.batches, cp)
	return nil
}

func (m *memStorage) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func TestExecutionLogFlushesBySize(t *testing.T) {
	store := &memStorage{}
	l := NewExecutionLog(store, Options{BatchSize: 3, FlushInterval: time.Hour}, nil, nil)
	l.Start()
	defer l.Stop()

	for i := 0; i < 3; i++ {
		l.Log(ExecutionEvent{AgentID: "a"})
	}
	assert.Eventually(t, func() bool { return store.total() == 3 }, time.Second, 5*time.Millisecond)
}

func TestExecutionLogFlushesByTimer(t *testing.T) {
	store := &memStorage{}
	l := NewExecutionLog(store, Options{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, nil, nil)
	l.Start()
	defer l.Stop()

	l.Log(ExecutionEvent{AgentID: "a"})
	assert.Eventually(t, func() bool { return store.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestExecutionLogDrainsOnStop(t *testing.T) {
	store := &memStorage{}
	l := NewExecutionLog(store, Options{BatchSize: 1000, FlushInterval: time.Hour}, nil, nil)
	l.Start()

	for i := 0; i < 250; i++ {
		l.Log(ExecutionEvent{AgentID: "a", Success: true})
	}
	l.Stop()

	assert.Equal(t, 250, store.total())

	// После остановки события отбрасываются, повторный Stop безопасен
	l.Log(ExecutionEvent{AgentID: "late"})
	l.Stop()
	assert.Equal(t, 250, store.total())
}

func TestExecutionLogFillsTimestamp(t *testing.T) {
	store := &memStorage{}
	l := NewExecutionLog(store, Options{}, nil, nil)
	l.Start()
	l.Log(ExecutionEvent{AgentID: "a"})
	l.Stop()

	require.Len(t, store.batches, 1)
	assert.False(t, store.batches[0][0].Timestamp.IsZero())
}

func TestExecutionLogSurvivesStorageFailure(t *testing.T) {
	store := &memStorage{fail: true}
	l := NewExecutionLog(store, Options{BatchSize: 1}, nil, nil)
	l.Start()
	l.Log(ExecutionEvent{AgentID: "a"})
	l.Stop()
	assert.Equal(t, 0, store.total())
}
