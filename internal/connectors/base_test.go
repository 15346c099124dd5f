package connectors

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) *MockAdapter {
	t.Helper()
	a, err := NewMockAdapter(platformConfig(domain.PlatformMock, "mock://local", domain.APIKeyCredentials{APIKey: "k"}), testDeps())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Disconnect(context.Background()) })
	return a
}

func TestBaseAdapterValidateConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  domain.PlatformConfig
	}{
		{"missing id", domain.PlatformConfig{Name: "n", Type: domain.PlatformMock, BaseURL: "u"}},
		{"missing name", domain.PlatformConfig{ID: "i", Type: domain.PlatformMock, BaseURL: "u"}},
		{"missing type", domain.PlatformConfig{ID: "i", Name: "n", BaseURL: "u"}},
		{"missing base url", domain.PlatformConfig{ID: "i", Name: "n", Type: domain.PlatformMock}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewBaseAdapter(tt.cfg, testDeps()).ValidateConfig()
			assert.ErrorIs(t, err, domain.ErrInvalidConfig)
		})
	}
}

func TestBaseAdapterCallbacksInOrderAndIsolated(t *testing.T) {
	b := NewBaseAdapter(platformConfig(domain.PlatformMock, "mock://", nil), testDeps())

	var got []string
	b.AddEventCallback(func(domain.PlatformEvent) { got = append(got, "first") })
	b.AddEventCallback(func(domain.PlatformEvent) { panic("broken subscriber") })
	third := b.AddEventCallback(func(ev domain.PlatformEvent) { got = append(got, "third:"+ev.AgentID) })

	b.Emit(domain.PlatformEvent{Type: domain.EventTaskCompleted, AgentID: "a1"})
	assert.Equal(t, []string{"first", "third:a1"}, got)

	assert.True(t, b.RemoveEventCallback(third))
	assert.False(t, b.RemoveEventCallback(third), "removing twice is a no-op")
	assert.False(t, b.RemoveEventCallback(999))
	assert.Equal(t, 2, b.CallbackCount())
}

func TestBaseAdapterEmitFillsDefaults(t *testing.T) {
	b := NewBaseAdapter(platformConfig(domain.PlatformMock, "mock://", nil), testDeps())

	var got domain.PlatformEvent
	b.AddEventCallback(func(ev domain.PlatformEvent) { got = ev })
	b.Emit(domain.PlatformEvent{Type: domain.EventErrorOccurred, AgentID: "a"})

	assert.Equal(t, "mock-test", got.PlatformID)
	assert.False(t, got.Timestamp.IsZero())
}

func TestBaseAdapterPollingLifecycle(t *testing.T) {
	a := newMock(t)

	var (
		mu  sync.Mutex
		got []string
	)
	first := a.SubscribeToEvents(func(ev domain.PlatformEvent) {
		mu.Lock()
		got = append(got, ev.AgentID)
		mu.Unlock()
	})
	second := a.SubscribeToEvents(func(domain.PlatformEvent) {})
	assert.True(t, a.IsPolling())

	a.QueueEvents(domain.PlatformEvent{Type: domain.EventTaskCompleted, AgentID: "mock-1"})
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	// Цикл живет, пока есть хоть одна подписка
	a.UnsubscribeFromEvents(first)
	assert.True(t, a.IsPolling())
	a.UnsubscribeFromEvents(second)
	assert.False(t, a.IsPolling())

	a.QueueEvents(domain.PlatformEvent{Type: domain.EventTaskCompleted, AgentID: "mock-2"})
	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"mock-1"}, got)
	mu.Unlock()
}

func TestBaseAdapterDisconnectStopsPolling(t *testing.T) {
	a := newMock(t)
	a.SubscribeToEvents(func(domain.PlatformEvent) {})
	require.True(t, a.IsPolling())

	require.NoError(t, a.Disconnect(context.Background()))
	assert.False(t, a.IsPolling())
	assert.False(t, a.IsConnected())
}

func TestMockAdapterConnect(t *testing.T) {
	a := newMock(t)
	status := a.Connect(context.Background())
	require.True(t, status.Connected)
	require.NotNil(t, status.LastConnected)
	assert.True(t, a.IsConnected())

	a.SetHealth(domain.HealthStatus{Status: domain.HealthUnhealthy, Error: "down"})
	status = a.Connect(context.Background())
	assert.False(t, status.Connected)
	assert.Equal(t, "down", status.Error)
	assert.Equal(t, "down", a.LastError())
}
