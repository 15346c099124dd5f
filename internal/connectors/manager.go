package connectors

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"go.uber.org/zap"
)

// Manager — реестр адаптеров: platformID -> PlatformAdapter
type Manager struct {
	opsMu sync.Mutex // Сериализует Add/Remove, чтобы старый адаптер не потерялся

	mu        sync.RWMutex
	adapters  map[string]PlatformAdapter
	factories map[domain.PlatformType]Factory

	deps   Dependencies
	logger *zap.Logger
}

func NewManager(deps Dependencies) *Manager {
	deps = deps.normalize()
	m := &Manager{
		adapters:  make(map[string]PlatformAdapter),
		factories: make(map[domain.PlatformType]Factory),
		deps:      deps,
		logger:    deps.Logger.With(zap.String("mod", "adapter_manager")),
	}

	m.RegisterFactory(domain.PlatformMake, func(cfg domain.PlatformConfig, deps Dependencies) (PlatformAdapter, error) {
		return NewMakeAdapter(cfg, deps)
	})
	m.RegisterFactory(domain.PlatformN8N, func(cfg domain.PlatformConfig, deps Dependencies) (PlatformAdapter, error) {
		return NewN8NAdapter(cfg, deps)
	})
	m.RegisterFactory(domain.PlatformZapier, func(cfg domain.PlatformConfig, deps Dependencies) (PlatformAdapter, error) {
		return NewZapierAdapter(cfg, deps)
	})
	m.RegisterFactory(domain.PlatformMock, func(cfg domain.PlatformConfig, deps Dependencies) (PlatformAdapter, error) {
		return NewMockAdapter(cfg, deps)
	})
	return m
}

// RegisterFactory добавляет или подменяет фабрику для типа платформы
func (m *Manager) RegisterFactory(t domain.PlatformType, f Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[t] = f
}

// AddPlatform создает адаптер. Старый адаптер с тем же ID отключается до установки нового.
func (m *Manager) AddPlatform(ctx context.Context, cfg domain.PlatformConfig) (PlatformAdapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	factory, ok := m.factories[cfg.Type]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unsupported platform type %q", domain.ErrInvalidConfig, cfg.Type)
	}

	adapter, err := factory(cfg, m.deps)
	if err != nil {
		return nil, fmt.Errorf("create %s adapter %s: %w", cfg.Type, cfg.ID, err)
	}

	m.opsMu.Lock()
	defer m.opsMu.Unlock()

	// Отключаем старый вне m.mu: его цикл опроса может звать GetAdapter из callback
	m.mu.Lock()
	old := m.adapters[cfg.ID]
	delete(m.adapters, cfg.ID)
	m.mu.Unlock()

	if old != nil {
		if err := old.Disconnect(ctx); err != nil {
			m.logger.Warn("failed to disconnect replaced adapter",
				zap.String("platform_id", cfg.ID), zap.Error(err))
		}
	}

	m.mu.Lock()
	m.adapters[cfg.ID] = adapter
	m.mu.Unlock()

	m.logger.Info("platform registered",
		zap.String("platform_id", cfg.ID),
		zap.String("platform_type", string(cfg.Type)),
		zap.Bool("replaced", old != nil))
	return adapter, nil
}

func (m *Manager) GetAdapter(platformID string) (PlatformAdapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.adapters[platformID]
	return a, ok
}

// RemovePlatform отключает адаптер и убирает его из реестра
func (m *Manager) RemovePlatform(ctx context.Context, platformID string) error {
	m.opsMu.Lock()
	defer m.opsMu.Unlock()

	m.mu.Lock()
	a, ok := m.adapters[platformID]
	delete(m.adapters, platformID)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrPlatformNotFound, platformID)
	}
	if err := a.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect %s: %w", platformID, err)
	}
	m.logger.Info("platform removed", zap.String("platform_id", platformID))
	return nil
}

func (m *Manager) ConnectPlatform(ctx context.Context, platformID string) (domain.ConnectionStatus, error) {
	a, ok := m.GetAdapter(platformID)
	if !ok {
		return domain.ConnectionStatus{}, fmt.Errorf("%w: %s", domain.ErrPlatformNotFound, platformID)
	}
	return a.Connect(ctx), nil
}

// ConnectAll подключает все платформы, сбой одной не мешает остальным
func (m *Manager) ConnectAll(ctx context.Context) map[string]domain.ConnectionStatus {
	out := make(map[string]domain.ConnectionStatus)
	for _, id := range m.PlatformIDs() {
		status, err := m.ConnectPlatform(ctx, id)
		if err != nil {
			continue // Платформу удалили между листингом и подключением
		}
		if !status.Connected {
			m.logger.Warn("platform connect failed",
				zap.String("platform_id", id), zap.String("error", status.Error))
		}
		out[id] = status
	}
	return out
}

// PlatformIDs — отсортированный список зарегистрированных платформ
func (m *Manager) PlatformIDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.adapters))
	for id := range m.adapters {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (m *Manager) ListPlatforms() []domain.PlatformInfo {
	var out []domain.PlatformInfo
	for _, id := range m.PlatformIDs() {
		a, ok := m.GetAdapter(id)
		if !ok {
			continue
		}
		cfg := a.Config()
		out = append(out, domain.PlatformInfo{
			ID:             cfg.ID,
			Name:           cfg.Name,
			Type:           cfg.Type,
			BaseURL:        cfg.BaseURL,
			Connected:      a.IsConnected(),
			LastError:      a.LastError(),
			CredentialType: domain.CredentialKind(cfg.Credentials),
			BreakerState:   a.BreakerStats().State,
		})
	}
	return out
}

// DisconnectAll отключает все адаптеры, продолжая после ошибок
func (m *Manager) DisconnectAll(ctx context.Context) error {
	var errs []error
	for _, id := range m.PlatformIDs() {
		a, ok := m.GetAdapter(id)
		if !ok {
			continue
		}
		if err := a.Disconnect(ctx); err != nil {
			m.logger.Error("failed to disconnect platform", zap.String("platform_id", id), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
