package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/akashrtd/cubcen-sub008/internal/audit"
	"github.com/akashrtd/cubcen-sub008/internal/connectors"
	"github.com/akashrtd/cubcen-sub008/internal/console/handler"
	"github.com/akashrtd/cubcen-sub008/internal/console/server"
	"github.com/akashrtd/cubcen-sub008/internal/console/service"
	"github.com/akashrtd/cubcen-sub008/internal/engine"
	"github.com/akashrtd/cubcen-sub008/internal/infra"
	"github.com/akashrtd/cubcen-sub008/internal/infra/auth"
	"github.com/akashrtd/cubcen-sub008/internal/notify"
	"github.com/akashrtd/cubcen-sub008/internal/repository/memory"
	"github.com/akashrtd/cubcen-sub008/internal/repository/postgres"
)

type storage struct {
	agents     service.AgentRepository
	health     service.HealthRepository
	executions interface {
		audit.Storage
		service.ExecutionLogProvider
	}
}

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: ./config.yaml or ./configs/config.yaml)")
	flag.Parse()

	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfigFrom(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	// 2. Хранилище
	store, closeStore, err := openStorage(appCtx, cfg.Database)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer closeStore()

	// 3. Redis (опционально): уведомления, блокировки discovery, сигналы мониторинга
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			// Не фатально: Pub/Sub переподключится, блокировка работает fail-open
			logger.Warn("redis unreachable at startup", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		pingCancel()
	}

	// 4. Уведомления
	var sinks notify.Multi
	var hub *notify.Hub
	if cfg.Notifications.WebSocket {
		hub = notify.NewHub(cfg.Notifications.MaxWSConnections, logger)
		go hub.Run(appCtx)
		sinks = append(sinks, hub)
	}
	if cfg.Notifications.Redis && rdb != nil {
		sinks = append(sinks, notify.NewRedisSink(rdb, logger))
	}

	// 5. Журнал исполнений: данные полетят в хранилище пачками
	execLog := audit.NewExecutionLog(store.executions, cfg.Audit, metrics, logger)
	execLog.Start()

	// 6. Платформы
	manager := connectors.NewManager(connectors.Dependencies{
		Logger:  logger,
		Metrics: metrics,
		Options: cfg.Adapters,
	})
	if cfg.PlatformsFile != "" {
		platforms, err := infra.LoadPlatforms(cfg.PlatformsFile)
		if err != nil {
			logger.Fatal("failed to load platforms", zap.Error(err))
		}
		for _, p := range platforms {
			if _, err := manager.AddPlatform(appCtx, p); err != nil {
				logger.Fatal("failed to register platform", zap.String("platform_id", p.ID), zap.Error(err))
			}
		}
	}
	for id, st := range manager.ConnectAll(appCtx) {
		if !st.Connected {
			logger.Warn("platform not connected", zap.String("platform_id", id), zap.String("error", st.Error))
		}
	}

	// 7. Сервис агентов
	deps := service.Deps{
		Agents:        store.agents,
		Health:        store.health,
		Adapters:      manager,
		Notifier:      sinks,
		Auditor:       execLog,
		Metrics:       metrics,
		Logger:        logger,
		DefaultHealth: cfg.Monitoring.HealthCheck(),
	}
	if rdb != nil {
		deps.Locker = engine.NewRedisLocker(rdb, cfg.Discovery.LockTTL)
	}
	agentService := service.NewAgentService(deps)
	agentService.SubscribePlatformEvents()

	if rdb != nil {
		go engine.ListenSignals(appCtx, rdb, logger.Named("monitoring-signals"), infra.RedisChanMonitoringSignal, nil,
			func(sig engine.Signal) { agentService.HandleMonitoringSignal(appCtx, sig) })
	}

	if cfg.Discovery.OnStartup {
		res, err := agentService.DiscoverAgents(appCtx, "")
		if err != nil {
			logger.Error("startup discovery failed", zap.Error(err))
		} else if len(res.Errors) > 0 {
			logger.Warn("startup discovery finished with errors", zap.Strings("errors", res.Errors))
		}
	}
	if cfg.Monitoring.Autostart && cfg.Monitoring.Enabled {
		if _, err := agentService.StartAllHealthMonitoring(appCtx); err != nil {
			logger.Error("monitoring autostart failed", zap.Error(err))
		}
	}

	// 8. HTTP API
	validator, authHandler, err := buildAuth(cfg.Auth, logger)
	if err != nil {
		logger.Fatal("auth init failed", zap.Error(err))
	}
	handlers := server.Handlers{
		Auth:      authHandler,
		Agents:    handler.NewAgentHandler(agentService, logger),
		Platforms: handler.NewPlatformHandler(manager, agentService.SubscribePlatformEvents, logger),
		Dashboard: handler.NewDashboardHandler(agentService, logger),
		Audit:     handler.NewAuditHandler(service.NewAuditService(store.executions), logger),
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	if hub != nil {
		handlers.WebSocket = http.HandlerFunc(hub.ServeWS)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.NewConsoleServer(logger, validator, handlers),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 9. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("cubcen started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("cubcen stopping")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}

	// Порядок: таймеры мониторинга -> адаптеры -> фоновые горутины -> добить аудит
	agentService.Cleanup()
	if err := manager.DisconnectAll(shutdownCtx); err != nil {
		logger.Warn("failed to disconnect platforms", zap.Error(err))
	}
	cancel()
	execLog.Stop()
	logger.Info("cubcen exited properly")
}

func openStorage(ctx context.Context, cfg infra.DatabaseConfig) (storage, func(), error) {
	if cfg.Driver == "memory" {
		mem := memory.NewStore()
		return storage{agents: mem, health: mem, executions: memory.NewExecutionLog()}, func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:             cfg.URL,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
	})
	if err != nil {
		return storage{}, nil, err
	}
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return storage{}, nil, err
	}
	return storage{
		agents:     postgres.NewAgentRepo(pool),
		health:     postgres.NewHealthRepo(pool),
		executions: postgres.NewExecutionRepo(pool),
	}, pool.Close, nil
}

// buildAuth: без публичного ключа API открыт, без закрытого — логин недоступен
func buildAuth(cfg infra.AuthConfig, logger *zap.Logger) (auth.TokenValidator, *handler.AuthHandler, error) {
	if len(cfg.PublicKey) == 0 {
		logger.Warn("auth public key is not configured, console API is unauthenticated")
		return nil, nil, nil
	}
	pub, err := auth.ParseRSAPublicKey(cfg.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	validator := auth.NewBaseValidator(pub)

	if len(cfg.PrivateKey) == 0 {
		return validator, nil, nil
	}
	priv, err := auth.ParseRSAPrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, nil, err
	}
	authService := service.NewAuthService(service.NewStaticOperators(cfg.DomainOperators()), priv, cfg.TokenTTL)
	return validator, handler.NewAuthHandler(authService, logger), nil
}
