package server

import (
	"net/http"

	"github.com/akashrtd/cubcen-sub008/internal/console/handler"
	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"github.com/akashrtd/cubcen-sub008/internal/infra/auth"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Handlers — обработчики бизнес-доменов. nil-поля не монтируются.
type Handlers struct {
	Auth      *handler.AuthHandler      // /auth/token
	Agents    *handler.AgentHandler     // /api/v1/agents, /api/v1/monitoring
	Platforms *handler.PlatformHandler  // /api/v1/platforms
	Dashboard *handler.DashboardHandler // /api/v1/overview
	Audit     *handler.AuditHandler     // /api/v1/executions

	WebSocket http.Handler // /ws (notify.Hub)
	Metrics   http.Handler // /metrics (promhttp)
}

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Проверка токенов (RS256). nil — API работает без аутентификации.
	authValidator auth.TokenValidator

	h Handlers
}

// NewConsoleServer инициализирует HTTP API со всеми зависимостями
func NewConsoleServer(logger *zap.Logger, validator auth.TokenValidator, h Handlers) *ConsoleServer {
	s := &ConsoleServer{
		router:        chi.NewRouter(),
		logger:        logger.Named("console-api"),
		authValidator: validator,
		h:             h,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		if s.h.Auth != nil {
			r.Post("/auth/token", s.h.Auth.Login)
		}

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		if s.h.Metrics != nil {
			r.Handle("/metrics", s.h.Metrics)
		}
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (RS256 токен, если ключ настроен) ---
	r.Group(func(r chi.Router) {
		if s.authValidator != nil {
			r.Use(auth.NewMiddleware(s.authValidator, s.logger))
		}

		// Уведомления в реальном времени. Браузер не ставит заголовки на WS,
		// поэтому токен допустим и в ?token=
		if s.h.WebSocket != nil {
			r.With(auth.RequireScope(domain.ScopeAgentsRead)).Handle("/ws", s.h.WebSocket)
		}

		r.Route("/api/v1", func(r chi.Router) {
			if s.h.Agents != nil {
				r.Mount("/agents", s.h.Agents.Routes())
				r.Mount("/monitoring", s.h.Agents.MonitoringRoutes())
			}

			if s.h.Platforms != nil {
				r.Route("/platforms", func(r chi.Router) {
					r.With(auth.RequireScope(domain.ScopeAgentsRead)).Get("/", s.h.Platforms.List)
					r.Group(func(r chi.Router) {
						r.Use(auth.RequireScope(domain.ScopePlatformsAdmin))
						r.Post("/", s.h.Platforms.Add)
						r.Delete("/{platformID}", s.h.Platforms.Remove)
						r.Post("/{platformID}/connect", s.h.Platforms.Connect)
					})
				})
			}

			if s.h.Dashboard != nil {
				r.With(auth.RequireScope(domain.ScopeAgentsRead)).Get("/overview", s.h.Dashboard.GetOverview)
			}
			if s.h.Audit != nil {
				r.With(auth.RequireScope(domain.ScopeAgentsRead)).Get("/executions", s.h.Audit.GetExecutions)
			}
		})
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
