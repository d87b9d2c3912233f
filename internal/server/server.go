// Пакет server — HTTP-сервер sitepanel с graceful shutdown.
// Без TLS, TLS termination на ingress.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/bigkaa/sitepanel/internal/api/handlers"
	"github.com/bigkaa/sitepanel/internal/api/middleware"
	"github.com/bigkaa/sitepanel/internal/api/openapi"
	"github.com/bigkaa/sitepanel/internal/config"
)

// Deps — обработчики и middleware, из которых собирается роутер.
type Deps struct {
	API     *handlers.APIHandler
	Health  *handlers.HealthHandler
	JWTAuth *middleware.JWTAuth
	// Validator — проверка запросов по OpenAPI (nil — без проверки)
	Validator *openapi.Validator
	// LoginLimiter — ограничение попыток входа (nil — без ограничения)
	LoginLimiter *middleware.LoginRateLimiter
}

// Server — HTTP-сервер sitepanel.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными маршрутами и middleware.
func New(cfg *config.Config, logger *slog.Logger, deps Deps) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(cfg, logger, deps),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "http_server")),
		cfg:        cfg,
	}
}

// NewRouter собирает chi-роутер sitepanel.
//
// Публичные: /health/*, /metrics, /api/auth/login|refresh|logout.
// JWT: /api/auth/session, /api/rpc/change_user_role (права проверяет
// серверная функция). JWT + admin: /api/admin/*. JWT + super_admin:
// повтор операции провижининга.
func NewRouter(cfg *config.Config, logger *slog.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()

	// Глобальные middleware
	r.Use(middleware.TrustedRealIP(cfg.TrustedProxies))
	r.Use(chimw.Recoverer)
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.RequestLogger(logger))
	r.Use(cors.Handler(corsOptions(cfg.CORSAllowedOrigins)))

	// Health и metrics опрашиваются Kubernetes напрямую
	r.Get("/health/live", deps.Health.HealthLive)
	r.Get("/health/ready", deps.Health.HealthReady)
	r.Get("/metrics", deps.Health.GetMetrics)
	r.Get("/openapi.yaml", serveSpec)

	r.Route("/api", func(r chi.Router) {
		if deps.Validator != nil {
			r.Use(deps.Validator.Middleware())
		}

		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if deps.LoginLimiter != nil {
					r.Use(deps.LoginLimiter.Middleware())
				}
				r.Post("/login", deps.API.Login)
			})
			r.Post("/refresh", deps.API.RefreshToken)
			r.Post("/logout", deps.API.Logout)
			r.With(deps.JWTAuth.Middleware()).Get("/session", deps.API.GetSession)
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.JWTAuth.Middleware())

			r.Post("/rpc/change_user_role", deps.API.ChangeUserRole)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireAdmin())

				r.Get("/users", deps.API.ListUsers)
				r.Get("/roles", deps.API.ListRoles)
				r.Get("/stats", deps.API.GetStats)
				r.Post("/create-user", deps.API.CreateUser)
				r.Delete("/delete-user", deps.API.DeleteUser)
				r.Get("/provisioning-operations", deps.API.ListProvisioningOperations)
				r.With(middleware.RequireSuperAdmin()).
					Post("/provisioning-operations/{id}/retry", deps.API.RetryProvisioningOperation)
			})
		})
	})

	return r
}

// corsOptions — политика CORS для браузерной панели.
// Пустой список источников отключает кросс-доменные запросы.
func corsOptions(origins []string) cors.Options {
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отмены ctx. Затем выполняется graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Контекст сервера отменён")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}

// serveSpec отдаёт контракт API.
func serveSpec(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(openapi.Spec())
}
