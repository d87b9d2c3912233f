// Точка входа sitepanel — сервер панели администратора сайта.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL
// и Keycloak, собирает сервисный слой и HTTP API, запускает фоновую
// дочистку операций провижининга и topologymetrics.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/sitepanel/internal/api/handlers"
	"github.com/bigkaa/sitepanel/internal/api/middleware"
	"github.com/bigkaa/sitepanel/internal/api/openapi"
	"github.com/bigkaa/sitepanel/internal/config"
	"github.com/bigkaa/sitepanel/internal/database"
	"github.com/bigkaa/sitepanel/internal/events"
	"github.com/bigkaa/sitepanel/internal/keycloak"
	"github.com/bigkaa/sitepanel/internal/repository"
	"github.com/bigkaa/sitepanel/internal/server"
	"github.com/bigkaa/sitepanel/internal/service"
)

const (
	// jwksRefreshInterval — интервал обновления ключей подписи Keycloak
	jwksRefreshInterval = 15 * time.Minute
	// jwtLeeway — допустимое расхождение часов с Keycloak
	jwtLeeway = 30 * time.Second
	// rateLimiterEvictTTL — время хранения лимитера неактивного IP
	rateLimiterEvictTTL = 10 * time.Minute
)

func main() {
	// 1. Конфигурация
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Логирование
	logger := config.SetupLogger(cfg)
	logger.Info("sitepanel запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("SP_DEPHEALTH_GROUP") == "" {
		logger.Warn("SP_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Миграции БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. PostgreSQL
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// Проверка PostgreSQL в topologymetrics идёт через тот же пул
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Keycloak: Admin REST API (service-role) и token endpoint (публичный клиент)
	kcClient := keycloak.New(
		cfg.KeycloakURL,
		cfg.KeycloakRealm,
		cfg.KeycloakClientID,
		cfg.KeycloakClientSecret,
		nil,
		logger,
	)
	oidcClient := keycloak.NewOIDCClient(cfg.KeycloakURL, cfg.KeycloakRealm, cfg.KeycloakPublicClientID, nil)
	logger.Info("Keycloak клиенты созданы",
		slog.String("url", cfg.KeycloakURL),
		slog.String("realm", cfg.KeycloakRealm),
	)

	// 6. События
	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.EventsAMQPURL != "" {
		amqpPublisher, pubErr := events.NewAMQPPublisher(cfg.EventsAMQPURL, cfg.EventsQueue, logger)
		if pubErr != nil {
			logger.Warn("RabbitMQ недоступен, события не публикуются",
				slog.String("error", pubErr.Error()),
			)
		} else {
			defer amqpPublisher.Close()
			publisher = amqpPublisher
			logger.Info("Публикация событий включена", slog.String("queue", cfg.EventsQueue))
		}
	}

	// 7. Repositories
	profileRepo := repository.NewProfileRepository(pool)
	roleRepo := repository.NewRoleRepository(pool)
	opsRepo := repository.NewProvisioningOperationRepository(pool)
	roleChanger := repository.NewRoleChanger(repository.NewTxRunner(pool))

	// 8. Services
	roleCache := service.NewRoleCache(cfg.RoleCacheSize, cfg.RoleCacheTTL)
	directorySvc := service.NewDirectoryService(profileRepo, roleRepo, roleChanger, roleCache, publisher, logger)
	provisioningSvc := service.NewProvisioningService(kcClient, profileRepo, roleRepo, opsRepo, roleCache, publisher, logger)
	reconcileSvc := service.NewReconcileService(kcClient, opsRepo, profileRepo, cfg.ReconcileInterval, cfg.ReconcileMaxAttempts, cfg.ReconcilePendingAfter, logger)

	// 9. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(cfg.JWTJWKSURL, cfg.JWTIssuer, directorySvc, jwksRefreshInterval, jwtLeeway, logger)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	validator, err := openapi.NewValidator(logger)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI-контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}

	loginLimiter := middleware.NewLoginRateLimiter(cfg.LoginRatePerMinute, cfg.LoginRateBurst, rateLimiterEvictTTL)

	// 10. Handlers
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), kcClient)
	apiHandler := handlers.NewAPIHandler(directorySvc, provisioningSvc, reconcileSvc, oidcClient, jwtAuth, logger)

	// 11. Фоновые задачи
	go loginLimiter.Run(ctx)
	reconcileSvc.Start(ctx)

	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "sitepanel",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PostgresURL:   cfg.DatabaseURL(),
		JWKSURL:       cfg.JWTJWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 12. HTTP-сервер
	srv := server.New(cfg, logger, server.Deps{
		API:          apiHandler,
		Health:       healthHandler,
		JWTAuth:      jwtAuth,
		Validator:    validator,
		LoginLimiter: loginLimiter,
	})
	runErr := srv.Run(ctx)

	// 13. Остановка фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	reconcileSvc.Stop()
	cancel()

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("sitepanel остановлен")
}
