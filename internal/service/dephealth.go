// dephealth.go — мониторинг зависимостей через topologymetrics SDK.
//
// Зависимости sitepanel:
//   - PostgreSQL — SQL checker через существующий pgxpool (critical)
//   - Keycloak — HTTP checker к JWKS endpoint realm (critical)
//
// Метрики публикуются на /metrics вместе с остальными:
//   - app_dependency_health
//   - app_dependency_latency_seconds
//   - app_dependency_status
//   - app_dependency_status_detail
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker для Keycloak
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthService — мониторинг зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// DephealthConfig — параметры мониторинга.
type DephealthConfig struct {
	// ServiceID — имя вершины графа (sitepanel)
	ServiceID string
	Group     string
	// DB — *sql.DB поверх pgxpool (stdlib.OpenDBFromPool)
	DB *sql.DB
	// PostgresURL — URL PostgreSQL для лейблов, без учётных данных
	PostgresURL   string
	JWKSURL       string
	CheckInterval time.Duration
}

// NewDephealthService создаёт сервис; метрики регистрируются в глобальном registry.
func NewDephealthService(cfg DephealthConfig, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(cfg, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с отдельным Prometheus registerer.
func NewDephealthServiceWithRegisterer(cfg DephealthConfig, logger *slog.Logger, registerer prometheus.Registerer) (*DephealthService, error) {
	return newDephealthService(cfg, logger, dephealth.WithRegisterer(registerer))
}

func newDephealthService(cfg DephealthConfig, logger *slog.Logger, extraOpts ...dephealth.Option) (*DephealthService, error) {
	kcDepOpts := []dephealth.DependencyOption{
		dephealth.FromURL(cfg.JWKSURL),
		dephealth.WithHTTPHealthPath(jwksHealthPath(cfg.JWKSURL)),
		dephealth.CheckInterval(cfg.CheckInterval),
		dephealth.Critical(true),
	}
	if parsed, err := url.Parse(cfg.JWKSURL); err == nil && parsed.Scheme == "https" {
		kcDepOpts = append(kcDepOpts, dephealth.WithHTTPTLSSkipVerify(false))
	}

	opts := make([]dephealth.Option, 0, 3+len(extraOpts))
	opts = append(opts,
		dephealth.WithLogger(logger),
		dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(cfg.DB)),
			dephealth.FromURL(cfg.PostgresURL),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		),
		dephealth.HTTP("keycloak", kcDepOpts...),
	)
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// jwksHealthPath — путь проверки Keycloak.
// /health у Keycloak доступен только на management-порту, поэтому
// проверяется сам JWKS endpoint realm.
func jwksHealthPath(jwksURL string) string {
	if parsed, err := url.Parse(jwksURL); err == nil && parsed.Path != "" {
		return parsed.Path
	}
	return "/health"
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен (PostgreSQL + Keycloak)")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает состояние зависимостей: имя → ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
