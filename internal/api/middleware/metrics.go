// metrics.go — Prometheus HTTP метрики sitepanel.
// Регистрирует метрики: sitepanel_http_requests_total, sitepanel_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitepanel_http_requests_total",
			Help: "Общее количество HTTP-запросов к sitepanel",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sitepanel_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к sitepanel в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			status := strconv.Itoa(wrapped.statusCode)
			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(time.Since(start).Seconds())
		})
	}
}

// knownPaths — статические пути API; остальные сводятся к "other".
var knownPaths = map[string]struct{}{
	"/health/live":                       {},
	"/health/ready":                      {},
	"/metrics":                           {},
	"/api/auth/login":                    {},
	"/api/auth/refresh":                  {},
	"/api/auth/logout":                   {},
	"/api/auth/session":                  {},
	"/api/admin/users":                   {},
	"/api/admin/roles":                   {},
	"/api/admin/stats":                   {},
	"/api/admin/create-user":             {},
	"/api/admin/delete-user":             {},
	"/api/admin/provisioning-operations": {},
	"/api/rpc/change_user_role":          {},
}

const operationsPrefix = "/api/admin/provisioning-operations/"

// normalizePath сводит путь к шаблону для лейбла метрик,
// чтобы ID операций не раздували кардинальность.
func normalizePath(path string) string {
	if _, ok := knownPaths[path]; ok {
		return path
	}
	if rest, ok := strings.CutPrefix(path, operationsPrefix); ok && rest != "" {
		if strings.HasSuffix(rest, "/retry") {
			return operationsPrefix + "{id}/retry"
		}
		return operationsPrefix + "{id}"
	}
	return "other"
}
