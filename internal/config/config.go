// Пакет config — загрузка и валидация конфигурации sitepanel
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации сервера sitepanel.
type Config struct {
	// --- Сервер ---

	// Окружение (dev, prod). В dev читается файл .env
	Env string
	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Разрешённые источники CORS (через запятую)
	CORSAllowedOrigins []string
	// Сети доверенных прокси (CIDR через запятую). Только от них
	// принимаются X-Forwarded-For и X-Real-IP
	TrustedProxies []netip.Prefix

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Максимум соединений в пуле
	DBMaxConns int

	// --- Keycloak ---

	// URL Keycloak (например, https://auth.example.com)
	KeycloakURL string
	// Имя realm в Keycloak
	KeycloakRealm string
	// Client ID конфиденциального клиента с правами manage-users (service-role key)
	KeycloakClientID string
	// Client Secret конфиденциального клиента
	KeycloakClientSecret string
	// Client ID публичного клиента для входа по паролю (public API key)
	KeycloakPublicClientID string

	// --- JWT ---

	// Issuer JWT (авто-вычисляется из KeycloakURL, если не задан)
	JWTIssuer string
	// URL JWKS endpoint (авто-вычисляется из KeycloakURL, если не задан)
	JWTJWKSURL string

	// --- Вход ---

	// Допустимое число попыток входа в минуту с одного IP
	LoginRatePerMinute int
	// Размер всплеска попыток входа
	LoginRateBurst int

	// --- Кэш ролей ---

	// Максимальное число записей в кэше ролей
	RoleCacheSize int
	// Время жизни записи кэша ролей
	RoleCacheTTL time.Duration

	// --- Реконсиляция ---

	// Интервал повторной очистки несогласованных операций
	ReconcileInterval time.Duration
	// Максимум попыток очистки одной операции
	ReconcileMaxAttempts int
	// Через сколько операция в pending считается прерванной
	ReconcilePendingAfter time.Duration

	// --- События ---

	// URL RabbitMQ (пустой — публикация событий отключена)
	EventsAMQPURL string
	// Имя очереди событий
	EventsQueue string

	// --- Мониторинг ---

	// Группа в метриках topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// SP_ENV — окружение (по умолчанию prod). В dev подхватываем .env,
	// уже заданные переменные не перезаписываются.
	cfg.Env = getEnvDefault("SP_ENV", "prod")
	if cfg.Env == "dev" {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf(".env: %w", err)
		}
	}

	// --- Сервер ---

	// SP_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("SP_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("SP_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("SP_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// SP_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("SP_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("SP_LOG_LEVEL: %w", err)
	}

	// SP_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("SP_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("SP_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// SP_CORS_ALLOWED_ORIGINS — источники CORS (по умолчанию не задано)
	cfg.CORSAllowedOrigins = parseCSV(getEnvDefault("SP_CORS_ALLOWED_ORIGINS", ""))

	// SP_TRUSTED_PROXIES — CIDR ingress-прокси (по умолчанию не задано)
	cfg.TrustedProxies, err = parsePrefixes(getEnvDefault("SP_TRUSTED_PROXIES", ""))
	if err != nil {
		return nil, fmt.Errorf("SP_TRUSTED_PROXIES: %w", err)
	}

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("SP_DB_HOST")
	if err != nil {
		return nil, err
	}

	cfg.DBPort, err = getEnvInt("SP_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("SP_DB_PORT: %w", err)
	}

	cfg.DBName, err = getEnvRequired("SP_DB_NAME")
	if err != nil {
		return nil, err
	}

	cfg.DBUser, err = getEnvRequired("SP_DB_USER")
	if err != nil {
		return nil, err
	}

	cfg.DBPassword, err = getEnvRequired("SP_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("SP_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("SP_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// SP_DB_MAX_CONNS — размер пула (по умолчанию 10)
	cfg.DBMaxConns, err = getEnvInt("SP_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("SP_DB_MAX_CONNS: %w", err)
	}
	if cfg.DBMaxConns < 1 {
		return nil, fmt.Errorf("SP_DB_MAX_CONNS: значение %d должно быть положительным", cfg.DBMaxConns)
	}

	// --- Keycloak ---

	cfg.KeycloakURL, err = getEnvRequired("SP_KEYCLOAK_URL")
	if err != nil {
		return nil, err
	}
	cfg.KeycloakURL = strings.TrimRight(cfg.KeycloakURL, "/")

	// SP_KEYCLOAK_REALM — realm (по умолчанию sitepanel)
	cfg.KeycloakRealm = getEnvDefault("SP_KEYCLOAK_REALM", "sitepanel")

	cfg.KeycloakClientID, err = getEnvRequired("SP_KEYCLOAK_CLIENT_ID")
	if err != nil {
		return nil, err
	}

	cfg.KeycloakClientSecret, err = getEnvRequired("SP_KEYCLOAK_CLIENT_SECRET")
	if err != nil {
		return nil, err
	}

	// SP_KEYCLOAK_PUBLIC_CLIENT_ID — публичный клиент (по умолчанию sitepanel-web)
	cfg.KeycloakPublicClientID = getEnvDefault("SP_KEYCLOAK_PUBLIC_CLIENT_ID", "sitepanel-web")

	// --- JWT ---

	cfg.JWTIssuer = getEnvDefault("SP_JWT_ISSUER",
		fmt.Sprintf("%s/realms/%s", cfg.KeycloakURL, cfg.KeycloakRealm))

	cfg.JWTJWKSURL = getEnvDefault("SP_JWT_JWKS_URL",
		fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.KeycloakURL, cfg.KeycloakRealm))

	// --- Вход ---

	// SP_LOGIN_RATE_PER_MINUTE — попыток входа в минуту с IP (по умолчанию 10)
	cfg.LoginRatePerMinute, err = getEnvInt("SP_LOGIN_RATE_PER_MINUTE", 10)
	if err != nil {
		return nil, fmt.Errorf("SP_LOGIN_RATE_PER_MINUTE: %w", err)
	}
	if cfg.LoginRatePerMinute < 1 {
		return nil, fmt.Errorf("SP_LOGIN_RATE_PER_MINUTE: значение %d должно быть положительным", cfg.LoginRatePerMinute)
	}

	// SP_LOGIN_RATE_BURST — всплеск (по умолчанию 5)
	cfg.LoginRateBurst, err = getEnvInt("SP_LOGIN_RATE_BURST", 5)
	if err != nil {
		return nil, fmt.Errorf("SP_LOGIN_RATE_BURST: %w", err)
	}
	if cfg.LoginRateBurst < 1 {
		return nil, fmt.Errorf("SP_LOGIN_RATE_BURST: значение %d должно быть положительным", cfg.LoginRateBurst)
	}

	// --- Кэш ролей ---

	// SP_ROLE_CACHE_SIZE — размер кэша (по умолчанию 1000)
	cfg.RoleCacheSize, err = getEnvInt("SP_ROLE_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("SP_ROLE_CACHE_SIZE: %w", err)
	}
	if cfg.RoleCacheSize < 1 {
		return nil, fmt.Errorf("SP_ROLE_CACHE_SIZE: значение %d должно быть положительным", cfg.RoleCacheSize)
	}

	// SP_ROLE_CACHE_TTL — время жизни записи (по умолчанию 30s)
	cfg.RoleCacheTTL, err = getEnvDuration("SP_ROLE_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SP_ROLE_CACHE_TTL: %w", err)
	}

	// --- Реконсиляция ---

	// SP_RECONCILE_INTERVAL — интервал реконсиляции (по умолчанию 5m)
	cfg.ReconcileInterval, err = getEnvDuration("SP_RECONCILE_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SP_RECONCILE_INTERVAL: %w", err)
	}

	// SP_RECONCILE_MAX_ATTEMPTS — лимит попыток (по умолчанию 10)
	cfg.ReconcileMaxAttempts, err = getEnvInt("SP_RECONCILE_MAX_ATTEMPTS", 10)
	if err != nil {
		return nil, fmt.Errorf("SP_RECONCILE_MAX_ATTEMPTS: %w", err)
	}
	if cfg.ReconcileMaxAttempts < 1 {
		return nil, fmt.Errorf("SP_RECONCILE_MAX_ATTEMPTS: значение %d должно быть положительным", cfg.ReconcileMaxAttempts)
	}

	// SP_RECONCILE_PENDING_AFTER — возраст прерванной операции (по умолчанию 15m)
	cfg.ReconcilePendingAfter, err = getEnvDuration("SP_RECONCILE_PENDING_AFTER", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SP_RECONCILE_PENDING_AFTER: %w", err)
	}

	// --- События ---

	// SP_EVENTS_AMQP_URL — URL RabbitMQ (опционально)
	cfg.EventsAMQPURL = getEnvDefault("SP_EVENTS_AMQP_URL", "")

	// SP_EVENTS_QUEUE — очередь событий (по умолчанию sitepanel.user-events)
	cfg.EventsQueue = getEnvDefault("SP_EVENTS_QUEUE", "sitepanel.user-events")

	// --- Мониторинг ---

	cfg.DephealthGroup = getEnvDefault("SP_DEPHEALTH_GROUP", "sitepanel")

	// SP_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("SP_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SP_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("SP_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SP_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgresql://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	if d <= 0 {
		return 0, fmt.Errorf("длительность должна быть положительной: %q", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// parsePrefixes разбирает список CIDR через запятую.
// Одиночный адрес без маски трактуется как сеть из одного хоста.
func parsePrefixes(s string) ([]netip.Prefix, error) {
	var result []netip.Prefix
	for _, item := range parseCSV(s) {
		if !strings.Contains(item, "/") {
			addr, err := netip.ParseAddr(item)
			if err != nil {
				return nil, fmt.Errorf("недопустимый адрес %q", item)
			}
			result = append(result, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(item)
		if err != nil {
			return nil, fmt.Errorf("недопустимая сеть %q", item)
		}
		result = append(result, p.Masked())
	}
	return result, nil
}
