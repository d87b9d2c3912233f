// auth.go — JWT middleware аутентификации и авторизации sitepanel.
// Проверяет подпись access token Keycloak через JWKS, извлекает субъект
// и email, роль определяет по профилю пользователя (таблица profiles).
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/sitepanel/internal/api/errors"
	"github.com/bigkaa/sitepanel/internal/domain/model"
	"github.com/bigkaa/sitepanel/internal/domain/rbac"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyClaims — claims аутентифицированного вызывающего.
	ContextKeyClaims contextKey = "jwt_claims"
)

// ErrInvalidToken — токен не прошёл проверку.
var ErrInvalidToken = errors.New("невалидный или просроченный токен")

// AuthClaims — данные вызывающего из JWT и профиля.
type AuthClaims struct {
	// Subject — sub из JWT (ID учётной записи Keycloak и профиля).
	Subject string
	// Email — email из JWT.
	Email string
	// PreferredUsername — preferred_username из JWT.
	PreferredUsername string
	// Role — имя роли из профиля. Пусто, если профиля нет.
	Role string
}

// Caller возвращает вызывающего для сервисного слоя.
func (c *AuthClaims) Caller() model.Caller {
	return model.Caller{ID: c.Subject, Email: c.Email, Role: c.Role}
}

// RoleResolver определяет роль пользователя по ID.
// Реализуется service.DirectoryService.
type RoleResolver interface {
	ResolveRole(ctx context.Context, userID string) (string, error)
}

// keycloakClaims — raw claims из Keycloak JWT.
type keycloakClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
}

// JWTAuth — middleware JWT-аутентификации через JWKS Keycloak.
type JWTAuth struct {
	jwks     keyfunc.Keyfunc
	resolver RoleResolver
	issuer   string
	leeway   time.Duration
	logger   *slog.Logger
}

// NewJWTAuth создаёт JWT middleware с JWKS из Keycloak.
// jwksRefreshInterval — интервал фонового обновления ключей,
// leeway — допустимое отклонение часов при проверке exp/nbf.
func NewJWTAuth(
	jwksURL string,
	issuer string,
	resolver RoleResolver,
	jwksRefreshInterval time.Duration,
	leeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	// NoErrorReturnFirstHTTPReq — стартуем даже если Keycloak ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: 10 * time.Second},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return &JWTAuth{
		jwks:     k,
		resolver: resolver,
		issuer:   issuer,
		leeway:   leeway,
		logger:   logger.With(slog.String("component", "jwt_auth")),
	}, nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, issuer string, resolver RoleResolver, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:     kf,
		resolver: resolver,
		issuer:   issuer,
		logger:   logger.With(slog.String("component", "jwt_auth")),
	}
}

// ParseToken проверяет подпись и срок действия токена и возвращает claims без роли.
func (j *JWTAuth) ParseToken(ctx context.Context, tokenString string) (*AuthClaims, error) {
	raw := &keycloakClaims{}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.leeway),
	}
	if j.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, raw, j.jwks.KeyfuncCtx(ctx), parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	subject, err := raw.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("%w: отсутствует sub", ErrInvalidToken)
	}

	return &AuthClaims{
		Subject:           subject,
		Email:             raw.Email,
		PreferredUsername: raw.PreferredUsername,
	}, nil
}

// Authenticate проверяет токен и определяет роль вызывающего.
func (j *JWTAuth) Authenticate(ctx context.Context, tokenString string) (*AuthClaims, error) {
	claims, err := j.ParseToken(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	if j.resolver != nil {
		role, err := j.resolver.ResolveRole(ctx, claims.Subject)
		if err != nil {
			return nil, fmt.Errorf("определение роли: %w", err)
		}
		claims.Role = role
	}
	return claims, nil
}

// Middleware возвращает HTTP middleware JWT-аутентификации.
// Извлекает Bearer token, проверяет подпись (RS256), определяет роль
// и помещает AuthClaims в контекст.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, msg := bearerToken(r)
			if msg != "" {
				apierrors.Unauthorized(w, msg)
				return
			}

			claims, err := j.Authenticate(r.Context(), tokenString)
			if err != nil {
				if errors.Is(err, ErrInvalidToken) {
					j.logger.Debug("JWT валидация не пройдена",
						slog.String("error", err.Error()),
						slog.String("remote_addr", r.RemoteAddr),
					)
					apierrors.Unauthorized(w, "Invalid or expired token")
					return
				}
				j.logger.Error("Ошибка аутентификации",
					slog.String("error", err.Error()),
				)
				apierrors.InternalError(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// bearerToken извлекает токен из заголовка Authorization.
// Второе значение — сообщение об ошибке для клиента.
func bearerToken(r *http.Request) (string, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", "Missing Authorization header"
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", "Invalid Authorization header: expected Bearer <token>"
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", "Empty bearer token"
	}
	return token, ""
}

// --- RBAC middleware ---

// RequireAdmin пропускает вызывающих с ролью admin или super_admin.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireAdmin() func(http.Handler) http.Handler {
	return requireTier(rbac.TierAdmin)
}

// RequireSuperAdmin пропускает только super_admin.
func RequireSuperAdmin() func(http.Handler) http.Handler {
	return requireTier(rbac.TierSuperAdmin)
}

func requireTier(minTier rbac.Tier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				apierrors.Unauthorized(w, "Missing credentials")
				return
			}
			if rbac.TierOf(claims.Role) < minTier {
				apierrors.Forbidden(w, fmt.Sprintf("Insufficient privileges: %s role required", minTier))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// --- Context helpers ---

// ClaimsFromContext извлекает AuthClaims из контекста запроса.
// Возвращает nil, если claims не найдены.
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// CallerFromContext возвращает вызывающего из контекста.
// Пустой Caller — claims не найдены.
func CallerFromContext(ctx context.Context) model.Caller {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return model.Caller{}
	}
	return claims.Caller()
}

// WithClaims помещает claims в контекст.
func WithClaims(ctx context.Context, claims *AuthClaims) context.Context {
	return context.WithValue(ctx, ContextKeyClaims, claims)
}
