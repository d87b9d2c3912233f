// Пакет handlers — HTTP-обработчики sitepanel.
// handler.go — основной обработчик API, делегирующий запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/sitepanel/internal/api/errors"
	"github.com/bigkaa/sitepanel/internal/api/middleware"
	"github.com/bigkaa/sitepanel/internal/domain/model"
	"github.com/bigkaa/sitepanel/internal/keycloak"
	"github.com/bigkaa/sitepanel/internal/repository"
	"github.com/bigkaa/sitepanel/internal/service"
)

// Directory — чтение справочника и смена роли (service.DirectoryService).
type Directory interface {
	ListUsers(ctx context.Context) ([]model.UserWithRole, error)
	ListRoles(ctx context.Context) ([]model.Role, error)
	Stats(ctx context.Context) (model.UserStats, error)
	ResolveRole(ctx context.Context, userID string) (string, error)
	ChangeRole(ctx context.Context, caller model.Caller, targetUserID, newRoleName string) error
}

// Provisioner — создание и удаление пользователей (service.ProvisioningService).
type Provisioner interface {
	CreateUser(ctx context.Context, caller model.Caller, in service.CreateUserInput) (*service.CreatedUser, error)
	DeleteUser(ctx context.Context, caller model.Caller, userID string) error
	ListOperations(ctx context.Context, f repository.OperationFilter) ([]*model.ProvisioningOperation, int, error)
}

// Reconciler — ручной повтор дочистки (service.ReconcileService).
type Reconciler interface {
	Retry(ctx context.Context, id string) (*model.ProvisioningOperation, error)
}

// TokenIssuer — OIDC token endpoint Keycloak (keycloak.OIDCClient).
type TokenIssuer interface {
	PasswordGrant(ctx context.Context, username, password string) (*keycloak.TokenResponse, error)
	RefreshTokens(ctx context.Context, refreshToken string) (*keycloak.TokenResponse, error)
	Logout(ctx context.Context, refreshToken string) error
}

// TokenParser — проверка access token (middleware.JWTAuth).
type TokenParser interface {
	ParseToken(ctx context.Context, tokenString string) (*middleware.AuthClaims, error)
}

// APIHandler — основной обработчик API sitepanel.
type APIHandler struct {
	directory   Directory
	provisioner Provisioner
	reconciler  Reconciler
	tokens      TokenIssuer
	parser      TokenParser
	logger      *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	directory Directory,
	provisioner Provisioner,
	reconciler Reconciler,
	tokens TokenIssuer,
	parser TokenParser,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		directory:   directory,
		provisioner: provisioner,
		reconciler:  reconciler,
		tokens:      tokens,
		parser:      parser,
		logger:      logger.With(slog.String("component", "api_handler")),
	}
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON разбирает тело запроса. При ошибке отвечает 400 и возвращает false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apierrors.ValidationError(w, "Invalid JSON body")
		return false
	}
	return true
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
// Сообщения провайдера и серверной функции передаются без изменений.
// Сетевые отказы Keycloak дают 502 без деталей, прочие ошибки скрываются за 500.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		provErr *service.ProvisioningError
		procErr *repository.ProcedureError
	)
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrIDPUnavailable):
		h.logger.Warn("Keycloak недоступен",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.IDPUnavailable(w, "Identity provider is unavailable")
	case errors.As(err, &provErr):
		h.logger.Warn("Отказ провайдера",
			slog.String("path", r.URL.Path),
			slog.String("operation_id", provErr.OperationID),
			slog.String("step", provErr.Step),
			slog.String("status", string(provErr.Status)),
			slog.String("error", provErr.Error()),
		)
		apierrors.ValidationError(w, provErr.Error())
	case errors.As(err, &procErr):
		switch {
		case errors.Is(procErr, repository.ErrPermissionDenied):
			apierrors.Forbidden(w, procErr.Message)
		case errors.Is(procErr, repository.ErrNotFound):
			apierrors.NotFound(w, procErr.Message)
		default:
			apierrors.ValidationError(w, procErr.Message)
		}
	case errors.Is(err, service.ErrSelfAction):
		apierrors.Forbidden(w, "You cannot delete your own account")
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, "Insufficient privileges")
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Operation not found")
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, "Operation is not in inconsistent state")
	default:
		h.logger.Error("Внутренняя ошибка",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w)
	}
}

// paginationDefaults нормализует параметры пагинации.
func paginationDefaults(limit *int, offset *int) (int, int) {
	l := 50
	o := 0

	if limit != nil {
		l = *limit
		if l < 1 {
			l = 1
		}
		if l > 500 {
			l = 500
		}
	}

	if offset != nil {
		o = *offset
		if o < 0 {
			o = 0
		}
	}

	return l, o
}
