// Пакет apitypes — JSON-типы HTTP API sitepanel.
// Используются обработчиками сервера и HTTP-клиентом консоли.
package apitypes

import (
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"
)

// Role — роль из справочника.
type Role struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// User — профиль пользователя с вложенной ролью (ключ roles).
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName *string   `json:"first_name"`
	LastName  *string   `json:"last_name"`
	RoleID    int       `json:"role_id"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Role      *Role     `json:"roles"`
}

// UserStats — сводка по пользователям.
type UserStats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
	Admins   int `json:"admins"`
}

// UserRef — краткая ссылка на пользователя.
type UserRef struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// CreateUserRequest — тело POST /api/admin/create-user.
type CreateUserRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"` //nolint:gosec // G117: пароль создаваемого пользователя
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	RoleID    int    `json:"roleId"`
}

// CreateUserResponse — ответ на успешное создание.
type CreateUserResponse struct {
	Success bool    `json:"success"`
	User    UserRef `json:"user"`
}

// SuccessResponse — ответ без данных.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ChangeRoleRequest — аргументы RPC change_user_role.
type ChangeRoleRequest struct {
	TargetUserID string `json:"target_user_id"`
	NewRoleName  string `json:"new_role_name"`
}

// LoginRequest — тело POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"` //nolint:gosec // G117: учётные данные входа
}

// RefreshRequest — тело POST /api/auth/refresh и /api/auth/logout.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"` //nolint:gosec // G117: структура токена OAuth2
}

// Session — текущий пользователь и его роль (null без профиля).
type Session struct {
	User UserRef `json:"user"`
	Role *string `json:"role"`
}

// TokenResponse — токены и сессия после входа или обновления.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`  //nolint:gosec // G117: структура токена OAuth2
	RefreshToken string `json:"refresh_token"` //nolint:gosec // G117: структура токена OAuth2
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Session
}

// ProvisioningOperation — запись журнала саги.
type ProvisioningOperation struct {
	ID          openapi_types.UUID `json:"id"`
	Kind        string             `json:"kind"`
	Status      string             `json:"status"`
	Step        string             `json:"step"`
	IdentityID  *string            `json:"identity_id"`
	Email       string             `json:"email"`
	RoleID      *int               `json:"role_id"`
	RequestedBy string             `json:"requested_by"`
	LastError   *string            `json:"last_error"`
	Attempts    int                `json:"attempts"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// OperationListResponse — страница журнала операций.
type OperationListResponse struct {
	Items   []ProvisioningOperation `json:"items"`
	Total   int                     `json:"total"`
	Limit   int                     `json:"limit"`
	Offset  int                     `json:"offset"`
	HasMore bool                    `json:"has_more"`
}

// ErrorResponse — тело ответа с ошибкой.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
