// Пакет keycloak — HTTP-клиенты к Keycloak: Admin REST API
// (управление учётными записями) и OIDC token endpoint (вход по паролю).
// models.go — модели данных и ошибки Keycloak.
package keycloak

import (
	"errors"
	"fmt"
)

// ErrNotFound — ресурс Keycloak не найден (HTTP 404).
var ErrNotFound = errors.New("ресурс Keycloak не найден")

// ErrUnavailable — Keycloak не ответил: сетевая ошибка или отказ
// в выдаче токена сервисному клиенту.
var ErrUnavailable = errors.New("Keycloak недоступен")

// APIError — ошибка Admin REST API Keycloak.
// Message содержит текст Keycloak без изменений (errorMessage / error_description).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("Keycloak API вернул статус %d", e.StatusCode)
	}
	return e.Message
}

// Is позволяет сравнивать 404 с ErrNotFound через errors.Is.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == 404
}

// TokenError — ошибка от token endpoint Keycloak.
type TokenError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *TokenError) Error() string {
	if e.Description != "" {
		return e.Description
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("token endpoint вернул статус %d", e.StatusCode)
}

// IsInvalidGrant — неверные учётные данные или истёкший refresh token.
func (e *TokenError) IsInvalidGrant() bool {
	return e.Code == "invalid_grant"
}

// TokenResponse — ответ token endpoint Keycloak.
type TokenResponse struct {
	AccessToken      string `json:"access_token"`  //nolint:gosec // G117: структура токена OAuth2
	RefreshToken     string `json:"refresh_token"` //nolint:gosec // G117: структура токена OAuth2
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
}

// NewUser — параметры создания учётной записи.
type NewUser struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Credential — учётные данные пользователя Keycloak.
type Credential struct {
	Type      string `json:"type"`
	Value     string `json:"value"` //nolint:gosec // G117: пароль передаётся в Keycloak
	Temporary bool   `json:"temporary"`
}

// userCreateRequest — тело POST /users Admin REST API.
type userCreateRequest struct {
	Username      string       `json:"username"`
	Email         string       `json:"email"`
	FirstName     string       `json:"firstName,omitempty"`
	LastName      string       `json:"lastName,omitempty"`
	Enabled       bool         `json:"enabled"`
	EmailVerified bool         `json:"emailVerified"`
	Credentials   []Credential `json:"credentials"`
}

// RealmRepresentation — краткая информация о realm.
type RealmRepresentation struct {
	Realm   string `json:"realm"`
	Enabled bool   `json:"enabled"`
}

// apiErrorBody — варианты тела ошибки Admin REST API.
type apiErrorBody struct {
	ErrorMessage     string `json:"errorMessage"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}
