// Пакет errors — ответы с ошибками в едином формате sitepanel.
// Формат: {"error": "<сообщение>", "code": "<КОД>"}.
// Поле error читает консоль администратора и показывает его без изменений.
package errors

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/bigkaa/sitepanel/internal/api/apitypes"
)

// Машиночитаемые коды ошибок.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeConflict        = "CONFLICT"
	CodeRateLimited     = "RATE_LIMITED"
	CodeIDPUnavailable  = "IDP_UNAVAILABLE"
	CodeInternalError   = "INTERNAL_ERROR"
)

// MessageInternal — сообщение для непредвиденных ошибок.
const MessageInternal = "Internal server error"

// WriteError записывает ответ ошибки.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(apitypes.ErrorResponse{Error: message, Code: code})
}

// ValidationError — 400 некорректные входные данные или отказ провайдера.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// Conflict — 409 состояние ресурса не допускает операцию.
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// TooManyRequests — 429 с заголовком Retry-After.
func TooManyRequests(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	WriteError(w, http.StatusTooManyRequests, CodeRateLimited, "Too many login attempts, try again later")
}

// IDPUnavailable — 502 Identity Provider (Keycloak) недоступен.
func IDPUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, CodeIDPUnavailable, message)
}

// InternalError — 500 внутренняя ошибка. Детали в ответ не попадают.
func InternalError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, MessageInternal)
}
