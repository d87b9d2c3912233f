// auth.go — вход, обновление токенов, выход и текущая сессия.
// Токены выдаёт Keycloak через публичный клиент, роль берётся из профиля.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bigkaa/sitepanel/internal/api/apitypes"
	apierrors "github.com/bigkaa/sitepanel/internal/api/errors"
	"github.com/bigkaa/sitepanel/internal/api/middleware"
	"github.com/bigkaa/sitepanel/internal/keycloak"
	"github.com/bigkaa/sitepanel/internal/service"
)

// Login — POST /api/auth/login.
func (h *APIHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req apitypes.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		apierrors.ValidationError(w, "Email and password are required")
		return
	}

	tokens, err := h.tokens.PasswordGrant(r.Context(), email, req.Password)
	if err != nil {
		h.writeTokenError(w, r, err)
		return
	}

	h.writeTokens(w, r, tokens)
}

// RefreshToken — POST /api/auth/refresh.
func (h *APIHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req apitypes.RefreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		apierrors.ValidationError(w, "refresh_token is required")
		return
	}

	tokens, err := h.tokens.RefreshTokens(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeTokenError(w, r, err)
		return
	}

	h.writeTokens(w, r, tokens)
}

// Logout — POST /api/auth/logout.
// Ошибка Keycloak не мешает выходу: клиент всё равно удаляет токены.
func (h *APIHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req apitypes.RefreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.RefreshToken != "" {
		if err := h.tokens.Logout(r.Context(), req.RefreshToken); err != nil {
			h.logger.Warn("Ошибка завершения сессии Keycloak",
				slog.String("error", err.Error()),
			)
		}
	}

	writeJSON(w, http.StatusOK, apitypes.SuccessResponse{Success: true})
}

// GetSession — GET /api/auth/session.
func (h *APIHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Authentication required")
		return
	}

	writeJSON(w, http.StatusOK, sessionOf(claims))
}

// writeTokens проверяет выданный access token, определяет роль
// и отвечает токенами вместе с сессией.
func (h *APIHandler) writeTokens(w http.ResponseWriter, r *http.Request, tokens *keycloak.TokenResponse) {
	claims, err := h.parser.ParseToken(r.Context(), tokens.AccessToken)
	if err != nil {
		h.writeServiceError(w, r, fmt.Errorf("проверка выданного токена: %w", err))
		return
	}

	role, err := h.directory.ResolveRole(r.Context(), claims.Subject)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	claims.Role = role

	writeJSON(w, http.StatusOK, apitypes.TokenResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    tokens.TokenType,
		ExpiresIn:    tokens.ExpiresIn,
		Session:      sessionOf(claims),
	})
}

// writeTokenError различает отказ Keycloak (400 с его сообщением)
// и недоступность Keycloak (502).
func (h *APIHandler) writeTokenError(w http.ResponseWriter, r *http.Request, err error) {
	var tokenErr *keycloak.TokenError
	if errors.As(err, &tokenErr) && tokenErr.StatusCode < http.StatusInternalServerError {
		if !tokenErr.IsInvalidGrant() {
			h.logger.Warn("Keycloak отклонил запрос токена",
				slog.String("code", tokenErr.Code),
				slog.Int("status", tokenErr.StatusCode),
			)
		}
		apierrors.ValidationError(w, tokenErr.Error())
		return
	}
	h.writeServiceError(w, r, fmt.Errorf("%w: %w", service.ErrIDPUnavailable, err))
}

func sessionOf(claims *middleware.AuthClaims) apitypes.Session {
	s := apitypes.Session{
		User: apitypes.UserRef{ID: claims.Subject, Email: claims.Email},
	}
	if claims.Role != "" {
		role := claims.Role
		s.Role = &role
	}
	return s
}
