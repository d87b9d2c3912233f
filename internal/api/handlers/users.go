// users.go — чтение справочника пользователей и ролей, RPC смены роли.
package handlers

import (
	"net/http"

	"github.com/bigkaa/sitepanel/internal/api/apitypes"
	"github.com/bigkaa/sitepanel/internal/api/middleware"
	"github.com/bigkaa/sitepanel/internal/domain/model"
)

// ListUsers — GET /api/admin/users.
func (h *APIHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.directory.ListUsers(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	items := make([]apitypes.User, 0, len(users))
	for i := range users {
		items = append(items, toAPIUser(&users[i]))
	}
	writeJSON(w, http.StatusOK, items)
}

// ListRoles — GET /api/admin/roles.
func (h *APIHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.directory.ListRoles(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	items := make([]apitypes.Role, 0, len(roles))
	for i := range roles {
		items = append(items, toAPIRole(&roles[i]))
	}
	writeJSON(w, http.StatusOK, items)
}

// GetStats — GET /api/admin/stats.
func (h *APIHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.directory.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, apitypes.UserStats{
		Total:    stats.Total,
		Active:   stats.Active,
		Inactive: stats.Inactive,
		Admins:   stats.Admins,
	})
}

// ChangeUserRole — POST /api/rpc/change_user_role.
// Авторизацию выполняет серверная функция change_user_role.
func (h *APIHandler) ChangeUserRole(w http.ResponseWriter, r *http.Request) {
	var req apitypes.ChangeRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	caller := middleware.CallerFromContext(r.Context())
	if err := h.directory.ChangeRole(r.Context(), caller, req.TargetUserID, req.NewRoleName); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, apitypes.SuccessResponse{Success: true})
}

// --- Конвертеры model → apitypes ---

func toAPIRole(role *model.Role) apitypes.Role {
	return apitypes.Role{
		ID:          role.ID,
		Name:        role.Name,
		Description: role.Description,
		CreatedAt:   role.CreatedAt,
	}
}

func toAPIUser(u *model.UserWithRole) apitypes.User {
	role := toAPIRole(&u.Role)
	return apitypes.User{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		RoleID:    u.RoleID,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
		Role:      &role,
	}
}
