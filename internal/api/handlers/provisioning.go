// provisioning.go — создание и удаление пользователей, журнал операций саги.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/bigkaa/sitepanel/internal/api/apitypes"
	apierrors "github.com/bigkaa/sitepanel/internal/api/errors"
	"github.com/bigkaa/sitepanel/internal/api/middleware"
	"github.com/bigkaa/sitepanel/internal/domain/model"
	"github.com/bigkaa/sitepanel/internal/repository"
	"github.com/bigkaa/sitepanel/internal/service"
)

// CreateUser — POST /api/admin/create-user.
// Создаёт учётную запись в Keycloak и профиль. Проверки полей и прав
// выполняет service.ProvisioningService.
func (h *APIHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req apitypes.CreateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	caller := middleware.CallerFromContext(r.Context())
	created, err := h.provisioner.CreateUser(r.Context(), caller, service.CreateUserInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		RoleID:    req.RoleID,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, apitypes.CreateUserResponse{
		Success: true,
		User:    apitypes.UserRef{ID: created.ID, Email: created.Email},
	})
}

// DeleteUser — DELETE /api/admin/delete-user?userId=.
func (h *APIHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")

	caller := middleware.CallerFromContext(r.Context())
	if err := h.provisioner.DeleteUser(r.Context(), caller, userID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, apitypes.SuccessResponse{Success: true})
}

// ListProvisioningOperations — GET /api/admin/provisioning-operations.
func (h *APIHandler) ListProvisioningOperations(w http.ResponseWriter, r *http.Request) {
	var (
		status *string
		kind   *string
		limit  *int
		offset *int
	)
	query := r.URL.Query()
	for _, p := range []struct {
		name string
		dest any
	}{
		{"status", &status},
		{"kind", &kind},
		{"limit", &limit},
		{"offset", &offset},
	} {
		if err := runtime.BindQueryParameter("form", true, false, p.name, query, p.dest); err != nil {
			apierrors.ValidationError(w, "Invalid query parameter: "+p.name)
			return
		}
	}

	f := repository.OperationFilter{}
	if status != nil {
		f.Status = model.OperationStatus(*status)
		if !f.Status.IsValid() {
			apierrors.ValidationError(w, "Invalid status: "+*status)
			return
		}
	}
	if kind != nil {
		f.Kind = model.OperationKind(*kind)
		if !f.Kind.IsValid() {
			apierrors.ValidationError(w, "Invalid kind: "+*kind)
			return
		}
	}
	f.Limit, f.Offset = paginationDefaults(limit, offset)

	ops, total, err := h.provisioner.ListOperations(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	items := make([]apitypes.ProvisioningOperation, 0, len(ops))
	for _, op := range ops {
		items = append(items, toAPIOperation(op))
	}

	writeJSON(w, http.StatusOK, apitypes.OperationListResponse{
		Items:   items,
		Total:   total,
		Limit:   f.Limit,
		Offset:  f.Offset,
		HasMore: f.Offset+len(items) < total,
	})
}

// RetryProvisioningOperation — POST /api/admin/provisioning-operations/{id}/retry.
// Повторяет удаление учётной записи для операции в состоянии inconsistent.
func (h *APIHandler) RetryProvisioningOperation(w http.ResponseWriter, r *http.Request) {
	var id openapi_types.UUID
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		apierrors.ValidationError(w, "Invalid operation id")
		return
	}

	op, err := h.reconciler.Retry(r.Context(), id.String())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAPIOperation(op))
}

func toAPIOperation(op *model.ProvisioningOperation) apitypes.ProvisioningOperation {
	resp := apitypes.ProvisioningOperation{
		Kind:        string(op.Kind),
		Status:      string(op.Status),
		Step:        op.Step,
		Email:       op.Email,
		RoleID:      op.RoleID,
		RequestedBy: op.RequestedBy,
		LastError:   op.LastError,
		Attempts:    op.Attempts,
		CreatedAt:   op.CreatedAt,
		UpdatedAt:   op.UpdatedAt,
	}
	if id, err := uuid.Parse(op.ID); err == nil {
		resp.ID = id
	}
	if op.IdentityID != "" {
		identityID := op.IdentityID
		resp.IdentityID = &identityID
	}
	return resp
}
