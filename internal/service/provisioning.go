// provisioning.go — создание и удаление пользователей (Keycloak + профиль).
//
// Каждая операция — сага с журналом в provisioning_operations:
//
//	create_user: create_identity → upsert_profile → done
//	             при отказе upsert — компенсация (удаление учётной записи)
//	delete_user: delete_profile → delete_identity → done
//
// Если учётная запись осталась без профиля и откатить её не удалось,
// операция получает статус inconsistent и дочищается ReconcileService.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bigkaa/sitepanel/internal/domain/model"
	"github.com/bigkaa/sitepanel/internal/domain/rbac"
	"github.com/bigkaa/sitepanel/internal/events"
	"github.com/bigkaa/sitepanel/internal/keycloak"
	"github.com/bigkaa/sitepanel/internal/repository"
)

// IdentityProvider — операции над учётными записями в Keycloak.
type IdentityProvider interface {
	CreateUser(ctx context.Context, u keycloak.NewUser) (string, error)
	DeleteUser(ctx context.Context, id string) error
}

// CreateUserInput — параметры создания пользователя.
type CreateUserInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	RoleID    int
}

// CreatedUser — результат успешного создания.
type CreatedUser struct {
	ID          string
	Email       string
	OperationID string
}

// ProvisioningService — саги создания и удаления пользователей.
type ProvisioningService struct {
	idp       IdentityProvider
	profiles  repository.ProfileRepository
	roles     repository.RoleRepository
	ops       repository.ProvisioningOperationRepository
	cache     *RoleCache
	publisher events.Publisher
	logger    *slog.Logger
}

// NewProvisioningService создаёт сервис провижининга.
func NewProvisioningService(
	idp IdentityProvider,
	profiles repository.ProfileRepository,
	roles repository.RoleRepository,
	ops repository.ProvisioningOperationRepository,
	cache *RoleCache,
	publisher events.Publisher,
	logger *slog.Logger,
) *ProvisioningService {
	return &ProvisioningService{
		idp:       idp,
		profiles:  profiles,
		roles:     roles,
		ops:       ops,
		cache:     cache,
		publisher: publisher,
		logger:    logger.With(slog.String("component", "provisioning_service")),
	}
}

// CreateUser создаёт учётную запись в Keycloak и профиль с выбранной ролью.
func (s *ProvisioningService) CreateUser(ctx context.Context, caller model.Caller, in CreateUserInput) (*CreatedUser, error) {
	in.Email = strings.TrimSpace(in.Email)
	if in.Email == "" || in.Password == "" || in.RoleID <= 0 {
		return nil, &ValidationError{Message: "Email, password, and role are required"}
	}
	if !rbac.IsAdmin(caller.Role) {
		return nil, ErrForbidden
	}

	role, err := s.roles.GetByID(ctx, in.RoleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &ValidationError{Message: fmt.Sprintf("Role %d does not exist", in.RoleID)}
		}
		return nil, fmt.Errorf("получение роли: %w", err)
	}
	if !rbac.CanAssign(caller.Role, role.Name) {
		return nil, fmt.Errorf("%w: роль %s назначает только super_admin", ErrForbidden, role.Name)
	}

	roleID := role.ID
	op := &model.ProvisioningOperation{
		Kind:        model.OperationCreateUser,
		Status:      model.OperationPending,
		Step:        model.StepCreateIdentity,
		Email:       in.Email,
		RoleID:      &roleID,
		RequestedBy: caller.ID,
	}
	if err := s.ops.Create(ctx, op); err != nil {
		return nil, fmt.Errorf("запись операции провижининга: %w", err)
	}

	// 1. Учётная запись в Keycloak
	identityID, err := s.idp.CreateUser(ctx, keycloak.NewUser{
		Email:     in.Email,
		Password:  in.Password,
		FirstName: in.FirstName,
		LastName:  in.LastName,
	})
	if err != nil {
		s.finish(ctx, op, model.OperationFailed, err)
		return nil, &ProvisioningError{
			OperationID: op.ID,
			Step:        model.StepCreateIdentity,
			Status:      model.OperationFailed,
			Err:         err,
		}
	}

	op.IdentityID = identityID
	op.Step = model.StepUpsertProfile
	s.save(ctx, op)

	// 2. Профиль
	profile := &model.UserProfile{
		ID:        identityID,
		Email:     in.Email,
		FirstName: optional(in.FirstName),
		LastName:  optional(in.LastName),
		RoleID:    role.ID,
		IsActive:  true,
	}
	if err := s.profiles.Upsert(ctx, profile); err != nil {
		status := s.compensateIdentity(ctx, op, err)
		return nil, &ProvisioningError{
			OperationID: op.ID,
			Step:        model.StepUpsertProfile,
			Status:      status,
			Err:         err,
		}
	}

	s.cache.Invalidate(identityID)
	op.Step = model.StepDone
	s.finish(ctx, op, model.OperationCompleted, nil)

	s.logger.Info("Пользователь создан",
		slog.String("user_id", identityID),
		slog.String("email", in.Email),
		slog.String("role", role.Name),
		slog.String("actor_id", caller.ID),
	)
	publishEvent(ctx, s.publisher, s.logger, events.Event{
		Type:        events.TypeUserCreated,
		UserID:      identityID,
		Email:       in.Email,
		Role:        role.Name,
		ActorID:     caller.ID,
		OperationID: op.ID,
	})

	return &CreatedUser{ID: identityID, Email: in.Email, OperationID: op.ID}, nil
}

// compensateIdentity удаляет учётную запись, для которой не удалось создать профиль.
// Возвращает итоговый статус операции.
func (s *ProvisioningService) compensateIdentity(ctx context.Context, op *model.ProvisioningOperation, cause error) model.OperationStatus {
	op.Step = model.StepCompensateIdentity

	err := s.idp.DeleteUser(ctx, op.IdentityID)
	if err == nil || errors.Is(err, keycloak.ErrNotFound) {
		s.logger.Warn("Учётная запись удалена после ошибки создания профиля",
			slog.String("identity_id", op.IdentityID),
			slog.String("error", cause.Error()),
		)
		s.finish(ctx, op, model.OperationCompensated, cause)
		return model.OperationCompensated
	}

	s.logger.Error("Учётная запись осталась без профиля",
		slog.String("operation_id", op.ID),
		slog.String("identity_id", op.IdentityID),
		slog.String("profile_error", cause.Error()),
		slog.String("compensation_error", err.Error()),
	)
	s.finish(ctx, op, model.OperationInconsistent, fmt.Errorf("%v; компенсация: %w", cause, err))
	s.publishInconsistent(ctx, op)
	return model.OperationInconsistent
}

// DeleteUser удаляет профиль и учётную запись пользователя.
func (s *ProvisioningService) DeleteUser(ctx context.Context, caller model.Caller, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return &ValidationError{Message: "User ID is required"}
	}
	if !rbac.IsAdmin(caller.Role) {
		return ErrForbidden
	}
	if !rbac.CanDelete(caller.ID, userID) {
		return ErrSelfAction
	}

	targetRole, err := s.profiles.GetRoleName(ctx, userID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		targetRole = ""
	case err != nil:
		return fmt.Errorf("получение роли удаляемого пользователя: %w", err)
	case !rbac.CanManage(caller.Role, targetRole):
		return fmt.Errorf("%w: администратора удаляет только super_admin", ErrForbidden)
	}

	op := &model.ProvisioningOperation{
		Kind:        model.OperationDeleteUser,
		Status:      model.OperationPending,
		Step:        model.StepDeleteProfile,
		IdentityID:  userID,
		RequestedBy: caller.ID,
	}
	if err := s.ops.Create(ctx, op); err != nil {
		return fmt.Errorf("запись операции провижининга: %w", err)
	}

	// 1. Профиль; отсутствие профиля допустимо (учётная запись-сирота)
	profileDeleted := true
	if err := s.profiles.Delete(ctx, userID); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.finish(ctx, op, model.OperationFailed, err)
			return &ProvisioningError{
				OperationID: op.ID,
				Step:        model.StepDeleteProfile,
				Status:      model.OperationFailed,
				Err:         err,
			}
		}
		profileDeleted = false
		s.logger.Info("Профиль не найден, удаляется только учётная запись",
			slog.String("user_id", userID),
		)
	}
	s.cache.Invalidate(userID)

	// 2. Учётная запись
	op.Step = model.StepDeleteIdentity
	s.save(ctx, op)

	if err := s.idp.DeleteUser(ctx, userID); err != nil {
		if profileDeleted && errors.Is(err, keycloak.ErrNotFound) {
			s.logger.Warn("Учётная запись уже отсутствует в Keycloak",
				slog.String("user_id", userID),
			)
		} else {
			status := model.OperationFailed
			if profileDeleted {
				status = model.OperationInconsistent
				s.logger.Error("Профиль удалён, учётная запись осталась",
					slog.String("operation_id", op.ID),
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
			}
			s.finish(ctx, op, status, err)
			if status == model.OperationInconsistent {
				s.publishInconsistent(ctx, op)
			}
			return &ProvisioningError{
				OperationID: op.ID,
				Step:        model.StepDeleteIdentity,
				Status:      status,
				Err:         err,
			}
		}
	}

	op.Step = model.StepDone
	s.finish(ctx, op, model.OperationCompleted, nil)

	s.logger.Info("Пользователь удалён",
		slog.String("user_id", userID),
		slog.String("role", targetRole),
		slog.String("actor_id", caller.ID),
	)
	publishEvent(ctx, s.publisher, s.logger, events.Event{
		Type:        events.TypeUserDeleted,
		UserID:      userID,
		Role:        targetRole,
		ActorID:     caller.ID,
		OperationID: op.ID,
	})
	return nil
}

// ListOperations возвращает журнал операций и общее количество по фильтру.
func (s *ProvisioningService) ListOperations(ctx context.Context, f repository.OperationFilter) ([]*model.ProvisioningOperation, int, error) {
	ops, err := s.ops.List(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.ops.Count(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return ops, total, nil
}

// finish фиксирует итоговый статус операции.
func (s *ProvisioningService) finish(ctx context.Context, op *model.ProvisioningOperation, status model.OperationStatus, cause error) {
	op.Status = status
	if cause != nil {
		msg := cause.Error()
		op.LastError = &msg
	} else {
		op.LastError = nil
	}
	s.save(ctx, op)
}

// save сохраняет состояние операции. Ошибка журнала не прерывает сагу.
func (s *ProvisioningService) save(ctx context.Context, op *model.ProvisioningOperation) {
	if err := s.ops.Update(ctx, op); err != nil {
		s.logger.Error("Ошибка обновления журнала операций",
			slog.String("operation_id", op.ID),
			slog.String("status", string(op.Status)),
			slog.String("step", op.Step),
			slog.String("error", err.Error()),
		)
	}
}

func (s *ProvisioningService) publishInconsistent(ctx context.Context, op *model.ProvisioningOperation) {
	publishEvent(ctx, s.publisher, s.logger, events.Event{
		Type:        events.TypeProvisioningInconsistent,
		UserID:      op.IdentityID,
		Email:       op.Email,
		ActorID:     op.RequestedBy,
		OperationID: op.ID,
	})
}

// optional возвращает nil для пустой строки.
func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
