// Пакет service — бизнес-логика sitepanel.
// directory.go — чтение пользователей и ролей, смена роли.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bigkaa/sitepanel/internal/domain/model"
	"github.com/bigkaa/sitepanel/internal/events"
	"github.com/bigkaa/sitepanel/internal/repository"
)

// DirectoryService — справочник пользователей и ролей.
type DirectoryService struct {
	profiles  repository.ProfileRepository
	roles     repository.RoleRepository
	changer   repository.RoleChanger
	cache     *RoleCache
	publisher events.Publisher
	logger    *slog.Logger
}

// NewDirectoryService создаёт сервис справочника.
func NewDirectoryService(
	profiles repository.ProfileRepository,
	roles repository.RoleRepository,
	changer repository.RoleChanger,
	cache *RoleCache,
	publisher events.Publisher,
	logger *slog.Logger,
) *DirectoryService {
	return &DirectoryService{
		profiles:  profiles,
		roles:     roles,
		changer:   changer,
		cache:     cache,
		publisher: publisher,
		logger:    logger.With(slog.String("component", "directory_service")),
	}
}

// ListUsers возвращает пользователей с ролями, новые первыми.
func (s *DirectoryService) ListUsers(ctx context.Context) ([]model.UserWithRole, error) {
	return s.profiles.ListWithRoles(ctx)
}

// ListRoles возвращает роли в порядке ID.
func (s *DirectoryService) ListRoles(ctx context.Context) ([]model.Role, error) {
	return s.roles.List(ctx)
}

// Stats возвращает сводку по пользователям.
func (s *DirectoryService) Stats(ctx context.Context) (model.UserStats, error) {
	return s.profiles.Stats(ctx)
}

// ResolveRole возвращает имя роли пользователя.
// Пустая строка без ошибки — профиля нет.
func (s *DirectoryService) ResolveRole(ctx context.Context, userID string) (string, error) {
	if role, ok := s.cache.Get(userID); ok {
		return role, nil
	}

	gen := s.cache.Generation()
	role, err := s.profiles.GetRoleName(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return "", fmt.Errorf("определение роли пользователя: %w", err)
		}
		role = ""
	}
	if !s.cache.SetIfCurrent(userID, role, gen) {
		s.logger.Debug("Роль изменилась во время чтения, кэш не обновлён",
			slog.String("user_id", userID),
		)
	}
	return role, nil
}

// ChangeRole меняет роль пользователя через серверную функцию change_user_role.
// Авторизацию выполняет функция; её ошибки возвращаются как *repository.ProcedureError.
func (s *DirectoryService) ChangeRole(ctx context.Context, caller model.Caller, targetUserID, newRoleName string) error {
	targetUserID = strings.TrimSpace(targetUserID)
	newRoleName = strings.TrimSpace(newRoleName)
	if targetUserID == "" || newRoleName == "" {
		return &ValidationError{Message: "target_user_id and new_role_name are required"}
	}

	if err := s.changer.ChangeRoleAs(ctx, caller.ID, targetUserID, newRoleName); err != nil {
		return err
	}

	s.cache.Invalidate(targetUserID)
	s.logger.Info("Роль пользователя изменена",
		slog.String("target_user_id", targetUserID),
		slog.String("new_role", newRoleName),
		slog.String("actor_id", caller.ID),
	)
	publishEvent(ctx, s.publisher, s.logger, events.Event{
		Type:    events.TypeUserRoleChanged,
		UserID:  targetUserID,
		Role:    newRoleName,
		ActorID: caller.ID,
	})
	return nil
}

// publishEvent отправляет событие; ошибка брокера не отменяет выполненную операцию.
func publishEvent(ctx context.Context, p events.Publisher, logger *slog.Logger, ev events.Event) {
	if err := p.Publish(ctx, ev); err != nil {
		logger.Warn("Ошибка публикации события",
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
	}
}
