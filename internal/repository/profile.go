package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/sitepanel/internal/domain/model"
)

// ProfileRepository — CRUD для таблицы profiles.
type ProfileRepository interface {
	// ListWithRoles возвращает профили с ролями, новые первыми.
	ListWithRoles(ctx context.Context) ([]model.UserWithRole, error)
	// GetWithRole возвращает профиль с ролью по ID.
	GetWithRole(ctx context.Context, id string) (*model.UserWithRole, error)
	// GetRoleName возвращает имя роли пользователя.
	GetRoleName(ctx context.Context, id string) (string, error)
	// Upsert создаёт или обновляет профиль по ID.
	Upsert(ctx context.Context, p *model.UserProfile) error
	// Delete удаляет профиль по ID.
	Delete(ctx context.Context, id string) error
	// Stats возвращает сводку по пользователям.
	Stats(ctx context.Context) (model.UserStats, error)
	// ChangeRole вызывает серверную функцию change_user_role.
	// Должен выполняться через TxRunner.RunAs.
	ChangeRole(ctx context.Context, targetUserID, newRoleName string) error
}

type profileRepo struct {
	db DBTX
}

// NewProfileRepository создаёт репозиторий профилей.
func NewProfileRepository(db DBTX) ProfileRepository {
	return &profileRepo{db: db}
}

const profileWithRoleSelect = `
	SELECT p.id, p.email, p.first_name, p.last_name, p.role_id, p.is_active,
	       p.created_at, p.updated_at,
	       r.id, r.name, r.description, r.created_at
	FROM profiles p
	JOIN roles r ON r.id = p.role_id`

func scanUserWithRole(row pgx.Row) (*model.UserWithRole, error) {
	u := &model.UserWithRole{}
	err := row.Scan(
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.RoleID, &u.IsActive,
		&u.CreatedAt, &u.UpdatedAt,
		&u.Role.ID, &u.Role.Name, &u.Role.Description, &u.Role.CreatedAt,
	)
	return u, err
}

func (r *profileRepo) ListWithRoles(ctx context.Context) ([]model.UserWithRole, error) {
	rows, err := r.db.Query(ctx, profileWithRoleSelect+` ORDER BY p.created_at DESC, p.id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка пользователей: %w", err)
	}
	defer rows.Close()

	result := make([]model.UserWithRole, 0)
	for rows.Next() {
		u, err := scanUserWithRole(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования пользователя: %w", err)
		}
		result = append(result, *u)
	}
	return result, rows.Err()
}

func (r *profileRepo) GetWithRole(ctx context.Context, id string) (*model.UserWithRole, error) {
	u, err := scanUserWithRole(r.db.QueryRow(ctx, profileWithRoleSelect+` WHERE p.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	return u, nil
}

func (r *profileRepo) GetRoleName(ctx context.Context, id string) (string, error) {
	var name string
	err := r.db.QueryRow(ctx, `
		SELECT r.name
		FROM profiles p
		JOIN roles r ON r.id = p.role_id
		WHERE p.id = $1`, id).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("ошибка получения роли пользователя: %w", err)
	}
	return name, nil
}

func (r *profileRepo) Upsert(ctx context.Context, p *model.UserProfile) error {
	query := `
		INSERT INTO profiles (id, email, first_name, last_name, role_id, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			role_id = EXCLUDED.role_id,
			is_active = EXCLUDED.is_active
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		p.ID, p.Email, p.FirstName, p.LastName, p.RoleID, p.IsActive,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: роль %d не существует", ErrInvalidReference, p.RoleID)
		}
		return fmt.Errorf("ошибка upsert профиля: %w", err)
	}
	return nil
}

func (r *profileRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM profiles WHERE id = $1`, id)
	if err != nil {
		if isInvalidText(err) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка удаления профиля: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *profileRepo) Stats(ctx context.Context) (model.UserStats, error) {
	var s model.UserStats
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE p.is_active),
		       COUNT(*) FILTER (WHERE NOT p.is_active),
		       COUNT(*) FILTER (WHERE r.name IN ('admin', 'super_admin'))
		FROM profiles p
		JOIN roles r ON r.id = p.role_id`).Scan(&s.Total, &s.Active, &s.Inactive, &s.Admins)
	if err != nil {
		return s, fmt.Errorf("ошибка подсчёта пользователей: %w", err)
	}
	return s, nil
}

func (r *profileRepo) ChangeRole(ctx context.Context, targetUserID, newRoleName string) error {
	_, err := r.db.Exec(ctx, `SELECT change_user_role($1::uuid, $2)`, targetUserID, newRoleName)
	if err == nil {
		return nil
	}
	if pe := asPgError(err); pe != nil {
		switch pe.Code {
		case pgInsufficientPrivilege, pgInvalidAuthorization, pgNoDataFound:
			return &ProcedureError{Code: pe.Code, Message: pe.Message}
		case pgInvalidTextRepr:
			return &ProcedureError{Code: pgNoDataFound, Message: fmt.Sprintf("User %s not found", targetUserID)}
		}
	}
	return fmt.Errorf("ошибка смены роли: %w", err)
}

// RoleChanger — смена роли от имени вызывающего пользователя.
type RoleChanger interface {
	ChangeRoleAs(ctx context.Context, callerID, targetUserID, newRoleName string) error
}

type roleChanger struct {
	tx *TxRunner
}

// NewRoleChanger создаёт RoleChanger поверх TxRunner.
func NewRoleChanger(tx *TxRunner) RoleChanger {
	return &roleChanger{tx: tx}
}

func (c *roleChanger) ChangeRoleAs(ctx context.Context, callerID, targetUserID, newRoleName string) error {
	return c.tx.RunAs(ctx, callerID, func(tx pgx.Tx) error {
		return NewProfileRepository(tx).ChangeRole(ctx, targetUserID, newRoleName)
	})
}
