package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/sitepanel/internal/domain/model"
)

// RoleRepository — чтение справочника roles.
type RoleRepository interface {
	// List возвращает все роли, упорядоченные по id.
	List(ctx context.Context) ([]model.Role, error)
	// GetByID возвращает роль по id.
	GetByID(ctx context.Context, id int) (*model.Role, error)
}

type roleRepo struct {
	db DBTX
}

// NewRoleRepository создаёт репозиторий ролей.
func NewRoleRepository(db DBTX) RoleRepository {
	return &roleRepo{db: db}
}

const roleColumns = `id, name, description, created_at`

func (r *roleRepo) List(ctx context.Context) ([]model.Role, error) {
	rows, err := r.db.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка ролей: %w", err)
	}
	defer rows.Close()

	result := make([]model.Role, 0, 8)
	for rows.Next() {
		var role model.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования роли: %w", err)
		}
		result = append(result, role)
	}
	return result, rows.Err()
}

func (r *roleRepo) GetByID(ctx context.Context, id int) (*model.Role, error) {
	role := &model.Role{}
	err := r.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения роли: %w", err)
	}
	return role, nil
}
