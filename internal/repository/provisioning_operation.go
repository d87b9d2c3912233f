package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/sitepanel/internal/domain/model"
)

// OperationFilter — фильтр выборки журнала операций.
// Пустые поля не ограничивают выборку.
type OperationFilter struct {
	Status model.OperationStatus
	Kind   model.OperationKind
	// IdentityID — операции над конкретной учётной записью
	IdentityID string
	// MaxAttempts — только операции с attempts < MaxAttempts (0 — без ограничения)
	MaxAttempts int
	// UpdatedBefore — только операции, не менявшиеся с этого момента
	UpdatedBefore time.Time
	Limit         int
	Offset        int
}

// ProvisioningOperationRepository — журнал саги создания/удаления пользователей.
type ProvisioningOperationRepository interface {
	// Create добавляет запись. Пустой ID заполняется новым UUID.
	Create(ctx context.Context, op *model.ProvisioningOperation) error
	// Update сохраняет статус, шаг, identity_id, ошибку и число попыток.
	Update(ctx context.Context, op *model.ProvisioningOperation) error
	// GetByID возвращает запись по ID.
	GetByID(ctx context.Context, id string) (*model.ProvisioningOperation, error)
	// List возвращает записи по фильтру, новые первыми.
	List(ctx context.Context, f OperationFilter) ([]*model.ProvisioningOperation, error)
	// Count возвращает число записей по фильтру (без Limit/Offset).
	Count(ctx context.Context, f OperationFilter) (int, error)
}

type provisioningOperationRepo struct {
	db DBTX
}

// NewProvisioningOperationRepository создаёт репозиторий журнала операций.
func NewProvisioningOperationRepository(db DBTX) ProvisioningOperationRepository {
	return &provisioningOperationRepo{db: db}
}

var opColumns = []string{
	"id", "kind", "status", "step", "identity_id", "email", "role_id",
	"requested_by", "last_error", "attempts", "created_at", "updated_at",
}

func scanOperation(row pgx.Row) (*model.ProvisioningOperation, error) {
	op := &model.ProvisioningOperation{}
	var identityID *string
	var kind, status string
	err := row.Scan(
		&op.ID, &kind, &status, &op.Step, &identityID, &op.Email, &op.RoleID,
		&op.RequestedBy, &op.LastError, &op.Attempts, &op.CreatedAt, &op.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	op.Kind = model.OperationKind(kind)
	op.Status = model.OperationStatus(status)
	if identityID != nil {
		op.IdentityID = *identityID
	}
	return op, nil
}

// nullIfEmpty возвращает nil для пустой строки.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *provisioningOperationRepo) Create(ctx context.Context, op *model.ProvisioningOperation) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}

	query, args, err := psql.Insert("provisioning_operations").
		Columns("id", "kind", "status", "step", "identity_id", "email", "role_id", "requested_by", "last_error", "attempts").
		Values(op.ID, string(op.Kind), string(op.Status), op.Step, nullIfEmpty(op.IdentityID),
			op.Email, op.RoleID, op.RequestedBy, op.LastError, op.Attempts).
		Suffix("RETURNING created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("ошибка построения запроса: %w", err)
	}

	if err := r.db.QueryRow(ctx, query, args...).Scan(&op.CreatedAt, &op.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка создания операции: %w", err)
	}
	return nil
}

func (r *provisioningOperationRepo) Update(ctx context.Context, op *model.ProvisioningOperation) error {
	query, args, err := psql.Update("provisioning_operations").
		Set("status", string(op.Status)).
		Set("step", op.Step).
		Set("identity_id", nullIfEmpty(op.IdentityID)).
		Set("last_error", op.LastError).
		Set("attempts", op.Attempts).
		Where(sq.Eq{"id": op.ID}).
		Suffix("RETURNING updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("ошибка построения запроса: %w", err)
	}

	if err := r.db.QueryRow(ctx, query, args...).Scan(&op.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления операции: %w", err)
	}
	return nil
}

func (r *provisioningOperationRepo) GetByID(ctx context.Context, id string) (*model.ProvisioningOperation, error) {
	query, args, err := psql.Select(opColumns...).
		From("provisioning_operations").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("ошибка построения запроса: %w", err)
	}

	op, err := scanOperation(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения операции: %w", err)
	}
	return op, nil
}

// applyFilter добавляет условия фильтра к запросу.
func applyFilter(b sq.SelectBuilder, f OperationFilter) sq.SelectBuilder {
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": string(f.Status)})
	}
	if f.Kind != "" {
		b = b.Where(sq.Eq{"kind": string(f.Kind)})
	}
	if f.IdentityID != "" {
		b = b.Where(sq.Eq{"identity_id": f.IdentityID})
	}
	if f.MaxAttempts > 0 {
		b = b.Where(sq.Lt{"attempts": f.MaxAttempts})
	}
	if !f.UpdatedBefore.IsZero() {
		b = b.Where(sq.Lt{"updated_at": f.UpdatedBefore})
	}
	return b
}

func (r *provisioningOperationRepo) List(ctx context.Context, f OperationFilter) ([]*model.ProvisioningOperation, error) {
	b := applyFilter(psql.Select(opColumns...).From("provisioning_operations"), f).
		OrderBy("created_at DESC", "id")
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		b = b.Offset(uint64(f.Offset))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("ошибка построения запроса: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка операций: %w", err)
	}
	defer rows.Close()

	var result []*model.ProvisioningOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования операции: %w", err)
		}
		result = append(result, op)
	}
	return result, rows.Err()
}

func (r *provisioningOperationRepo) Count(ctx context.Context, f OperationFilter) (int, error) {
	query, args, err := applyFilter(psql.Select("COUNT(*)").From("provisioning_operations"), f).ToSql()
	if err != nil {
		return 0, fmt.Errorf("ошибка построения запроса: %w", err)
	}

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта операций: %w", err)
	}
	return count, nil
}
