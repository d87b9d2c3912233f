// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, динамические фильтры — через squirrel.
package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrInvalidReference — ссылка на несуществующую запись (внешний ключ).
	ErrInvalidReference = errors.New("ссылка на несуществующую запись")
	// ErrPermissionDenied — серверная функция отказала вызывающему.
	ErrPermissionDenied = errors.New("недостаточно прав")
)

// Коды ошибок PostgreSQL, которые различает слой репозиториев.
const (
	pgUniqueViolation       = "23505"
	pgForeignKeyViolation   = "23503"
	pgInvalidTextRepr       = "22P02"
	pgInsufficientPrivilege = "42501"
	pgInvalidAuthorization  = "28000"
	pgNoDataFound           = "P0002"
)

// psql — построитель запросов с плейсхолдерами $1, $2, ...
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается, при успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// RunAs выполняет fn в транзакции от имени пользователя callerID.
// ID доступен серверным функциям через current_setting('app.current_user_id')
// до конца транзакции.
func (r *TxRunner) RunAs(ctx context.Context, callerID string, fn func(tx pgx.Tx) error) error {
	return r.RunInTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT set_config('app.current_user_id', $1, true)`, callerID); err != nil {
			return fmt.Errorf("ошибка установки вызывающего: %w", err)
		}
		return fn(tx)
	})
}

// ProcedureError — ошибка, поднятая серверной функцией через RAISE EXCEPTION.
// Сообщение передаётся вызывающему без изменений.
type ProcedureError struct {
	Code    string
	Message string
}

func (e *ProcedureError) Error() string { return e.Message }

// Is сопоставляет SQLSTATE с ошибками слоя.
func (e *ProcedureError) Is(target error) bool {
	switch target {
	case ErrPermissionDenied:
		return e.Code == pgInsufficientPrivilege || e.Code == pgInvalidAuthorization
	case ErrNotFound:
		return e.Code == pgNoDataFound
	}
	return false
}

// asPgError извлекает *pgconn.PgError из цепочки ошибок.
func asPgError(err error) *pgconn.PgError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr
	}
	return nil
}

// pgErrorCode возвращает SQLSTATE ошибки PostgreSQL или пустую строку.
func pgErrorCode(err error) string {
	if pgErr := asPgError(err); pgErr != nil {
		return pgErr.Code
	}
	return ""
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == pgUniqueViolation
}

// isForeignKeyViolation проверяет нарушение внешнего ключа.
func isForeignKeyViolation(err error) bool {
	return pgErrorCode(err) == pgForeignKeyViolation
}

// isInvalidText — значение не приводится к типу столбца (например, не UUID).
func isInvalidText(err error) bool {
	return pgErrorCode(err) == pgInvalidTextRepr
}
