// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"

	"github.com/bigkaa/sitepanel/internal/domain/model"
	"github.com/bigkaa/sitepanel/internal/keycloak"
)

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — состояние ресурса не допускает операцию.
	ErrConflict = errors.New("конфликт состояния ресурса")
	// ErrForbidden — у вызывающего недостаточно прав.
	ErrForbidden = errors.New("недостаточно прав")
	// ErrSelfAction — действие над собственной учётной записью запрещено.
	ErrSelfAction = errors.New("действие над собственной учётной записью запрещено")
	// ErrIDPUnavailable — Identity Provider (Keycloak) недоступен.
	ErrIDPUnavailable = errors.New("Identity Provider недоступен")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
)

// ValidationError — ошибка входных данных. Message отдаётся клиенту.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Is позволяет проверять ValidationError через errors.Is(err, ErrValidation).
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ProvisioningError — отказ Keycloak или хранилища на шаге саги.
// Текст ошибки провайдера передаётся клиенту без изменений.
type ProvisioningError struct {
	OperationID string
	Step        string
	// Status — итоговый статус операции после отказа
	Status model.OperationStatus
	Err    error
}

func (e *ProvisioningError) Error() string { return e.Err.Error() }

func (e *ProvisioningError) Unwrap() error { return e.Err }

// Is: сетевой отказ Keycloak на шаге саги совместим с ErrIDPUnavailable.
func (e *ProvisioningError) Is(target error) bool {
	return target == ErrIDPUnavailable && errors.Is(e.Err, keycloak.ErrUnavailable)
}
