package model

import "time"

// OperationKind — тип операции провижининга.
type OperationKind string

const (
	OperationCreateUser OperationKind = "create_user"
	OperationDeleteUser OperationKind = "delete_user"
)

// OperationStatus — состояние операции провижининга.
type OperationStatus string

const (
	// OperationPending — операция выполняется
	OperationPending OperationStatus = "pending"
	// OperationCompleted — все шаги выполнены
	OperationCompleted OperationStatus = "completed"
	// OperationFailed — первый шаг не выполнен, изменений нет
	OperationFailed OperationStatus = "failed"
	// OperationCompensated — частичный результат откатан
	OperationCompensated OperationStatus = "compensated"
	// OperationInconsistent — учётная запись IdP осталась без профиля
	OperationInconsistent OperationStatus = "inconsistent"
)

// IsValid проверяет допустимость статуса.
func (s OperationStatus) IsValid() bool {
	switch s {
	case OperationPending, OperationCompleted, OperationFailed, OperationCompensated, OperationInconsistent:
		return true
	}
	return false
}

// IsValid проверяет допустимость типа операции.
func (k OperationKind) IsValid() bool {
	return k == OperationCreateUser || k == OperationDeleteUser
}

// Шаги саги.
const (
	StepCreateIdentity     = "create_identity"
	StepUpsertProfile      = "upsert_profile"
	StepCompensateIdentity = "compensate_identity"
	StepDeleteProfile      = "delete_profile"
	StepDeleteIdentity     = "delete_identity"
	StepDone               = "done"
)

// ProvisioningOperation — запись журнала саги создания/удаления пользователя.
type ProvisioningOperation struct {
	ID     string
	Kind   OperationKind
	Status OperationStatus
	Step   string
	// IdentityID — ID учётной записи в Keycloak (пусто до её создания)
	IdentityID  string
	Email       string
	RoleID      *int
	RequestedBy string
	LastError   *string
	Attempts    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ReconcileResult — итог прохода дочистки несогласованных операций.
type ReconcileResult struct {
	Checked  int
	Resolved int
	Failed   int
}
