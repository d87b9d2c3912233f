// Пакет rbac — уровни ролей и правила назначения.
// Уровни: standard < admin < super_admin. Любая роль, кроме admin
// и super_admin, относится к уровню standard.
package rbac

import "github.com/bigkaa/sitepanel/internal/domain/model"

// Имена административных ролей.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
)

// Tier — уровень привилегий роли.
type Tier int

const (
	// TierNone — роль не определена (нет профиля)
	TierNone Tier = iota
	TierStandard
	TierAdmin
	TierSuperAdmin
)

// String возвращает имя уровня.
func (t Tier) String() string {
	switch t {
	case TierStandard:
		return "standard"
	case TierAdmin:
		return "admin"
	case TierSuperAdmin:
		return "super_admin"
	default:
		return "none"
	}
}

// TierOf возвращает уровень роли по её имени.
func TierOf(roleName string) Tier {
	switch roleName {
	case "":
		return TierNone
	case RoleSuperAdmin:
		return TierSuperAdmin
	case RoleAdmin:
		return TierAdmin
	default:
		return TierStandard
	}
}

// IsAdmin — роль admin или super_admin.
func IsAdmin(roleName string) bool {
	return TierOf(roleName) >= TierAdmin
}

// IsSuperAdmin — роль super_admin.
func IsSuperAdmin(roleName string) bool {
	return TierOf(roleName) == TierSuperAdmin
}

// CanAssign проверяет, может ли вызывающий назначить роль targetRole.
// Назначать роли может только администратор; роли уровня admin
// и выше назначает только super_admin.
func CanAssign(callerRole, targetRole string) bool {
	caller := TierOf(callerRole)
	if caller < TierAdmin {
		return false
	}
	if TierOf(targetRole) >= TierAdmin {
		return caller == TierSuperAdmin
	}
	return true
}

// CanManage проверяет, может ли вызывающий менять роль пользователя
// с текущей ролью currentRole. Администраторов меняет только super_admin.
func CanManage(callerRole, currentRole string) bool {
	caller := TierOf(callerRole)
	if caller < TierAdmin {
		return false
	}
	if TierOf(currentRole) >= TierAdmin {
		return caller == TierSuperAdmin
	}
	return true
}

// CanDelete — пользователь не может удалить сам себя.
func CanDelete(callerID, targetID string) bool {
	return callerID != "" && callerID != targetID
}

// RoleOption — вариант роли для выбора с признаком недоступности.
type RoleOption struct {
	ID       int
	Name     string
	Disabled bool
}

// AssignableRoles строит список вариантов ролей для вызывающего.
// Порядок ролей сохраняется.
func AssignableRoles(callerRole string, roles []model.Role) []RoleOption {
	opts := make([]RoleOption, 0, len(roles))
	for _, r := range roles {
		opts = append(opts, RoleOption{
			ID:       r.ID,
			Name:     r.Name,
			Disabled: !CanAssign(callerRole, r.Name),
		})
	}
	return opts
}
