package console

import (
	"strings"

	"github.com/bigkaa/sitepanel/internal/domain/model"
	"github.com/bigkaa/sitepanel/internal/domain/rbac"
)

// FilterUsers отбирает пользователей, у которых email, имя, фамилия
// или имя роли содержат q без учёта регистра. Пустой q возвращает всех.
// Порядок сохраняется.
func FilterUsers(users []model.UserWithRole, q string) []model.UserWithRole {
	if q == "" {
		return users
	}
	query := strings.ToLower(q)

	out := make([]model.UserWithRole, 0, len(users))
	for i := range users {
		if matches(&users[i], query) {
			out = append(out, users[i])
		}
	}
	return out
}

func matches(u *model.UserWithRole, query string) bool {
	return strings.Contains(strings.ToLower(u.Email), query) ||
		strings.Contains(strings.ToLower(deref(u.FirstName)), query) ||
		strings.Contains(strings.ToLower(deref(u.LastName)), query) ||
		strings.Contains(strings.ToLower(u.Role.Name), query)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ComputeStats считает сводку по списку пользователей.
func ComputeStats(users []model.UserWithRole) model.UserStats {
	stats := model.UserStats{Total: len(users)}
	for i := range users {
		if users[i].IsActive {
			stats.Active++
		} else {
			stats.Inactive++
		}
		if rbac.IsAdmin(users[i].Role.Name) {
			stats.Admins++
		}
	}
	return stats
}
