// Пакет model — доменные модели sitepanel.
package model

import "time"

// Role — роль из справочника roles. Только чтение.
type Role struct {
	ID          int
	Name        string
	Description string
	CreatedAt   time.Time
}

// UserProfile — профиль пользователя (таблица profiles).
// ID совпадает с subject учётной записи в Keycloak.
type UserProfile struct {
	ID        string
	Email     string
	FirstName *string
	LastName  *string
	RoleID    int
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserWithRole — профиль, соединённый со своей ролью по role_id.
type UserWithRole struct {
	UserProfile
	Role Role
}

// UserStats — сводка по пользователям для панели администратора.
type UserStats struct {
	Total    int
	Active   int
	Inactive int
	// Admins — пользователи с ролью admin или super_admin
	Admins int
}

// Caller — аутентифицированный вызывающий.
// ID и Email берутся из JWT, Role — из профиля (пусто, если профиля нет).
type Caller struct {
	ID    string
	Email string
	Role  string
}
