// Пакет console — состояние и действия панели администратора:
// сессия, список пользователей с ролями, смена роли, создание
// и удаление пользователей, поиск.
//
// Console хранит сессию явно и работает через три внешние границы:
// AuthProvider (сессия и вход), DataStore (чтение и RPC смены роли)
// и AdminAPI (привилегированные endpoints). После каждой мутации
// набор данных перечитывается полностью.
package console

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/bigkaa/sitepanel/internal/domain/model"
	"github.com/bigkaa/sitepanel/internal/domain/rbac"
)

// ErrNotAuthenticated — действие требует активной сессии.
var ErrNotAuthenticated = errors.New("not authenticated")

// AuthProvider — граница провайдера аутентификации.
type AuthProvider interface {
	// GetSession возвращает сохранённую сессию или nil, если её нет.
	GetSession(ctx context.Context) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context, sess *Session) error
}

// DataStore — граница хранилища профилей и ролей.
type DataStore interface {
	// ListUsersWithRoles возвращает профили с ролями, новые первыми.
	ListUsersWithRoles(ctx context.Context, sess *Session) ([]model.UserWithRole, error)
	// ListRoles возвращает роли в порядке ID.
	ListRoles(ctx context.Context, sess *Session) ([]model.Role, error)
	// ResolveRole возвращает имя роли пользователя ("" без профиля).
	ResolveRole(ctx context.Context, sess *Session, userID string) (string, error)
	// ChangeUserRole вызывает серверную функцию смены роли.
	ChangeUserRole(ctx context.Context, sess *Session, targetUserID, newRoleName string) error
}

// AdminAPI — привилегированные endpoints создания и удаления.
type AdminAPI interface {
	CreateUser(ctx context.Context, sess *Session, in CreateUserInput) (string, error)
	DeleteUser(ctx context.Context, sess *Session, userID string) error
}

// CreateUserInput — данные формы создания пользователя.
// RoleID == 0 означает, что роль не выбрана.
type CreateUserInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	RoleID    int
}

// Messages — тексты сообщений, которые Console формирует сама.
type Messages struct {
	SelectRole       string
	CreateFailed     string
	UserCreated      string
	ServerError      string
	DeleteFailed     string
	UserDeleted      string
	CannotDeleteSelf string
	NotAuthenticated string
}

// DefaultMessages возвращает английские тексты сообщений.
func DefaultMessages() Messages {
	return Messages{
		SelectRole:       "Please select a role",
		CreateFailed:     "Error creating user",
		UserCreated:      "User created successfully",
		ServerError:      "Server error, please try again",
		DeleteFailed:     "Error deleting user",
		UserDeleted:      "User deleted successfully",
		CannotDeleteSelf: "You cannot delete your own account",
		NotAuthenticated: "Please sign in first",
	}
}

// State — снимок состояния панели для отображения.
type State struct {
	Session     *Session
	Role        string
	IsAdmin     bool
	Loading     bool
	AuthLoading bool
	Submitting  bool
	Users       []model.UserWithRole
	Roles       []model.Role
	Filtered    []model.UserWithRole
	Search      string
	Error       string
	Success     string
}

// Console — состояние панели администратора и её действия.
// Действия выполняются последовательно одним вызывающим;
// чтение состояния безопасно из других горутин.
type Console struct {
	auth   AuthProvider
	store  DataStore
	admin  AdminAPI
	msgs   Messages
	logger *slog.Logger

	mu          sync.RWMutex
	session     *Session
	role        string
	users       []model.UserWithRole
	roles       []model.Role
	loading     bool
	authLoading bool
	submitting  bool
	search      string
	errMsg      string
	successMsg  string
}

// New создаёт Console. До CheckAuth состояние считается загружающимся.
func New(auth AuthProvider, store DataStore, admin AdminAPI, msgs Messages, logger *slog.Logger) *Console {
	return &Console{
		auth:    auth,
		store:   store,
		admin:   admin,
		msgs:    msgs,
		logger:  logger.With(slog.String("component", "console")),
		loading: true,
	}
}

// --- Сессия ---

// CheckAuth восстанавливает существующую сессию, определяет роль
// и загружает данные. Ошибки оставляют панель без аутентификации
// и в сообщение об ошибке не попадают.
func (c *Console) CheckAuth(ctx context.Context) {
	defer c.set(func() { c.loading = false })

	sess, err := c.auth.GetSession(ctx)
	if err != nil {
		c.logger.Debug("Сессия не восстановлена", slog.String("error", err.Error()))
		return
	}
	if sess == nil {
		return
	}

	c.set(func() { c.session = sess })
	c.resolveRole(ctx, sess)
	_ = c.FetchData(ctx)
}

// Login выполняет вход, затем определяет роль и загружает данные.
func (c *Console) Login(ctx context.Context, email, password string) error {
	c.set(func() {
		c.authLoading = true
		c.errMsg = ""
	})
	defer c.set(func() { c.authLoading = false })

	sess, err := c.auth.SignIn(ctx, email, password)
	if err != nil {
		c.setError(errorText(err))
		return err
	}

	c.set(func() {
		c.session = sess
		c.role = ""
	})
	c.resolveRole(ctx, sess)
	return c.FetchData(ctx)
}

// Logout завершает сессию у провайдера и очищает состояние.
// Ошибка провайдера не мешает выходу.
func (c *Console) Logout(ctx context.Context) {
	sess := c.Session()
	if sess != nil {
		if err := c.auth.SignOut(ctx, sess); err != nil {
			c.logger.Warn("Ошибка завершения сессии", slog.String("error", err.Error()))
		}
	}

	c.set(func() {
		c.session = nil
		c.role = ""
		c.users = nil
	})
}

// resolveRole определяет роль вызывающего. Ошибка оставляет роль пустой.
func (c *Console) resolveRole(ctx context.Context, sess *Session) {
	role, err := c.store.ResolveRole(ctx, sess, sess.UserID)
	if err != nil {
		c.logger.Debug("Роль не определена", slog.String("error", err.Error()))
		return
	}
	c.set(func() { c.role = role })
}

// --- Данные ---

// FetchData перечитывает пользователей, затем роли. При ошибке любого
// чтения выставляет сообщение и не меняет загруженные данные.
func (c *Console) FetchData(ctx context.Context) error {
	sess := c.Session()
	if sess == nil {
		c.setError(c.msgs.NotAuthenticated)
		return ErrNotAuthenticated
	}

	users, err := c.store.ListUsersWithRoles(ctx, sess)
	if err != nil {
		c.setError(errorText(err))
		return err
	}

	roles, err := c.store.ListRoles(ctx, sess)
	if err != nil {
		c.setError(errorText(err))
		return err
	}

	c.set(func() {
		c.users = users
		c.roles = roles
	})
	return nil
}

// ChangeRole вызывает серверную смену роли и перечитывает данные.
// Права проверяет сервер.
func (c *Console) ChangeRole(ctx context.Context, userID, newRoleName string) error {
	sess := c.Session()
	if sess == nil {
		c.setError(c.msgs.NotAuthenticated)
		return ErrNotAuthenticated
	}

	if err := c.store.ChangeUserRole(ctx, sess, userID, newRoleName); err != nil {
		c.setError(errorText(err))
		return err
	}

	return c.FetchData(ctx)
}

// CreateUser создаёт пользователя и перечитывает данные.
// Без выбранной роли завершается локальной ошибкой без обращения к сети.
func (c *Console) CreateUser(ctx context.Context, in CreateUserInput) bool {
	c.clearMessages()

	if in.RoleID == 0 {
		c.setError(c.msgs.SelectRole)
		return false
	}
	sess := c.Session()
	if sess == nil {
		c.setError(c.msgs.NotAuthenticated)
		return false
	}

	c.set(func() { c.submitting = true })
	defer c.set(func() { c.submitting = false })

	if _, err := c.admin.CreateUser(ctx, sess, in); err != nil {
		c.setError(c.remoteMessage(err, c.msgs.CreateFailed))
		return false
	}

	c.set(func() { c.successMsg = c.msgs.UserCreated })
	_ = c.FetchData(ctx)
	return true
}

// DeleteUser удаляет пользователя и перечитывает данные.
// Удалить самого себя нельзя.
func (c *Console) DeleteUser(ctx context.Context, userID string) bool {
	c.clearMessages()

	sess := c.Session()
	if sess == nil {
		c.setError(c.msgs.NotAuthenticated)
		return false
	}
	if !rbac.CanDelete(sess.UserID, userID) {
		c.setError(c.msgs.CannotDeleteSelf)
		return false
	}

	c.set(func() { c.submitting = true })
	defer c.set(func() { c.submitting = false })

	if err := c.admin.DeleteUser(ctx, sess, userID); err != nil {
		c.setError(c.remoteMessage(err, c.msgs.DeleteFailed))
		return false
	}

	c.set(func() { c.successMsg = c.msgs.UserDeleted })
	_ = c.FetchData(ctx)
	return true
}

// --- Поиск и производные значения ---

// SetSearch задаёт строку поиска.
func (c *Console) SetSearch(q string) {
	c.set(func() { c.search = q })
}

// FilteredUsers возвращает пользователей, подходящих под строку поиска.
func (c *Console) FilteredUsers() []model.UserWithRole {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return FilterUsers(c.users, c.search)
}

// Stats считает сводку по загруженным пользователям.
func (c *Console) Stats() model.UserStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ComputeStats(c.users)
}

// AssignableRoles возвращает варианты ролей для вызывающего.
// Роли уровня admin и выше недоступны всем, кроме super_admin.
func (c *Console) AssignableRoles() []rbac.RoleOption {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return rbac.AssignableRoles(c.role, c.roles)
}

// CanDelete — доступно ли удаление пользователя userID.
func (c *Console) CanDelete(userID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session != nil && rbac.CanDelete(c.session.UserID, userID)
}

// CanChangeRole — доступна ли смена роли пользователя userID:
// не себе и не администратору, если вызывающий не super_admin.
func (c *Console) CanChangeRole(userID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil || c.session.UserID == userID {
		return false
	}
	for i := range c.users {
		if c.users[i].ID == userID {
			return rbac.CanManage(c.role, c.users[i].Role.Name)
		}
	}
	return false
}

// IsAdmin — роль вызывающего admin или super_admin.
func (c *Console) IsAdmin() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return rbac.IsAdmin(c.role)
}

// --- Сообщения ---

// DismissError убирает сообщение об ошибке.
func (c *Console) DismissError() {
	c.set(func() { c.errMsg = "" })
}

// DismissSuccess убирает сообщение об успехе.
func (c *Console) DismissSuccess() {
	c.set(func() { c.successMsg = "" })
}

// --- Доступ к состоянию ---

// Session возвращает текущую сессию или nil.
func (c *Console) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// Role возвращает роль вызывающего ("" без профиля).
func (c *Console) Role() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// Users возвращает загруженных пользователей.
func (c *Console) Users() []model.UserWithRole {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.users
}

// Roles возвращает загруженные роли.
func (c *Console) Roles() []model.Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roles
}

// ErrorMessage возвращает текущее сообщение об ошибке.
func (c *Console) ErrorMessage() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.errMsg
}

// SuccessMessage возвращает текущее сообщение об успехе.
func (c *Console) SuccessMessage() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.successMsg
}

// Snapshot возвращает копию состояния.
func (c *Console) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return State{
		Session:     c.session,
		Role:        c.role,
		IsAdmin:     rbac.IsAdmin(c.role),
		Loading:     c.loading,
		AuthLoading: c.authLoading,
		Submitting:  c.submitting,
		Users:       c.users,
		Roles:       c.roles,
		Filtered:    FilterUsers(c.users, c.search),
		Search:      c.search,
		Error:       c.errMsg,
		Success:     c.successMsg,
	}
}

// --- Вспомогательные функции ---

func (c *Console) set(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

func (c *Console) setError(msg string) {
	c.set(func() { c.errMsg = msg })
}

func (c *Console) clearMessages() {
	c.set(func() {
		c.errMsg = ""
		c.successMsg = ""
	})
}

// remoteMessage: сообщение сервера без изменений, fallback для ответа
// без сообщения, общий текст для сетевой ошибки.
func (c *Console) remoteMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if strings.TrimSpace(apiErr.Message) != "" {
			return apiErr.Message
		}
		return fallback
	}
	return c.msgs.ServerError
}

// errorText возвращает сообщение сервера, если оно есть.
func errorText(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
