package console

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/bigkaa/sitepanel/internal/api/apitypes"
	"github.com/bigkaa/sitepanel/internal/domain/model"
)

// APIError — ответ сервера с кодом ошибки.
// Message — текст поля error без изменений.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("server returned status %d", e.StatusCode)
}

// Client — HTTP-клиент API sitepanel. Реализует AuthProvider,
// DataStore и AdminAPI; токен берётся из переданной сессии.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      CredentialStore
	logger     *slog.Logger
}

var (
	_ AuthProvider = (*Client)(nil)
	_ DataStore    = (*Client)(nil)
	_ AdminAPI     = (*Client)(nil)
)

// NewClient создаёт клиент. httpClient == nil — клиент с таймаутом 30s.
func NewClient(baseURL string, store CredentialStore, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		store:      store,
		logger:     logger.With(slog.String("component", "console_client")),
	}
}

// --- AuthProvider ---

// GetSession загружает сохранённую сессию. Истёкший access token
// обновляется по refresh token; при отказе сессия удаляется.
func (c *Client) GetSession(ctx context.Context) (*Session, error) {
	sess, err := c.store.Load()
	if err != nil || sess == nil || sess.Token == nil {
		return nil, err
	}
	if sess.Token.Valid() {
		return sess, nil
	}
	if sess.Token.RefreshToken == "" {
		return nil, nil
	}

	var resp apitypes.TokenResponse
	err = c.do(ctx, nil, http.MethodPost, "/api/auth/refresh",
		apitypes.RefreshRequest{RefreshToken: sess.Token.RefreshToken}, &resp)
	if err != nil {
		if delErr := c.store.Delete(); delErr != nil {
			c.logger.Warn("Не удалось удалить сессию", slog.String("error", delErr.Error()))
		}
		return nil, fmt.Errorf("refresh session: %w", err)
	}

	refreshed := sessionFromTokens(&resp)
	if err := c.store.Save(refreshed); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return refreshed, nil
}

// SignIn выполняет вход по email и паролю и сохраняет сессию.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	var resp apitypes.TokenResponse
	err := c.do(ctx, nil, http.MethodPost, "/api/auth/login",
		apitypes.LoginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return nil, err
	}

	sess := sessionFromTokens(&resp)
	if err := c.store.Save(sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return sess, nil
}

// SignOut завершает сессию на сервере и удаляет локальную копию.
func (c *Client) SignOut(ctx context.Context, sess *Session) error {
	var remoteErr error
	if sess != nil && sess.Token != nil && sess.Token.RefreshToken != "" {
		remoteErr = c.do(ctx, nil, http.MethodPost, "/api/auth/logout",
			apitypes.RefreshRequest{RefreshToken: sess.Token.RefreshToken}, nil)
	}
	if err := c.store.Delete(); err != nil {
		return errors.Join(remoteErr, err)
	}
	return remoteErr
}

// --- DataStore ---

// ListUsersWithRoles — GET /api/admin/users.
func (c *Client) ListUsersWithRoles(ctx context.Context, sess *Session) ([]model.UserWithRole, error) {
	var items []apitypes.User
	if err := c.do(ctx, sess, http.MethodGet, "/api/admin/users", nil, &items); err != nil {
		return nil, err
	}
	users := make([]model.UserWithRole, 0, len(items))
	for i := range items {
		users = append(users, userFromAPI(&items[i]))
	}
	return users, nil
}

// ListRoles — GET /api/admin/roles.
func (c *Client) ListRoles(ctx context.Context, sess *Session) ([]model.Role, error) {
	var items []apitypes.Role
	if err := c.do(ctx, sess, http.MethodGet, "/api/admin/roles", nil, &items); err != nil {
		return nil, err
	}
	roles := make([]model.Role, 0, len(items))
	for i := range items {
		roles = append(roles, roleFromAPI(&items[i]))
	}
	return roles, nil
}

// ResolveRole возвращает роль пользователя. Роль владельца сессии
// берётся из /api/auth/session, остальных — из списка пользователей.
func (c *Client) ResolveRole(ctx context.Context, sess *Session, userID string) (string, error) {
	if sess != nil && userID == sess.UserID {
		var s apitypes.Session
		if err := c.do(ctx, sess, http.MethodGet, "/api/auth/session", nil, &s); err != nil {
			return "", err
		}
		if s.Role == nil {
			return "", nil
		}
		return *s.Role, nil
	}

	users, err := c.ListUsersWithRoles(ctx, sess)
	if err != nil {
		return "", err
	}
	for i := range users {
		if users[i].ID == userID {
			return users[i].Role.Name, nil
		}
	}
	return "", nil
}

// ChangeUserRole — POST /api/rpc/change_user_role.
func (c *Client) ChangeUserRole(ctx context.Context, sess *Session, targetUserID, newRoleName string) error {
	return c.do(ctx, sess, http.MethodPost, "/api/rpc/change_user_role",
		apitypes.ChangeRoleRequest{TargetUserID: targetUserID, NewRoleName: newRoleName}, nil)
}

// --- AdminAPI ---

// CreateUser — POST /api/admin/create-user. Возвращает ID пользователя.
func (c *Client) CreateUser(ctx context.Context, sess *Session, in CreateUserInput) (string, error) {
	var resp apitypes.CreateUserResponse
	err := c.do(ctx, sess, http.MethodPost, "/api/admin/create-user", apitypes.CreateUserRequest{
		Email:     in.Email,
		Password:  in.Password,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		RoleID:    in.RoleID,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.User.ID, nil
}

// DeleteUser — DELETE /api/admin/delete-user?userId=.
func (c *Client) DeleteUser(ctx context.Context, sess *Session, userID string) error {
	return c.do(ctx, sess, http.MethodDelete, "/api/admin/delete-user?userId="+url.QueryEscape(userID), nil, nil)
}

// --- Журнал операций провижининга ---

// OperationFilter — параметры выборки журнала.
type OperationFilter struct {
	Status string
	Kind   string
	Limit  int
	Offset int
}

// ListOperations — GET /api/admin/provisioning-operations.
func (c *Client) ListOperations(ctx context.Context, sess *Session, f OperationFilter) (*apitypes.OperationListResponse, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Kind != "" {
		q.Set("kind", f.Kind)
	}
	if f.Limit > 0 {
		q.Set("limit", fmt.Sprint(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", fmt.Sprint(f.Offset))
	}
	path := "/api/admin/provisioning-operations"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp apitypes.OperationListResponse
	if err := c.do(ctx, sess, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RetryOperation — POST /api/admin/provisioning-operations/{id}/retry.
func (c *Client) RetryOperation(ctx context.Context, sess *Session, id string) (*apitypes.ProvisioningOperation, error) {
	var op apitypes.ProvisioningOperation
	path := "/api/admin/provisioning-operations/" + url.PathEscape(id) + "/retry"
	if err := c.do(ctx, sess, http.MethodPost, path, nil, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// --- HTTP ---

// httpFor возвращает HTTP-клиент с bearer-токеном сессии.
func (c *Client) httpFor(ctx context.Context, sess *Session) *http.Client {
	if sess == nil || sess.Token == nil {
		return c.httpClient
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(sess.Token))
}

// do выполняет JSON-запрос. Ответ не 2xx превращается в *APIError.
func (c *Client) do(ctx context.Context, sess *Session, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpFor(ctx, sess).Do(req) //nolint:gosec // G704: URL сервера из флага --server
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var e apitypes.ErrorResponse
		if json.Unmarshal(data, &e) == nil {
			apiErr.Code = e.Code
			apiErr.Message = e.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// --- Конвертеры ---

func sessionFromTokens(resp *apitypes.TokenResponse) *Session {
	tokenType := resp.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	token := &oauth2.Token{
		AccessToken:  resp.AccessToken,
		TokenType:    tokenType,
		RefreshToken: resp.RefreshToken,
	}
	if resp.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return &Session{
		UserID: resp.User.ID,
		Email:  resp.User.Email,
		Token:  token,
	}
}

func roleFromAPI(r *apitypes.Role) model.Role {
	return model.Role{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		CreatedAt:   r.CreatedAt,
	}
}

func userFromAPI(u *apitypes.User) model.UserWithRole {
	out := model.UserWithRole{
		UserProfile: model.UserProfile{
			ID:        u.ID,
			Email:     u.Email,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			RoleID:    u.RoleID,
			IsActive:  u.IsActive,
			CreatedAt: u.CreatedAt,
			UpdatedAt: u.UpdatedAt,
		},
	}
	if u.Role != nil {
		out.Role = roleFromAPI(u.Role)
	}
	return out
}
