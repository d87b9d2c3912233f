// client.go — клиент Admin REST API realm sitepanel: создание и удаление
// учётных записей сотрудников и клиентов, проверка realm для readiness.
// Запросы подписываются токеном сервисного клиента (client credentials).
package keycloak

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
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// tokenEarlyExpiry — запас до истечения токена сервисного клиента.
const tokenEarlyExpiry = 30 * time.Second

// Client — клиент Admin REST API с правами manage-users.
type Client struct {
	adminURL   string
	credential clientcredentials.Config
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

// New создаёт клиент Admin REST API.
// clientID, clientSecret — service-role клиент с ролью realm-management/manage-users.
func New(baseURL, realm, clientID, clientSecret string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL = strings.TrimRight(baseURL, "/")

	return &Client{
		adminURL: fmt.Sprintf("%s/admin/realms/%s", baseURL, realm),
		credential: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", baseURL, realm),
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "keycloak_client")),
	}
}

// serviceToken возвращает токен сервисного клиента, запрашивая новый
// не позже чем за tokenEarlyExpiry до истечения текущего.
func (c *Client) serviceToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != nil && time.Now().Add(tokenEarlyExpiry).Before(c.token.Expiry) {
		return c.token.AccessToken, nil
	}

	tok, err := c.credential.Token(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return "", fmt.Errorf("%w: token endpoint вернул %d: %s", ErrUnavailable, re.Response.StatusCode, re.ErrorCode)
		}
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	c.token = tok

	c.logger.Debug("Токен сервисного клиента обновлён", slog.Time("expires_at", tok.Expiry))
	return tok.AccessToken, nil
}

// send выполняет запрос к Admin REST API от имени сервисного клиента.
// Сетевые ошибки оборачиваются в ErrUnavailable.
func (c *Client) send(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	token, err := c.serviceToken(ctx)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("сериализация тела запроса: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.adminURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return resp, nil
}

// readAPIError формирует APIError из ответа с ошибочным статусом.
func readAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var parsed apiErrorBody
	if json.Unmarshal(body, &parsed) == nil {
		switch {
		case parsed.ErrorMessage != "":
			apiErr.Message = parsed.ErrorMessage
		case parsed.ErrorDescription != "":
			apiErr.Message = parsed.ErrorDescription
		case parsed.Error != "":
			apiErr.Message = parsed.Error
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

// CreateUser заводит учётную запись: username = email в нижнем регистре,
// email подтверждён, пароль постоянный. Возвращает ID учётной записи.
func (c *Client) CreateUser(ctx context.Context, u NewUser) (string, error) {
	resp, err := c.send(ctx, http.MethodPost, "/users", userCreateRequest{
		Username:      strings.ToLower(u.Email),
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Enabled:       true,
		EmailVerified: true,
		Credentials:   []Credential{{Type: "password", Value: u.Password}},
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", readAPIError(resp)
	}

	// ID есть только в Location: .../users/{id}
	location := resp.Header.Get("Location")
	id := location[strings.LastIndex(location, "/")+1:]
	if id == "" {
		return "", fmt.Errorf("CreateUser: в ответе нет ID учётной записи (Location %q)", location)
	}

	c.logger.Info("Учётная запись создана в Keycloak",
		slog.String("user_id", id),
		slog.String("email", u.Email),
	)
	return id, nil
}

// DeleteUser удаляет учётную запись. Для отсутствующей записи
// возвращается ошибка, совместимая с ErrNotFound.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	resp, err := c.send(ctx, http.MethodDelete, "/users/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return readAPIError(resp)
	}

	c.logger.Info("Учётная запись удалена в Keycloak", slog.String("user_id", id))
	return nil
}

// RealmInfo читает состояние realm (корень Admin API).
func (c *Client) RealmInfo(ctx context.Context) (*RealmRepresentation, error) {
	resp, err := c.send(ctx, http.MethodGet, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("RealmInfo: %w", readAPIError(resp))
	}

	var realm RealmRepresentation
	if err := json.NewDecoder(resp.Body).Decode(&realm); err != nil {
		return nil, fmt.Errorf("RealmInfo: %w", err)
	}
	return &realm, nil
}

// CheckReady — readiness: realm доступен сервисному клиенту и включён.
func (c *Client) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	realm, err := c.RealmInfo(ctx)
	switch {
	case err != nil:
		return "fail", fmt.Sprintf("Admin API: %v", err)
	case !realm.Enabled:
		return "degraded", fmt.Sprintf("realm %s выключен", realm.Realm)
	default:
		return "ok", fmt.Sprintf("realm %s", realm.Realm)
	}
}
