// oidc.go — клиент token endpoint Keycloak для публичного клиента.
// Вход по паролю (Resource Owner Password grant), обновление и отзыв refresh token.
package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// OIDCClient — клиент OIDC endpoints realm для публичного клиента (без секрета).
type OIDCClient struct {
	clientID   string
	tokenURL   string
	logoutURL  string
	httpClient *http.Client
}

// NewOIDCClient создаёт OIDC-клиент.
// clientID — публичный клиент с включённым Direct Access Grants.
func NewOIDCClient(baseURL, realm, clientID string, httpClient *http.Client) *OIDCClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	oidcBase := fmt.Sprintf("%s/realms/%s/protocol/openid-connect", strings.TrimRight(baseURL, "/"), realm)
	return &OIDCClient{
		clientID:   clientID,
		tokenURL:   oidcBase + "/token",
		logoutURL:  oidcBase + "/logout",
		httpClient: httpClient,
	}
}

// PasswordGrant выполняет вход по email и паролю.
func (c *OIDCClient) PasswordGrant(ctx context.Context, username, password string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type": {"password"},
		"client_id":  {c.clientID},
		"username":   {username},
		"password":   {password},
		"scope":      {"openid profile email"},
	}
	return c.doTokenRequest(ctx, data)
}

// RefreshTokens обновляет access token через refresh token.
func (c *OIDCClient) RefreshTokens(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {c.clientID},
		"refresh_token": {refreshToken},
	}
	return c.doTokenRequest(ctx, data)
}

// Logout завершает сессию Keycloak, которой принадлежит refresh token.
func (c *OIDCClient) Logout(ctx context.Context, refreshToken string) error {
	data := url.Values{
		"client_id":     {c.clientID},
		"refresh_token": {refreshToken},
	}

	resp, err := c.postForm(ctx, c.logoutURL, data)
	if err != nil {
		return fmt.Errorf("ошибка запроса к logout endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return parseTokenError(resp.StatusCode, body)
	}
	return nil
}

// postForm отправляет form-urlencoded POST.
func (c *OIDCClient) postForm(ctx context.Context, endpoint string, data url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
}

// doTokenRequest выполняет POST-запрос к token endpoint Keycloak.
func (c *OIDCClient) doTokenRequest(ctx context.Context, data url.Values) (*TokenResponse, error) {
	resp, err := c.postForm(ctx, c.tokenURL, data)
	if err != nil {
		return nil, fmt.Errorf("%w: запрос к token endpoint: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseTokenError(resp.StatusCode, body)
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("ошибка парсинга token response: %w", err)
	}
	return &tokenResp, nil
}

// parseTokenError разбирает тело ошибки OIDC endpoint.
func parseTokenError(status int, body []byte) *TokenError {
	tokenErr := &TokenError{StatusCode: status}
	_ = json.Unmarshal(body, tokenErr)
	return tokenErr
}
