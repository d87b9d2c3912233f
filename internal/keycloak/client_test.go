package keycloak

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// setupMockKeycloak создаёт mock HTTP-сервер Keycloak.
// tokenHandler обрабатывает запросы на получение токена.
// adminHandler обрабатывает запросы к Admin REST API.
func setupMockKeycloak(t *testing.T, tokenHandler, adminHandler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/realms/sitepanel/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		if tokenHandler != nil {
			tokenHandler(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(TokenResponse{
			AccessToken: "test-access-token",
			TokenType:   "Bearer",
			ExpiresIn:   300,
		})
	})

	mux.HandleFunc("/admin/realms/sitepanel/", func(w http.ResponseWriter, r *http.Request) {
		if adminHandler != nil {
			adminHandler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := New(server.URL, "sitepanel", "sitepanel-admin", "test-secret", server.Client(), testLogger())
	return server, client
}

// TestClient_TokenCaching проверяет кэширование токена.
func TestClient_TokenCaching(t *testing.T) {
	tokenRequests := 0

	_, client := setupMockKeycloak(t,
		func(w http.ResponseWriter, r *http.Request) {
			tokenRequests++
			if got := r.FormValue("grant_type"); got != "client_credentials" {
				t.Errorf("grant_type = %q, ожидается client_credentials", got)
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(TokenResponse{AccessToken: "cached-token", ExpiresIn: 300})
		},
		nil,
	)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		token, err := client.serviceToken(ctx)
		if err != nil {
			t.Fatalf("Ошибка получения токена: %v", err)
		}
		if token != "cached-token" {
			t.Errorf("ожидался cached-token, получен %s", token)
		}
	}

	if tokenRequests != 1 {
		t.Errorf("ожидался 1 запрос токена, было %d", tokenRequests)
	}
}

// TestClient_TokenRefresh — токен с истечением раньше запаса
// запрашивается заново.
func TestClient_TokenRefresh(t *testing.T) {
	tokenRequests := 0
	_, client := setupMockKeycloak(t,
		func(w http.ResponseWriter, r *http.Request) {
			tokenRequests++
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(TokenResponse{AccessToken: "short-token", ExpiresIn: 10})
		},
		nil,
	)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := client.serviceToken(ctx); err != nil {
			t.Fatalf("Ошибка обновления токена: %v", err)
		}
	}
	if tokenRequests != 2 {
		t.Errorf("запросов токена = %d, ожидается 2", tokenRequests)
	}
}

// TestClient_TokenError — отказ token endpoint означает недоступность Keycloak.
func TestClient_TokenError(t *testing.T) {
	_, client := setupMockKeycloak(t,
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized_client"}`))
		},
		nil,
	)

	err := client.DeleteUser(context.Background(), "u1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("DeleteUser() = %v, ожидается ErrUnavailable", err)
	}
}

// TestClient_TransportError — сетевая ошибка оборачивается в ErrUnavailable,
// а не в APIError.
func TestClient_TransportError(t *testing.T) {
	srv, client := setupMockKeycloak(t, nil, nil)
	srv.Close()

	_, err := client.CreateUser(context.Background(), NewUser{Email: "a@x.com", Password: "p"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("CreateUser() = %v, ожидается ErrUnavailable", err)
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Errorf("сетевая ошибка не должна быть APIError: %+v", apiErr)
	}
}

// TestClient_CreateUser проверяет тело запроса и извлечение ID из Location.
func TestClient_CreateUser(t *testing.T) {
	var got userCreateRequest
	_, client := setupMockKeycloak(t, nil, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/admin/realms/sitepanel/users" {
			t.Errorf("неожиданный запрос %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-access-token" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("декодирование тела: %v", err)
		}
		w.Header().Set("Location", "http://kc/admin/realms/sitepanel/users/3f2b6c1e-0000-4000-8000-000000000001")
		w.WriteHeader(http.StatusCreated)
	})

	id, err := client.CreateUser(context.Background(), NewUser{
		Email:     "Marie@Example.com",
		Password:  "s3cret",
		FirstName: "Marie",
	})
	if err != nil {
		t.Fatalf("CreateUser() ошибка: %v", err)
	}
	if id != "3f2b6c1e-0000-4000-8000-000000000001" {
		t.Errorf("id = %q", id)
	}
	if got.Username != "marie@example.com" || got.Email != "Marie@Example.com" {
		t.Errorf("username/email = %q/%q", got.Username, got.Email)
	}
	if !got.Enabled || !got.EmailVerified {
		t.Errorf("enabled=%v emailVerified=%v, ожидается true/true", got.Enabled, got.EmailVerified)
	}
	if len(got.Credentials) != 1 || got.Credentials[0].Value != "s3cret" || got.Credentials[0].Temporary {
		t.Errorf("credentials = %+v", got.Credentials)
	}
	if got.LastName != "" {
		t.Errorf("lastName = %q, ожидается пусто", got.LastName)
	}
}

// TestClient_CreateUser_Conflict — сообщение Keycloak передаётся без изменений.
func TestClient_CreateUser_Conflict(t *testing.T) {
	_, client := setupMockKeycloak(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"errorMessage":"User exists with same email"}`))
	})

	_, err := client.CreateUser(context.Background(), NewUser{Email: "a@x.com", Password: "p"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("ожидалась APIError, получено %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Message != "User exists with same email" {
		t.Errorf("APIError = %+v", apiErr)
	}
	if err.Error() != "User exists with same email" {
		t.Errorf("Error() = %q", err.Error())
	}
}

// TestClient_CreateUser_NoLocation — ответ без Location считается ошибкой.
func TestClient_CreateUser_NoLocation(t *testing.T) {
	_, client := setupMockKeycloak(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	if _, err := client.CreateUser(context.Background(), NewUser{Email: "a@x.com", Password: "p"}); err == nil {
		t.Fatal("ожидалась ошибка без Location header")
	}
}

// TestClient_DeleteUser проверяет удаление и 404.
func TestClient_DeleteUser(t *testing.T) {
	_, client := setupMockKeycloak(t, nil, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("метод = %s, ожидается DELETE", r.Method)
		}
		switch r.URL.Path {
		case "/admin/realms/sitepanel/users/u1":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"User not found"}`))
		}
	})

	ctx := context.Background()
	if err := client.DeleteUser(ctx, "u1"); err != nil {
		t.Fatalf("DeleteUser(u1) ошибка: %v", err)
	}

	err := client.DeleteUser(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteUser(missing) = %v, ожидается ErrNotFound", err)
	}
	if err == nil || err.Error() != "User not found" {
		t.Errorf("сообщение = %v, ожидается User not found", err)
	}
}

// TestClient_CheckReady проверяет readiness по состоянию realm.
func TestClient_CheckReady(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{"realm включён", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(RealmRepresentation{Realm: "sitepanel", Enabled: true})
		}, "ok"},
		{"realm отключён", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(RealmRepresentation{Realm: "sitepanel", Enabled: false})
		}, "degraded"},
		{"ошибка API", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}, "fail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Realm info запрашивается по корню Admin API без trailing slash
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/realms/sitepanel/protocol/openid-connect/token" {
					w.Header().Set("Content-Type", "application/json")
					json.NewEncoder(w).Encode(TokenResponse{AccessToken: "t", ExpiresIn: 300})
					return
				}
				tt.handler(w, r)
			}))
			defer srv.Close()
			client := New(srv.URL, "sitepanel", "sitepanel-admin", "secret", srv.Client(), testLogger())

			status, msg := client.CheckReady()
			if status != tt.want {
				t.Errorf("CheckReady() = %q (%s), ожидается %q", status, msg, tt.want)
			}
		})
	}
}
