package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type staticChecker struct {
	status string
	msg    string
}

func (c staticChecker) CheckReady() (string, string) { return c.status, c.msg }

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name       string
		pg         ReadinessChecker
		kc         ReadinessChecker
		wantStatus int
		wantBody   string
	}{
		{"всё доступно", staticChecker{status: "ok"}, staticChecker{status: "ok"}, http.StatusOK, "ok"},
		{"деградация", staticChecker{status: "ok"}, staticChecker{status: "degraded", msg: "медленно"}, http.StatusOK, "degraded"},
		{"PostgreSQL недоступен", staticChecker{status: "fail"}, staticChecker{status: "ok"}, http.StatusServiceUnavailable, "fail"},
		{"Keycloak не инициализирован", staticChecker{status: "ok"}, nil, http.StatusServiceUnavailable, "fail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.pg, tt.kc)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, ожидается %d", rec.Code, tt.wantStatus)
			}
			var resp healthReadyResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != tt.wantBody {
				t.Errorf("status в теле = %q, ожидается %q", resp.Status, tt.wantBody)
			}
			if resp.Service != "sitepanel" {
				t.Errorf("service = %q, ожидается sitepanel", resp.Service)
			}
		})
	}
}

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler(nil, nil)
	rec := httptest.NewRecorder()
	h.HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, ожидается 200", rec.Code)
	}
}
