package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"
)

func TestTrustedRealIP(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xRealIP    string
		want       string
	}{
		{"недоверенный пир, XFF игнорируется", "203.0.113.5:4000", "198.51.100.1", "", "203.0.113.5:4000"},
		{"недоверенный пир, X-Real-IP игнорируется", "203.0.113.5:4000", "", "198.51.100.1", "203.0.113.5:4000"},
		{"доверенный пир, один хоп", "10.1.2.3:4000", "198.51.100.1", "", "198.51.100.1"},
		{"доверенный пир, подделка слева", "10.1.2.3:4000", "1.1.1.1, 198.51.100.1, 10.9.9.9", "", "198.51.100.1"},
		{"доверенный пир, X-Real-IP", "10.1.2.3:4000", "", "198.51.100.7", "198.51.100.7"},
		{"доверенный пир без заголовков", "10.1.2.3:4000", "", "", "10.1.2.3:4000"},
		{"доверенный пир, мусор в XFF", "10.1.2.3:4000", "not-an-ip", "", "10.1.2.3:4000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP(trusted)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("RemoteAddr = %q, ожидается %q", got, tt.want)
			}
		})
	}
}

// TestLoginRateLimiter_ForgedForwardedFor — смена XFF от недоверенного
// пира не даёт нового бакета.
func TestLoginRateLimiter_ForgedForwardedFor(t *testing.T) {
	rl := NewLoginRateLimiter(1, 2, time.Minute)
	handler := TrustedRealIP(nil)(rl.Middleware()(okHandler()))

	forged := []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"}
	codes := make([]int, 0, len(forged))
	for _, xff := range forged {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = "192.0.2.10:51000"
		req.Header.Set("X-Forwarded-For", xff)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("статусы = %v, третья попытка должна получить 429", codes)
	}
}
