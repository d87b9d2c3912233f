package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestLoginRateLimiter_Burst — после всплеска запросы отклоняются.
func TestLoginRateLimiter_Burst(t *testing.T) {
	rl := NewLoginRateLimiter(60, 3, time.Minute)
	for i := 1; i <= 3; i++ {
		if ok, _ := rl.Allow("10.0.0.1"); !ok {
			t.Errorf("попытка %d должна пройти", i)
		}
	}
	ok, retryAfter := rl.Allow("10.0.0.1")
	if ok {
		t.Fatal("4-я попытка должна быть отклонена")
	}
	if retryAfter <= 0 || retryAfter > 2*time.Second {
		t.Errorf("retryAfter = %v, ожидается около 1s", retryAfter)
	}
}

// TestLoginRateLimiter_SeparateBuckets — у каждого IP свой бакет.
func TestLoginRateLimiter_SeparateBuckets(t *testing.T) {
	rl := NewLoginRateLimiter(1, 1, time.Minute)
	if ok, _ := rl.Allow("1.2.3.4"); !ok {
		t.Error("первая попытка 1.2.3.4 должна пройти")
	}
	if ok, _ := rl.Allow("1.2.3.4"); ok {
		t.Error("вторая попытка 1.2.3.4 должна быть отклонена")
	}
	if ok, _ := rl.Allow("5.6.7.8"); !ok {
		t.Error("первая попытка 5.6.7.8 должна пройти")
	}
}

// TestLoginRateLimiter_Evict — неактивные IP удаляются.
func TestLoginRateLimiter_Evict(t *testing.T) {
	rl := NewLoginRateLimiter(10, 1, time.Minute)
	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.Allow("1.1.1.1")

	now = now.Add(2 * time.Minute)
	rl.Allow("2.2.2.2")
	rl.evict()

	if rl.size() != 1 {
		t.Errorf("size = %d, ожидается 1", rl.size())
	}
}

// TestLoginRateLimiter_Middleware — 429 и Retry-After после исчерпания лимита.
func TestLoginRateLimiter_Middleware(t *testing.T) {
	rl := NewLoginRateLimiter(1, 2, time.Minute)
	handler := rl.Middleware()(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = "192.0.2.10:51000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests && rec.Header().Get("Retry-After") == "" {
			t.Error("отсутствует Retry-After")
		}
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != 429 {
		t.Errorf("статусы = %v, ожидается [200 200 429]", codes)
	}
}
