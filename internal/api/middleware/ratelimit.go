// ratelimit.go — ограничение частоты попыток входа по IP.
// Токен-бакеты golang.org/x/time/rate, неактивные записи вычищаются в фоне.
package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apierrors "github.com/bigkaa/sitepanel/internal/api/errors"
)

// LoginRateLimiter — лимитер попыток входа с отдельным бакетом на IP.
type LoginRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
	limit    rate.Limit
	burst    int
	evictTTL time.Duration
	now      func() time.Time
}

// NewLoginRateLimiter создаёт лимитер: perMinute попыток в минуту, всплеск burst.
func NewLoginRateLimiter(perMinute, burst int, evictTTL time.Duration) *LoginRateLimiter {
	return &LoginRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		evictTTL: evictTTL,
		now:      time.Now,
	}
}

// Allow проверяет лимит для IP. При отказе возвращает время до следующей попытки.
func (l *LoginRateLimiter) Allow(ip string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = lim
	}
	now := l.now()
	l.lastSeen[ip] = now

	res := lim.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Minute
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Run вычищает неактивные IP до отмены ctx.
func (l *LoginRateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.evictTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evict()
		}
	}
}

func (l *LoginRateLimiter) evict() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.evictTTL)
	for ip, last := range l.lastSeen {
		if last.Before(cutoff) {
			delete(l.limiters, ip)
			delete(l.lastSeen, ip)
		}
	}
}

// size — количество отслеживаемых IP.
func (l *LoginRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Middleware отвечает 429 с Retry-After при превышении лимита.
// IP берётся из RemoteAddr. Заголовки прокси учитываются только через
// TrustedRealIP, иначе клиент мог бы подменять X-Forwarded-For.
func (l *LoginRateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			if host, _, err := net.SplitHostPort(ip); err == nil {
				ip = host
			}
			if ok, retryAfter := l.Allow(ip); !ok {
				apierrors.TooManyRequests(w, retryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
