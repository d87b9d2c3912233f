// rolecache.go — LRU-кэш ролей пользователей с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэша ролей.
var (
	roleCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitepanel_role_cache_hits_total",
		Help: "Общее количество попаданий в кэш ролей.",
	})
	roleCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitepanel_role_cache_misses_total",
		Help: "Общее количество промахов кэша ролей.",
	})
	roleCacheStaleWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitepanel_role_cache_stale_writes_total",
		Help: "Роли, прочитанные до инвалидации и не сохранённые в кэш.",
	})
)

// RoleCache — кэш имени роли по ID пользователя.
// Пустое имя означает, что профиля нет; такой результат тоже кэшируется.
//
// Каждая инвалидация увеличивает поколение кэша. Чтение из БД, начатое
// до инвалидации, сохраняется через SetIfCurrent и отбрасывается, если
// поколение сменилось, поэтому старая роль не возвращается в кэш.
type RoleCache struct {
	cache *expirable.LRU[string, string]

	mu         sync.Mutex
	generation uint64
}

// NewRoleCache создаёт кэш с указанным максимальным размером и TTL.
func NewRoleCache(maxSize int, ttl time.Duration) *RoleCache {
	return &RoleCache{cache: expirable.NewLRU[string, string](maxSize, nil, ttl)}
}

// Get возвращает роль пользователя из кэша.
func (c *RoleCache) Get(userID string) (string, bool) {
	role, ok := c.cache.Get(userID)
	if ok {
		roleCacheHitsTotal.Inc()
		return role, true
	}
	roleCacheMissesTotal.Inc()
	return "", false
}

// Set сохраняет роль пользователя.
func (c *RoleCache) Set(userID, role string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(userID, role)
}

// Generation возвращает текущее поколение кэша.
// Берётся до чтения роли из БД и передаётся в SetIfCurrent.
func (c *RoleCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// SetIfCurrent сохраняет роль, только если с момента gen не было
// инвалидаций. Возвращает false, если значение отброшено.
func (c *RoleCache) SetIfCurrent(userID, role string, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		roleCacheStaleWritesTotal.Inc()
		return false
	}
	c.cache.Add(userID, role)
	return true
}

// Invalidate удаляет запись после изменения роли или профиля.
func (c *RoleCache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.cache.Remove(userID)
}

// Len возвращает текущее количество записей.
func (c *RoleCache) Len() int {
	return c.cache.Len()
}
