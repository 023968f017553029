// Package governance проверяет, разрешён ли тип узла для организации.
//
// Политики хранятся в таблице node_policies. Отсутствие записи означает,
// что тип разрешён. Результаты кэшируются на короткий TTL в LRU кэше
// ограниченного размера.
package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/shaiso/conveyor/internal/telemetry"
)

const (
	// DefaultTTL: время жизни записи кэша.
	DefaultTTL = 30 * time.Second

	// DefaultMaxEntries: максимум записей кэша. Старые записи вытесняются (LRU).
	DefaultMaxEntries = 10000
)

// ErrActionDisabled: тип узла отключён для организации.
var ErrActionDisabled = errors.New("Action disabled")

// PolicyStore: источник политик включения узлов.
type PolicyStore interface {
	// IsNodeEnabled возвращает false только при явной записи enabled=false.
	IsNodeEnabled(ctx context.Context, orgID uuid.UUID, nodeType string) (bool, error)
}

// Checker: проверка разрешения типа узла.
type Checker interface {
	Enabled(ctx context.Context, orgID uuid.UUID, nodeType string) (bool, error)
}

// AllowAll разрешает все типы. Используется для локального запуска.
type AllowAll struct{}

// Enabled всегда возвращает true.
func (AllowAll) Enabled(context.Context, uuid.UUID, string) (bool, error) {
	return true, nil
}

type cacheKey struct {
	orgID    uuid.UUID
	nodeType string
}

type cacheEntry struct {
	enabled   bool
	expiresAt time.Time
}

// Config: конфигурация CachedChecker.
type Config struct {
	Store  PolicyStore
	TTL    time.Duration
	Logger *slog.Logger

	// MaxEntries: предел размера кэша, по умолчанию DefaultMaxEntries.
	MaxEntries int

	// Now: источник времени, по умолчанию time.Now.
	Now func() time.Time
}

// CachedChecker кэширует ответы PolicyStore на TTL.
//
// Размер кэша ограничен MaxEntries. Фоновая горутина (Start/Stop)
// периодически удаляет устаревшие записи.
type CachedChecker struct {
	store  PolicyStore
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	entries *lru.Cache[cacheKey, cacheEntry]

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
}

// NewCachedChecker создаёт CachedChecker.
func NewCachedChecker(cfg Config) *CachedChecker {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}

	// lru.New возвращает ошибку только для size <= 0
	entries, _ := lru.New[cacheKey, cacheEntry](cfg.MaxEntries)

	return &CachedChecker{
		store:   cfg.Store,
		ttl:     cfg.TTL,
		logger:  cfg.Logger.With("component", "governance"),
		now:     cfg.Now,
		entries: entries,
	}
}

// Enabled возвращает разрешение типа узла, используя кэш.
// Ошибка хранилища не кэшируется.
func (c *CachedChecker) Enabled(ctx context.Context, orgID uuid.UUID, nodeType string) (bool, error) {
	key := cacheKey{orgID: orgID, nodeType: nodeType}
	now := c.now()

	e, ok := c.entries.Get(key)
	if ok && now.Before(e.expiresAt) {
		telemetry.GovernanceCacheLookups.WithLabelValues("hit").Inc()
		return e.enabled, nil
	}
	telemetry.GovernanceCacheLookups.WithLabelValues("miss").Inc()

	enabled, err := c.store.IsNodeEnabled(ctx, orgID, nodeType)
	if err != nil {
		return false, fmt.Errorf("lookup node policy %s: %w", nodeType, err)
	}

	c.entries.Add(key, cacheEntry{enabled: enabled, expiresAt: now.Add(c.ttl)})

	return enabled, nil
}

// Invalidate удаляет запись кэша после изменения политики.
func (c *CachedChecker) Invalidate(orgID uuid.UUID, nodeType string) {
	c.entries.Remove(cacheKey{orgID: orgID, nodeType: nodeType})
}

// Len возвращает число записей в кэше.
func (c *CachedChecker) Len() int {
	return c.entries.Len()
}

// Sweep удаляет устаревшие записи и возвращает их количество.
func (c *CachedChecker) Sweep() int {
	now := c.now()

	removed := 0
	for _, key := range c.entries.Keys() {
		e, ok := c.entries.Peek(key)
		if ok && !now.Before(e.expiresAt) {
			c.entries.Remove(key)
			removed++
		}
	}
	return removed
}

// Start запускает периодическую очистку кэша с интервалом TTL.
func (c *CachedChecker) Start(ctx context.Context) {
	ctx, c.cancelFunc = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.ttl)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					c.logger.Debug("policy cache swept", "removed", n)
				}
			}
		}
	}()
}

// Stop останавливает очистку. Повторный вызов безопасен.
func (c *CachedChecker) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.wg.Wait()
}
