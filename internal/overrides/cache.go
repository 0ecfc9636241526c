package overrides

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

const cacheKeyPrefix = "authz:override:v1"

// CacheObserver records cache hits and misses.
type CacheObserver interface {
	ObserveOverrideCache(result string)
}

// Cache keeps recent override lookups in Redis for a bounded time. Entries may
// be stale for up to ttl after an out-of-band write.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A nil client or non-positive ttl
// disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

type cachedLookup struct {
	Found    bool               `json:"found"`
	Override PermissionOverride `json:"override"`
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil && c.ttl > 0
}

// Key composes the cache key for a tenant permission. The tenant part is
// length-prefixed so that no tenant/permission pair can collide with another.
func (c *Cache) Key(tenantID, permission string) string {
	return fmt.Sprintf("%s:%d:%s:%s", cacheKeyPrefix, len(tenantID), tenantID, permission)
}

func (c *Cache) get(ctx context.Context, tenantID, permission string) (cachedLookup, bool, error) {
	if !c.enabled() {
		return cachedLookup{}, false, nil
	}
	raw, err := c.client.Get(ctx, c.Key(tenantID, permission)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return cachedLookup{}, false, nil
		}
		return cachedLookup{}, false, err
	}
	var entry cachedLookup
	if err := json.Unmarshal(raw, &entry); err != nil {
		return cachedLookup{}, false, err
	}
	return entry, true, nil
}

func (c *Cache) set(ctx context.Context, tenantID, permission string, entry cachedLookup) error {
	if !c.enabled() {
		return nil
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.Key(tenantID, permission), raw, c.ttl).Err()
}

// Invalidate drops the cached lookup for a tenant permission.
func (c *Cache) Invalidate(ctx context.Context, tenantID, permission string) error {
	if !c.enabled() {
		return nil
	}
	if err := c.client.Del(ctx, c.Key(tenantID, permission)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

// Store answers the resolver's active-override lookups through the cache,
// collapsing concurrent misses for the same key into one repository read.
type Store struct {
	repo     Repository
	cache    *Cache
	logger   *slog.Logger
	observer CacheObserver
	group    singleflight.Group
}

// NewStore wires the read path used by the resolver.
func NewStore(repo Repository, cache *Cache, logger *slog.Logger, observer CacheObserver) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{repo: repo, cache: cache, logger: logger, observer: observer}
}

// ActiveOverride implements rbac.OverrideSource.
func (s *Store) ActiveOverride(ctx context.Context, tenantID, permission string) (rbac.Override, bool, error) {
	entry, hit, err := s.cache.get(ctx, tenantID, permission)
	if err != nil {
		s.logger.Warn("override cache read", slog.String("tenant_id", tenantID), slog.Any("error", err))
	}
	if hit && !entry.belongsTo(tenantID, permission) {
		s.logger.Warn("override cache entry for another key",
			slog.String("tenant_id", tenantID),
			slog.String("permission", permission))
		hit = false
	}
	if hit {
		s.observe("hit")
		return activeRule(entry)
	}
	s.observe("miss")

	// Shared by every waiter on the key, so one caller's cancellation must
	// not fail the others.
	lookupCtx := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(s.cache.Key(tenantID, permission), func() (any, error) {
		var fresh cachedLookup
		o, err := s.repo.Get(lookupCtx, tenantID, permission)
		switch {
		case errors.Is(err, shared.ErrNotFound):
		case err != nil:
			return nil, err
		default:
			fresh = cachedLookup{Found: true, Override: o}
		}
		if err := s.cache.set(lookupCtx, tenantID, permission, fresh); err != nil {
			s.logger.Warn("override cache write", slog.String("tenant_id", tenantID), slog.Any("error", err))
		}
		return fresh, nil
	})
	if err != nil {
		if !errors.Is(err, shared.ErrStorage) {
			err = shared.StorageError("overrides: lookup", err)
		}
		return rbac.Override{}, false, err
	}
	fresh := v.(cachedLookup)
	if !fresh.belongsTo(tenantID, permission) {
		return rbac.Override{}, false, shared.StorageError("overrides: lookup",
			fmt.Errorf("override for %q/%q answered %q/%q", tenantID, permission, fresh.Override.TenantID, fresh.Override.PermissionName))
	}
	return activeRule(fresh)
}

func (s *Store) observe(result string) {
	if s.observer != nil {
		s.observer.ObserveOverrideCache(result)
	}
}

// belongsTo reports whether a found entry describes the requested tenant
// permission. Absence entries carry no identity and always match.
func (e cachedLookup) belongsTo(tenantID, permission string) bool {
	if !e.Found {
		return true
	}
	return e.Override.TenantID == tenantID && e.Override.PermissionName == permission
}

func activeRule(entry cachedLookup) (rbac.Override, bool, error) {
	if !entry.Found || !entry.Override.Active {
		return rbac.Override{}, false, nil
	}
	return entry.Override.Rule(), true, nil
}
