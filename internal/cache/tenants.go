package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tenantgate/internal/store"
	"github.com/kiranshivaraju/tenantgate/pkg/models"
)

// CachedTenants decorates a store.Store so tenant lookups made on every
// authenticated request are served from the cache. Updates made through
// ForTenant(...).UpdateTenant invalidate the entry. Cache failures fall
// through to the store and are only logged.
type CachedTenants struct {
	store.Store
	cache Cache
	ttl   time.Duration
}

// NewCachedTenants wraps s. A tenant deactivated directly in the database
// stays visible as active for at most ttl.
func NewCachedTenants(s store.Store, c Cache, ttl time.Duration) *CachedTenants {
	return &CachedTenants{Store: s, cache: c, ttl: ttl}
}

func (c *CachedTenants) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	key := TenantKey(id)
	if raw, found, err := c.cache.Get(ctx, key); err != nil {
		slog.Warn("tenant cache read failed", "tenant_id", id, "error", err)
	} else if found {
		var t models.Tenant
		if err := json.Unmarshal(raw, &t); err == nil {
			return &t, nil
		}
		slog.Warn("tenant cache entry corrupt", "tenant_id", id)
	}

	t, err := c.Store.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	c.put(ctx, t)
	return t, nil
}

func (c *CachedTenants) ForTenant(tenantID uuid.UUID) store.TenantStore {
	return &cachedTenantStore{TenantStore: c.Store.ForTenant(tenantID), parent: c}
}

func (c *CachedTenants) put(ctx context.Context, t *models.Tenant) {
	raw, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, TenantKey(t.ID), raw, c.ttl); err != nil {
		slog.Warn("tenant cache write failed", "tenant_id", t.ID, "error", err)
	}
}

func (c *CachedTenants) invalidate(ctx context.Context, id uuid.UUID) {
	if err := c.cache.Delete(ctx, TenantKey(id)); err != nil {
		slog.Warn("tenant cache invalidation failed", "tenant_id", id, "error", err)
	}
}

type cachedTenantStore struct {
	store.TenantStore
	parent *CachedTenants
}

func (s *cachedTenantStore) Tenant(ctx context.Context) (*models.Tenant, error) {
	if s.TenantID() == uuid.Nil {
		return nil, store.ErrNoTenant
	}
	return s.parent.GetTenant(ctx, s.TenantID())
}

func (s *cachedTenantStore) UpdateTenant(ctx context.Context, upd store.TenantUpdate) (*models.Tenant, error) {
	t, err := s.TenantStore.UpdateTenant(ctx, upd)
	if err != nil {
		return nil, err
	}
	s.parent.invalidate(ctx, s.TenantID())
	return t, nil
}
