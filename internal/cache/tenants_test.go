package cache_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tenantgate/internal/cache"
	"github.com/kiranshivaraju/tenantgate/internal/store"
	"github.com/kiranshivaraju/tenantgate/internal/store/memory"
	"github.com/kiranshivaraju/tenantgate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapCache is an in-memory Cache for unit tests.
type mapCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	gets   int
	getErr error
}

func newMapCache() *mapCache { return &mapCache{data: map[string][]byte{}} }

func (m *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mapCache) Ping(context.Context) error { return nil }

func seedTenant(s *memory.Store) *models.Tenant {
	t := &models.Tenant{ID: uuid.New(), Name: "Acme", Slug: "acme", Active: true}
	s.PutTenant(t)
	return t
}

func TestCachedTenants_ServesFromCache(t *testing.T) {
	mem := memory.New()
	tenant := seedTenant(mem)
	mc := newMapCache()
	ct := cache.NewCachedTenants(mem, mc, time.Minute)
	ctx := context.Background()

	got, err := ct.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)
	assert.Contains(t, mc.data, cache.TenantKey(tenant.ID))

	// Deactivate behind the cache's back: the cached copy is still served.
	mem.PutTenant(&models.Tenant{ID: tenant.ID, Name: "Acme", Slug: "acme", Active: false})
	got, err = ct.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
}

func TestCachedTenants_UpdateInvalidates(t *testing.T) {
	mem := memory.New()
	tenant := seedTenant(mem)
	mc := newMapCache()
	ct := cache.NewCachedTenants(mem, mc, time.Minute)
	ctx := context.Background()

	_, err := ct.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)

	name := "Acme Two"
	_, err = ct.ForTenant(tenant.ID).UpdateTenant(ctx, store.TenantUpdate{Name: &name})
	require.NoError(t, err)
	assert.NotContains(t, mc.data, cache.TenantKey(tenant.ID))

	got, err := ct.ForTenant(tenant.ID).Tenant(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Acme Two", got.Name)
}

func TestCachedTenants_CacheErrorFallsThrough(t *testing.T) {
	mem := memory.New()
	tenant := seedTenant(mem)
	mc := newMapCache()
	mc.getErr = errors.New("connection refused")
	ct := cache.NewCachedTenants(mem, mc, time.Minute)

	got, err := ct.GetTenant(context.Background(), tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, got.ID)
}

func TestCachedTenants_NotFoundNotCached(t *testing.T) {
	mem := memory.New()
	mc := newMapCache()
	ct := cache.NewCachedTenants(mem, mc, time.Minute)

	_, err := ct.GetTenant(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, mc.data)
}

func TestCachedTenants_NilTenant(t *testing.T) {
	ct := cache.NewCachedTenants(memory.New(), newMapCache(), time.Minute)

	_, err := ct.ForTenant(uuid.Nil).Tenant(context.Background())
	assert.ErrorIs(t, err, store.ErrNoTenant)
}
