package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toko/internal/logging"
	"toko/internal/metrics"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r := Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}), logging.Discard())
	t.Cleanup(func() { _ = r.Close() })
	return r, mr
}

func TestInvalidateTenantOnlyTouchesTenantKeys(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)

	require.NoError(t, mr.Set(CatalogKey("acme", "products"), `["kopi"]`))
	require.NoError(t, mr.Set(CatalogKey("acme", "categories", "drinks"), `["teh"]`))
	require.NoError(t, mr.Set(CatalogKey("acme-2", "products"), `["roti"]`))
	require.NoError(t, mr.Set("session:acme", "x"))

	inv := NewCatalogInvalidator(r, metrics.NewNop(), logging.Discard())
	n, err := inv.InvalidateTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.False(t, mr.Exists(CatalogKey("acme", "products")))
	assert.False(t, mr.Exists(CatalogKey("acme", "categories", "drinks")))
	got, err := mr.Get(CatalogKey("acme-2", "products"))
	require.NoError(t, err)
	assert.Equal(t, `["roti"]`, got)
	assert.True(t, mr.Exists("session:acme"))
}

func TestInvalidateTenantScansInBatches(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)
	for i := 0; i < 450; i++ {
		require.NoError(t, mr.Set(CatalogKey("acme", "product", string(rune('a'+i%26)), time.Duration(i).String()), "1"))
	}

	inv := NewCatalogInvalidator(r, metrics.NewNop(), logging.Discard())
	n, err := inv.InvalidateTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 450, n)
	assert.Empty(t, mr.Keys())
}

func TestInvalidateTenantRejectsEmptySlug(t *testing.T) {
	r, _ := newTestRedis(t)
	inv := NewCatalogInvalidator(r, metrics.NewNop(), logging.Discard())

	_, err := inv.InvalidateTenant(context.Background(), " ")
	assert.Error(t, err)
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `a\*b\?c`, escapeGlob("a*b?c"))
}
