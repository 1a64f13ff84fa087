// Package repotest provides a migrated SQLite repository and seed helpers for tests.
package repotest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"toko/internal/logging"
	"toko/internal/repo"
	"toko/migrations"
)

// NewSQLite opens a fresh migrated database under t.TempDir.
func NewSQLite(t testing.TB) *repo.SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	r, err := repo.NewSQLite(ctx, filepath.Join(t.TempDir(), "test.db"), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(r.Close)
	require.NoError(t, r.RunMigrations(ctx, migrations.SQLite()))
	return r
}

// Business seeds a tenant with a store location.
func Business(t testing.TB, r *repo.SQLiteRepository, slug string) repo.Business {
	t.Helper()
	addr := "Jl. Merdeka 1"
	lat, lng := -6.2, 106.8
	b := repo.Business{ID: uuid.NewString(), Slug: slug, Name: slug, StoreAddress: &addr, StoreLatitude: &lat, StoreLongitude: &lng}
	_, err := r.DB().Exec(`INSERT INTO businesses (id, slug, name, store_address, store_latitude, store_longitude) VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.Slug, b.Name, addr, lat, lng)
	require.NoError(t, err)
	return b
}

// Customer seeds a customer. An empty phone stores NULL.
func Customer(t testing.TB, r *repo.SQLiteRepository, businessID, name, phone string) repo.Customer {
	t.Helper()
	c := repo.Customer{ID: uuid.NewString(), BusinessID: businessID, Name: name}
	var phoneArg any
	if phone != "" {
		c.Phone = &phone
		phoneArg = phone
	}
	_, err := r.DB().Exec(`INSERT INTO customers (id, business_id, name, phone) VALUES (?, ?, ?, ?)`,
		c.ID, businessID, name, phoneArg)
	require.NoError(t, err)
	return c
}

// Product seeds a catalog product.
func Product(t testing.TB, r *repo.SQLiteRepository, businessID, name string, priceCents int64) repo.Product {
	t.Helper()
	p := repo.Product{ID: uuid.NewString(), BusinessID: businessID, Name: name, PriceCents: priceCents}
	_, err := r.DB().Exec(`INSERT INTO products (id, business_id, name, price_cents) VALUES (?, ?, ?, ?)`,
		p.ID, businessID, name, priceCents)
	require.NoError(t, err)
	return p
}

// DeleteProduct soft-deletes a product.
func DeleteProduct(t testing.TB, r *repo.SQLiteRepository, id string) {
	t.Helper()
	_, err := r.DB().Exec(`UPDATE products SET deleted_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	require.NoError(t, err)
}

// DeliveryPerson seeds an available courier.
func DeliveryPerson(t testing.TB, r *repo.SQLiteRepository, businessID, name string) repo.DeliveryPerson {
	t.Helper()
	dp := repo.DeliveryPerson{ID: uuid.NewString(), BusinessID: businessID, Name: name, IsAvailable: true}
	_, err := r.DB().Exec(`INSERT INTO delivery_persons (id, business_id, name) VALUES (?, ?, ?)`, dp.ID, businessID, name)
	require.NoError(t, err)
	return dp
}
