package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"toko/internal/metrics"
)

const (
	catalogPrefix  = "catalog:"
	scanBatchCount = 200
)

// CatalogKey builds a key of the public catalog cache for a tenant slug.
func CatalogKey(slug string, parts ...string) string {
	return catalogPrefix + slug + ":" + strings.Join(parts, ":")
}

// CatalogInvalidator removes cached catalog reads of one tenant.
type CatalogInvalidator struct {
	redis   *Redis
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewCatalogInvalidator wires the invalidator to a Redis wrapper.
func NewCatalogInvalidator(r *Redis, m *metrics.Metrics, logger *slog.Logger) *CatalogInvalidator {
	return &CatalogInvalidator{
		redis:   r,
		metrics: m,
		logger:  logger.With("component", "catalog_cache"),
	}
}

// InvalidateTenant deletes every key under catalog:<slug>: and returns how many were removed.
func (c *CatalogInvalidator) InvalidateTenant(ctx context.Context, slug string) (int, error) {
	if strings.TrimSpace(slug) == "" {
		return 0, fmt.Errorf("invalidate catalog: empty slug")
	}
	deleted, err := c.redis.DeleteMatching(ctx, catalogPrefix+escapeGlob(slug)+":*", scanBatchCount)
	if err != nil {
		return deleted, fmt.Errorf("invalidate catalog %s: %w", slug, err)
	}

	c.metrics.CacheKeysDeleted.Add(float64(deleted))
	c.logger.Debug("catalog cache invalidated", "slug", slug, "keys", deleted)
	return deleted, nil
}

// escapeGlob quotes the characters SCAN MATCH treats as wildcards.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
