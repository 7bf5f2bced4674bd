// Package catalog maintains a read-through cache over the remote product
// list. Reads never fail outright: a remote error degrades to the most
// recently cached snapshot, or to an empty result when none exists.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/packlane/storefront-sync/internal/api"
	"github.com/packlane/storefront-sync/internal/store"
	"github.com/packlane/storefront-sync/pkg/logger"
	"github.com/packlane/storefront-sync/pkg/metrics"
)

type remoteCatalog interface {
	ListProducts(ctx context.Context) ([]api.CatalogEntry, error)
	SearchProducts(ctx context.Context, query string) ([]api.CatalogEntry, error)
}

// Cache is the single owner of the cached catalog snapshot. The snapshot
// is replaced wholesale on a successful fetch, never merged.
type Cache struct {
	remote  remoteCatalog
	durable store.Store
	log     *logger.Logger
	metrics *metrics.SyncMetrics
}

// NewCache wires the catalog cache.
func NewCache(remote remoteCatalog, durable store.Store, log *logger.Logger, syncMetrics *metrics.SyncMetrics) (*Cache, error) {
	if remote == nil {
		return nil, fmt.Errorf("remote catalog client required")
	}
	if durable == nil {
		return nil, fmt.Errorf("durable store required")
	}
	return &Cache{
		remote:  remote,
		durable: durable,
		log:     log,
		metrics: syncMetrics,
	}, nil
}

// FetchAll returns the product list, preferring the remote catalog. On a
// successful fetch the cached snapshot is replaced; on failure the cached
// snapshot is returned, or an empty slice when nothing was ever cached.
func (c *Cache) FetchAll(ctx context.Context) []api.CatalogEntry {
	entries, err := c.remote.ListProducts(ctx)
	if err != nil {
		c.warn(ctx, "catalog fetch failed, serving cached snapshot", err)
		c.countFallback("fetch_all")
		return c.cachedSnapshot(ctx)
	}
	if entries == nil {
		entries = []api.CatalogEntry{}
	}
	c.persistSnapshot(ctx, entries)
	return entries
}

// Search prefers the remote search endpoint and falls back to filtering
// the cached snapshot. Both paths match case-insensitive substrings over
// name and description, so callers cannot tell them apart by result shape.
func (c *Cache) Search(ctx context.Context, query string) []api.CatalogEntry {
	entries, err := c.remote.SearchProducts(ctx, query)
	if err != nil {
		c.warn(ctx, "catalog search failed, filtering cached snapshot", err)
		c.countFallback("search")
		return filterEntries(c.cachedSnapshot(ctx), query)
	}
	if entries == nil {
		entries = []api.CatalogEntry{}
	}
	return entries
}

// Clear drops the cached snapshot from the durable store.
func (c *Cache) Clear(ctx context.Context) error {
	return c.durable.Delete(ctx, store.CatalogSnapshotKey())
}

func (c *Cache) cachedSnapshot(ctx context.Context) []api.CatalogEntry {
	raw, err := c.durable.Get(ctx, store.CatalogSnapshotKey())
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.warn(ctx, "reading cached catalog snapshot failed", err)
		}
		return []api.CatalogEntry{}
	}
	var entries []api.CatalogEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		c.warn(ctx, "cached catalog snapshot is corrupt, discarding", err)
		return []api.CatalogEntry{}
	}
	return entries
}

func (c *Cache) persistSnapshot(ctx context.Context, entries []api.CatalogEntry) {
	encoded, err := json.Marshal(entries)
	if err != nil {
		c.warn(ctx, "encoding catalog snapshot failed", err)
		return
	}
	if err := c.durable.Set(ctx, store.CatalogSnapshotKey(), encoded); err != nil {
		c.warn(ctx, "persisting catalog snapshot failed", err)
	}
}

func (c *Cache) warn(ctx context.Context, msg string, err error) {
	if c.log == nil {
		return
	}
	c.log.Warn(c.log.WithField(ctx, "error", err.Error()), msg)
}

func (c *Cache) countFallback(operation string) {
	c.metrics.IncCacheFallback(operation)
}

// filterEntries applies the same matching semantics as the remote search
// endpoint: case-insensitive substring over name and description.
func filterEntries(entries []api.CatalogEntry, query string) []api.CatalogEntry {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return entries
	}
	matched := make([]api.CatalogEntry, 0, len(entries))
	for _, entry := range entries {
		if matchEntry(entry, needle) {
			matched = append(matched, entry)
		}
	}
	return matched
}

func matchEntry(entry api.CatalogEntry, lowerNeedle string) bool {
	return strings.Contains(strings.ToLower(entry.Name), lowerNeedle) ||
		strings.Contains(strings.ToLower(entry.Description), lowerNeedle)
}
