// Package repo implements the hierarchy repositories: read-through
// caching over the document store, the cache-invalidation cascade, and
// the bulk/reorder coordinator. Each entity has exactly one owning
// repository, which is the sole writer of the cache keys derived from
// that entity's id.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"planhub/internal/cache"
	"planhub/internal/store"
)

// ErrParentMismatch is returned when a bulk or reorder operation names
// an entity that does not belong to the stated parent scope.
var ErrParentMismatch = errors.New("entity does not belong to the stated parent")

// Store is the slice of the document-store adapter the repositories
// consume.
type Store interface {
	Get(ctx context.Context, collection, id string) (json.RawMessage, error)
	Query(ctx context.Context, collection string, filters []store.Filter, order *store.OrderBy, limit, offset int) ([]json.RawMessage, error)
	Count(ctx context.Context, collection string, filters []store.Filter) (int, error)
	Set(ctx context.Context, collection, id string, doc any) error
	Update(ctx context.Context, collection, id string, partial map[string]any) error
	UpdateVersioned(ctx context.Context, collection, id string, partial map[string]any, expectedVersion int64) error
	Delete(ctx context.Context, collection, id string) error
	AtomicBatch(ctx context.Context, ops []store.BatchOp) error
}

// TTLs carries the scope-appropriate cache lifetimes.
type TTLs struct {
	Entity time.Duration
	List   time.Duration
	Stats  time.Duration
}

func DefaultTTLs() TTLs {
	return TTLs{Entity: 5 * time.Minute, List: 5 * time.Minute, Stats: time.Minute}
}

// The cache is a read accelerator, not a source of truth: set and
// delete failures are logged and swallowed so they can never convert a
// successful store mutation into a reported failure.

func cacheSet(ctx context.Context, c *cache.Cache, key string, value any, ttl time.Duration) {
	if c == nil {
		return
	}
	if err := c.Set(ctx, key, value, ttl); err != nil {
		log.Printf("cache set %s failed: %v", key, err)
	}
}

func cacheDelete(ctx context.Context, c *cache.Cache, keys ...string) {
	if c == nil || len(keys) == 0 {
		return
	}
	if err := c.Delete(ctx, keys...); err != nil {
		log.Printf("cache delete failed: %v", err)
	}
}

func cacheGet(ctx context.Context, c *cache.Cache, key string, dest any) bool {
	if c == nil {
		return false
	}
	err := c.Get(ctx, key, dest)
	if err == nil {
		return true
	}
	if !errors.Is(err, cache.ErrMiss) {
		log.Printf("cache get %s failed: %v", key, err)
	}
	return false
}
