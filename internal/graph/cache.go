package graph

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"parc/internal/domain"
)

type cacheKey struct {
	revision uint64
	cursor   Cursor
}

type cacheEntry struct {
	snapshot Snapshot
	warnings []domain.Warning
}

// Cache memoizes snapshots by aggregate revision and cursor. A revision must
// identify exactly one aggregate; callers bump it on every replacement.
type Cache struct {
	lru *lru.Cache[cacheKey, cacheEntry]
}

func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = 64
	}
	c, err := lru.New[cacheKey, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: c}, nil
}

// Snapshot returns the memoized snapshot for (revision, cursor), reconciling on a miss.
// The boolean reports a cache hit.
func (c *Cache) Snapshot(revision uint64, r *domain.SimulationResult, cursor Cursor) (Snapshot, []domain.Warning, bool) {
	if r != nil && cursor != All && int(cursor) >= len(r.SimulationTimeline) {
		cursor = All
	}
	key := cacheKey{revision: revision, cursor: cursor}
	if e, ok := c.lru.Get(key); ok {
		return e.snapshot, e.warnings, true
	}
	snap, warnings := Reconcile(r, cursor)
	c.lru.Add(key, cacheEntry{snapshot: snap, warnings: warnings})
	return snap, warnings, false
}

// Purge drops every memoized snapshot.
func (c *Cache) Purge() {
	c.lru.Purge()
}

func (c *Cache) Len() int {
	return c.lru.Len()
}
