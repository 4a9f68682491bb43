package cache

import (
	"context"

	"github.com/jordanhubbard/portway/internal/database"
)

// Lookups wraps the Registry's hottest read path — project resolution
// on every git push and fetch — with a read-through Redis cache. Domain
// lookups are not cached. A nil Cache makes every
// method a direct passthrough, so callers can run uncached in tests or
// when redis.enabled is false.
type Lookups struct {
	registry *database.Database
	cache    *Cache
}

// NewLookups builds a Lookups over registry. cache may be nil.
func NewLookups(registry *database.Database, cache *Cache) *Lookups {
	return &Lookups{registry: registry, cache: cache}
}

// FindProject resolves a project by owner/name, serving from cache
// when present and falling back to the Registry on a miss.
func (l *Lookups) FindProject(ctx context.Context, ownerName, projectName string) (*database.Project, error) {
	key := ProjectKey(ownerName, projectName)
	if l.cache != nil {
		var p database.Project
		if ok, err := l.cache.Get(ctx, key, &p); err == nil && ok {
			return &p, nil
		}
	}

	p, err := l.registry.FindProject(ownerName, projectName)
	if err != nil {
		return nil, err
	}
	if l.cache != nil {
		_ = l.cache.Set(ctx, key, p)
	}
	return p, nil
}

// InvalidateProject drops a cached project. The ControlAPI's env,
// preferences and delete handlers write to the Registry without calling
// it, so a cached project otherwise stays until its TTL expires.
func (l *Lookups) InvalidateProject(ctx context.Context, ownerName, projectName string) {
	if l.cache != nil {
		_ = l.cache.Invalidate(ctx, ProjectKey(ownerName, projectName))
	}
}
