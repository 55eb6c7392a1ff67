package repo

import (
	"context"

	"planhub/internal/cache"
)

type EntityKind string

const (
	KindPlanner  EntityKind = "planner"
	KindSection  EntityKind = "section"
	KindActivity EntityKind = "activity"
)

// Scope names the ancestors whose aggregate caches depend on a mutated
// entity.
type Scope struct {
	PlannerID string
	SectionID string
}

// cascadeTable is the declarative closure of cache keys that become
// stale when an entity of a given kind mutates. Adding a new cached
// view means adding one template here, not editing every mutation path.
var cascadeTable = map[EntityKind][]func(id string, scope Scope) string{
	KindActivity: {
		func(id string, _ Scope) string { return activityKey(id) },
		func(_ string, s Scope) string { return sectionActivitiesKey(s.SectionID) },
		func(_ string, s Scope) string { return sectionStatsKey(s.SectionID) },
		func(_ string, s Scope) string { return plannerStatsKey(s.PlannerID) },
	},
	KindSection: {
		func(id string, _ Scope) string { return sectionKey(id) },
		func(_ string, s Scope) string { return plannerSectionsKey(s.PlannerID) },
		func(_ string, s Scope) string { return plannerStatsKey(s.PlannerID) },
	},
	KindPlanner: {
		func(id string, _ Scope) string { return plannerKey(id) },
		func(id string, _ Scope) string { return plannerSectionsKey(id) },
		func(id string, _ Scope) string { return plannerStatsKey(id) },
	},
}

// Cascade drives cache invalidation across repositories. Invalidation
// is idempotent (absent keys are a no-op) and best-effort (failures are
// logged; the store mutation has already committed).
type Cascade struct {
	cache *cache.Cache
}

func NewCascade(c *cache.Cache) *Cascade {
	return &Cascade{cache: c}
}

// Closure returns the stale key set for one mutated entity.
func (c *Cascade) Closure(kind EntityKind, id string, scope Scope) []string {
	templates := cascadeTable[kind]
	keys := make([]string, 0, len(templates))
	for _, template := range templates {
		if key := template(id, scope); !hasEmptyScope(key) {
			keys = append(keys, key)
		}
	}
	return keys
}

// hasEmptyScope filters templates whose scope component was absent,
// e.g. planner-stats for an entity whose planner id is unknown.
func hasEmptyScope(key string) bool {
	return len(key) == 0 || key[len(key)-1] == ':'
}

// Invalidate clears the closure for one mutated entity.
func (c *Cascade) Invalidate(ctx context.Context, kind EntityKind, id string, scope Scope) {
	cacheDelete(ctx, c.cache, c.Closure(kind, id, scope)...)
}

// InvalidateScopes clears the union of closures for a batch of mutated
// entities, computed once per unique parent scope rather than once per
// child.
func (c *Cascade) InvalidateScopes(ctx context.Context, kind EntityKind, scopes []Scope) {
	seen := make(map[Scope]struct{}, len(scopes))
	var keys []string
	for _, scope := range scopes {
		if _, ok := seen[scope]; ok {
			continue
		}
		seen[scope] = struct{}{}
		for _, key := range c.Closure(kind, "", scope) {
			keys = append(keys, key)
		}
	}
	cacheDelete(ctx, c.cache, dedupe(keys)...)
}

// InvalidateKeys clears an explicit key list (used by cascade deletes
// that must also drop per-child entity keys).
func (c *Cascade) InvalidateKeys(ctx context.Context, keys ...string) {
	cacheDelete(ctx, c.cache, dedupe(keys)...)
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0]
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
