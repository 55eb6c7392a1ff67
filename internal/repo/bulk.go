package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"planhub/internal/model"
	"planhub/internal/store"
)

type ReorderItem struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
}

// Coordinator applies reorder and bulk mutations as one atomic store
// write, then drives the invalidation cascade once per distinct parent
// scope. Reorders and bulk mutations against the same parent are
// serialized by keyed mutexes so two interleaved calls cannot produce
// duplicate or gapped order values at the application level.
type Coordinator struct {
	docs    Store
	cascade *Cascade

	mu         sync.Mutex
	scopeLocks map[string]*sync.Mutex
}

func NewCoordinator(docs Store, cascade *Cascade) *Coordinator {
	return &Coordinator{
		docs:       docs,
		cascade:    cascade,
		scopeLocks: make(map[string]*sync.Mutex),
	}
}

func (c *Coordinator) scopeLock(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.scopeLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		c.scopeLocks[key] = lock
	}
	return lock
}

// lockSectionScopes acquires the scope locks for every distinct section
// the listed activities belong to, in sorted key order so two bulk
// calls with overlapping sections cannot deadlock. The returned func
// releases them in reverse order.
func (c *Coordinator) lockSectionScopes(ctx context.Context, ids []string) (func(), error) {
	seen := make(map[string]struct{})
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		activity, err := c.fetchActivity(ctx, id)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[activity.SectionID]; !ok {
			seen[activity.SectionID] = struct{}{}
			keys = append(keys, "section:"+activity.SectionID)
		}
	}
	sort.Strings(keys)

	locks := make([]*sync.Mutex, 0, len(keys))
	for _, key := range keys {
		lock := c.scopeLock(key)
		lock.Lock()
		locks = append(locks, lock)
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}, nil
}

// fetchActivity reads straight from the store, bypassing the cache:
// parent-scope validation must never trust a possibly stale entry.
func (c *Coordinator) fetchActivity(ctx context.Context, id string) (*model.Activity, error) {
	raw, err := c.docs.Get(ctx, store.Activities, id)
	if err != nil {
		return nil, fmt.Errorf("activity %s: %w", id, err)
	}
	return decodeActivity(raw)
}

func (c *Coordinator) fetchSection(ctx context.Context, id string) (*model.Section, error) {
	raw, err := c.docs.Get(ctx, store.Sections, id)
	if err != nil {
		return nil, fmt.Errorf("section %s: %w", id, err)
	}
	return decodeSection(raw)
}

// ReorderActivities validates that every item belongs to sectionID,
// applies all order values in one atomic batch, then invalidates the
// section's closure exactly once. Applying the same item list twice is
// idempotent.
func (c *Coordinator) ReorderActivities(ctx context.Context, sectionID string, items []ReorderItem) error {
	lock := c.scopeLock("section:" + sectionID)
	lock.Lock()
	defer lock.Unlock()

	var scope Scope
	ops := make([]store.BatchOp, 0, len(items))
	now := time.Now().UTC()
	for _, item := range items {
		activity, err := c.fetchActivity(ctx, item.ID)
		if err != nil {
			return err
		}
		if activity.SectionID != sectionID {
			return fmt.Errorf("activity %s: %w", item.ID, ErrParentMismatch)
		}
		scope = Scope{PlannerID: activity.PlannerID, SectionID: sectionID}
		ops = append(ops, store.BatchOp{
			Type:       store.BatchUpdate,
			Collection: store.Activities,
			ID:         item.ID,
			Partial:    map[string]any{"order": item.Order, "updatedAt": now, "version": activity.Version + 1},
		})
	}

	if err := c.docs.AtomicBatch(ctx, ops); err != nil {
		return err
	}

	keys := c.cascade.Closure(KindActivity, "", scope)
	for _, item := range items {
		keys = append(keys, activityKey(item.ID))
	}
	c.cascade.InvalidateKeys(ctx, keys...)
	return nil
}

// ReorderSections is the planner-scope counterpart of
// ReorderActivities.
func (c *Coordinator) ReorderSections(ctx context.Context, plannerID string, items []ReorderItem) error {
	lock := c.scopeLock("planner:" + plannerID)
	lock.Lock()
	defer lock.Unlock()

	ops := make([]store.BatchOp, 0, len(items))
	now := time.Now().UTC()
	for _, item := range items {
		section, err := c.fetchSection(ctx, item.ID)
		if err != nil {
			return err
		}
		if section.PlannerID != plannerID {
			return fmt.Errorf("section %s: %w", item.ID, ErrParentMismatch)
		}
		ops = append(ops, store.BatchOp{
			Type:       store.BatchUpdate,
			Collection: store.Sections,
			ID:         item.ID,
			Partial:    map[string]any{"order": item.Order, "updatedAt": now, "version": section.Version + 1},
		})
	}

	if err := c.docs.AtomicBatch(ctx, ops); err != nil {
		return err
	}

	keys := c.cascade.Closure(KindSection, "", Scope{PlannerID: plannerID})
	for _, item := range items {
		keys = append(keys, sectionKey(item.ID))
	}
	c.cascade.InvalidateKeys(ctx, keys...)
	return nil
}

// BulkUpdateActivities merges the same field set into every listed
// activity atomically. Children may span sections; invalidation is
// grouped by distinct parent so cache churn stays proportional to the
// number of parents, not items. Each document's version is bumped so a
// caller holding a pre-bulk version hits a conflict instead of
// silently reverting the batch.
func (c *Coordinator) BulkUpdateActivities(ctx context.Context, ids []string, fields map[string]any) ([]Scope, error) {
	unlock, err := c.lockSectionScopes(ctx, ids)
	if err != nil {
		return nil, err
	}
	defer unlock()

	scopes, ops, entityKeys, err := c.collectActivities(ctx, ids, func(activity *model.Activity) store.BatchOp {
		partial := make(map[string]any, len(fields)+2)
		for k, v := range fields {
			partial[k] = v
		}
		partial["updatedAt"] = time.Now().UTC()
		partial["version"] = activity.Version + 1
		return store.BatchOp{Type: store.BatchUpdate, Collection: store.Activities, ID: activity.ID, Partial: partial}
	})
	if err != nil {
		return nil, err
	}
	if err := c.docs.AtomicBatch(ctx, ops); err != nil {
		return nil, err
	}
	c.invalidateBulk(ctx, scopes, entityKeys)
	return scopes, nil
}

// BulkDeleteActivities deletes every listed activity atomically and
// returns the distinct parent scopes that were touched.
func (c *Coordinator) BulkDeleteActivities(ctx context.Context, ids []string) ([]Scope, error) {
	unlock, err := c.lockSectionScopes(ctx, ids)
	if err != nil {
		return nil, err
	}
	defer unlock()

	scopes, ops, entityKeys, err := c.collectActivities(ctx, ids, func(activity *model.Activity) store.BatchOp {
		return store.BatchOp{Type: store.BatchDelete, Collection: store.Activities, ID: activity.ID}
	})
	if err != nil {
		return nil, err
	}
	if err := c.docs.AtomicBatch(ctx, ops); err != nil {
		return nil, err
	}
	c.invalidateBulk(ctx, scopes, entityKeys)
	return scopes, nil
}

func (c *Coordinator) collectActivities(ctx context.Context, ids []string, makeOp func(activity *model.Activity) store.BatchOp) ([]Scope, []store.BatchOp, []string, error) {
	seen := make(map[Scope]struct{})
	var scopes []Scope
	ops := make([]store.BatchOp, 0, len(ids))
	entityKeys := make([]string, 0, len(ids))
	for _, id := range ids {
		activity, err := c.fetchActivity(ctx, id)
		if err != nil {
			return nil, nil, nil, err
		}
		scope := Scope{PlannerID: activity.PlannerID, SectionID: activity.SectionID}
		if _, ok := seen[scope]; !ok {
			seen[scope] = struct{}{}
			scopes = append(scopes, scope)
		}
		ops = append(ops, makeOp(activity))
		entityKeys = append(entityKeys, activityKey(id))
	}
	return scopes, ops, entityKeys, nil
}

func (c *Coordinator) invalidateBulk(ctx context.Context, scopes []Scope, entityKeys []string) {
	keys := entityKeys
	for _, scope := range scopes {
		keys = append(keys, c.cascade.Closure(KindActivity, "", scope)...)
	}
	c.cascade.InvalidateKeys(ctx, keys...)
}
