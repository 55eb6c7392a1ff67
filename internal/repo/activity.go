package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"planhub/internal/cache"
	"planhub/internal/model"
	"planhub/internal/store"
	"planhub/internal/util"
)

type ActivityRepo struct {
	docs    Store
	cache   *cache.Cache
	cascade *Cascade
	ttl     TTLs
}

func NewActivityRepo(docs Store, c *cache.Cache, cascade *Cascade, ttl TTLs) *ActivityRepo {
	return &ActivityRepo{docs: docs, cache: c, cascade: cascade, ttl: ttl}
}

func decodeActivity(raw json.RawMessage) (*model.Activity, error) {
	var activity model.Activity
	if err := json.Unmarshal(raw, &activity); err != nil {
		return nil, fmt.Errorf("decode activity: %w", err)
	}
	return &activity, nil
}

func (r *ActivityRepo) scope(activity *model.Activity) Scope {
	return Scope{PlannerID: activity.PlannerID, SectionID: activity.SectionID}
}

func (r *ActivityRepo) Get(ctx context.Context, id string) (*model.Activity, error) {
	var cached model.Activity
	if cacheGet(ctx, r.cache, activityKey(id), &cached) {
		return &cached, nil
	}
	raw, err := r.docs.Get(ctx, store.Activities, id)
	if err != nil {
		return nil, err
	}
	activity, err := decodeActivity(raw)
	if err != nil {
		return nil, err
	}
	cacheSet(ctx, r.cache, activityKey(id), activity, r.ttl.Entity)
	return activity, nil
}

// FindByIDs fetches a set of activities, skipping nothing: a missing id
// is an error because bulk operations must validate existence first.
func (r *ActivityRepo) FindByIDs(ctx context.Context, ids []string) ([]model.Activity, error) {
	activities := make([]model.Activity, 0, len(ids))
	for _, id := range ids {
		activity, err := r.Get(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("activity %s: %w", id, store.ErrNotFound)
			}
			return nil, err
		}
		activities = append(activities, *activity)
	}
	return activities, nil
}

// ListBySection returns the section's activities ordered by the order
// field, cache-first.
func (r *ActivityRepo) ListBySection(ctx context.Context, sectionID string) ([]model.Activity, error) {
	var cached []model.Activity
	if cacheGet(ctx, r.cache, sectionActivitiesKey(sectionID), &cached) {
		return cached, nil
	}
	raws, err := r.docs.Query(ctx, store.Activities,
		[]store.Filter{store.Eq("sectionId", sectionID)},
		&store.OrderBy{Field: "order", Numeric: true}, 0, 0)
	if err != nil {
		return nil, err
	}
	activities, err := decodeActivities(raws)
	if err != nil {
		return nil, err
	}
	cacheSet(ctx, r.cache, sectionActivitiesKey(sectionID), activities, r.ttl.List)
	return activities, nil
}

// ListByPlanner is an uncached planner-wide scan, capped by limit when
// positive. Dependency validation and suggestion scans use it.
func (r *ActivityRepo) ListByPlanner(ctx context.Context, plannerID string, limit int) ([]model.Activity, error) {
	raws, err := r.docs.Query(ctx, store.Activities,
		[]store.Filter{store.Eq("plannerId", plannerID)},
		&store.OrderBy{Field: "order", Numeric: true}, limit, 0)
	if err != nil {
		return nil, err
	}
	return decodeActivities(raws)
}

func decodeActivities(raws []json.RawMessage) ([]model.Activity, error) {
	activities := make([]model.Activity, 0, len(raws))
	for _, raw := range raws {
		activity, err := decodeActivity(raw)
		if err != nil {
			return nil, err
		}
		activities = append(activities, *activity)
	}
	return activities, nil
}

func (r *ActivityRepo) CountBySection(ctx context.Context, sectionID string) (int, error) {
	return r.docs.Count(ctx, store.Activities, []store.Filter{store.Eq("sectionId", sectionID)})
}

func (r *ActivityRepo) Create(ctx context.Context, activity model.Activity) (*model.Activity, error) {
	now := time.Now().UTC()
	if activity.ID == "" {
		activity.ID = util.NewID("act")
	}
	activity.CreatedAt = now
	activity.UpdatedAt = now
	activity.Version = 1
	if err := r.docs.Set(ctx, store.Activities, activity.ID, activity); err != nil {
		return nil, err
	}
	r.cascade.Invalidate(ctx, KindActivity, activity.ID, r.scope(&activity))
	cacheSet(ctx, r.cache, activityKey(activity.ID), activity, r.ttl.Entity)
	return &activity, nil
}

func (r *ActivityRepo) Update(ctx context.Context, id string, fields map[string]any, expectedVersion int64) (*model.Activity, error) {
	fields["version"] = expectedVersion + 1
	fields["updatedAt"] = time.Now().UTC()
	if err := r.docs.UpdateVersioned(ctx, store.Activities, id, fields, expectedVersion); err != nil {
		return nil, err
	}
	raw, err := r.docs.Get(ctx, store.Activities, id)
	if err != nil {
		return nil, err
	}
	activity, err := decodeActivity(raw)
	if err != nil {
		return nil, err
	}
	r.cascade.Invalidate(ctx, KindActivity, id, r.scope(activity))
	cacheSet(ctx, r.cache, activityKey(id), activity, r.ttl.Entity)
	return activity, nil
}

// Delete reads the activity first to learn its parent scope, deletes
// from the store, then clears the entity key and the parent closure.
func (r *ActivityRepo) Delete(ctx context.Context, id string) (*model.Activity, error) {
	raw, err := r.docs.Get(ctx, store.Activities, id)
	if err != nil {
		return nil, err
	}
	activity, err := decodeActivity(raw)
	if err != nil {
		return nil, err
	}
	if err := r.docs.Delete(ctx, store.Activities, id); err != nil {
		return nil, err
	}
	r.cascade.Invalidate(ctx, KindActivity, id, r.scope(activity))
	return activity, nil
}
