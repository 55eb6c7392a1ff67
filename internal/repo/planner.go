package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"planhub/internal/cache"
	"planhub/internal/model"
	"planhub/internal/store"
	"planhub/internal/util"
)

type PlannerRepo struct {
	docs    Store
	cache   *cache.Cache
	cascade *Cascade
	ttl     TTLs
}

func NewPlannerRepo(docs Store, c *cache.Cache, cascade *Cascade, ttl TTLs) *PlannerRepo {
	return &PlannerRepo{docs: docs, cache: c, cascade: cascade, ttl: ttl}
}

func decodePlanner(raw json.RawMessage) (*model.Planner, error) {
	var planner model.Planner
	if err := json.Unmarshal(raw, &planner); err != nil {
		return nil, fmt.Errorf("decode planner: %w", err)
	}
	return &planner, nil
}

func (r *PlannerRepo) Get(ctx context.Context, id string) (*model.Planner, error) {
	var cached model.Planner
	if cacheGet(ctx, r.cache, plannerKey(id), &cached) {
		return &cached, nil
	}
	raw, err := r.docs.Get(ctx, store.Planners, id)
	if err != nil {
		return nil, err
	}
	planner, err := decodePlanner(raw)
	if err != nil {
		return nil, err
	}
	cacheSet(ctx, r.cache, plannerKey(id), planner, r.ttl.Entity)
	return planner, nil
}

// GetFresh bypasses the cache. Access decisions on mutating calls must
// see the current collaborator list, not one up to a TTL old.
func (r *PlannerRepo) GetFresh(ctx context.Context, id string) (*model.Planner, error) {
	raw, err := r.docs.Get(ctx, store.Planners, id)
	if err != nil {
		return nil, err
	}
	return decodePlanner(raw)
}

// ListByOwner returns the planners a user owns, newest first.
func (r *PlannerRepo) ListByOwner(ctx context.Context, userID string) ([]model.Planner, error) {
	raws, err := r.docs.Query(ctx, store.Planners,
		[]store.Filter{store.Eq("ownerId", userID)},
		&store.OrderBy{Field: "createdAt", Desc: true}, 0, 0)
	if err != nil {
		return nil, err
	}
	return decodePlanners(raws)
}

// ListSharedWith returns the planners where the user appears as a
// collaborator.
func (r *PlannerRepo) ListSharedWith(ctx context.Context, userID string) ([]model.Planner, error) {
	raws, err := r.docs.Query(ctx, store.Planners,
		[]store.Filter{store.Contains("collaborators", map[string]any{"userId": userID})},
		&store.OrderBy{Field: "createdAt", Desc: true}, 0, 0)
	if err != nil {
		return nil, err
	}
	return decodePlanners(raws)
}

func decodePlanners(raws []json.RawMessage) ([]model.Planner, error) {
	planners := make([]model.Planner, 0, len(raws))
	for _, raw := range raws {
		planner, err := decodePlanner(raw)
		if err != nil {
			return nil, err
		}
		planners = append(planners, *planner)
	}
	return planners, nil
}

// Create assigns id, timestamps, and the initial version, writes
// through to the store, and populates the single-entity cache key.
func (r *PlannerRepo) Create(ctx context.Context, planner model.Planner) (*model.Planner, error) {
	now := time.Now().UTC()
	if planner.ID == "" {
		planner.ID = util.NewID("pln")
	}
	planner.CreatedAt = now
	planner.UpdatedAt = now
	planner.Version = 1
	if planner.Collaborators == nil {
		planner.Collaborators = []model.Collaborator{}
	}
	if err := r.docs.Set(ctx, store.Planners, planner.ID, planner); err != nil {
		return nil, err
	}
	cacheSet(ctx, r.cache, plannerKey(planner.ID), planner, r.ttl.Entity)
	return &planner, nil
}

// Update merges fields under a version compare-and-swap, re-reads the
// stored document so the cache never holds a partial merge, refreshes
// the single-entity key, and invalidates dependent keys.
func (r *PlannerRepo) Update(ctx context.Context, id string, fields map[string]any, expectedVersion int64) (*model.Planner, error) {
	fields["version"] = expectedVersion + 1
	fields["updatedAt"] = time.Now().UTC()
	if err := r.docs.UpdateVersioned(ctx, store.Planners, id, fields, expectedVersion); err != nil {
		return nil, err
	}
	raw, err := r.docs.Get(ctx, store.Planners, id)
	if err != nil {
		return nil, err
	}
	planner, err := decodePlanner(raw)
	if err != nil {
		return nil, err
	}
	r.cascade.Invalidate(ctx, KindPlanner, id, Scope{PlannerID: id})
	cacheSet(ctx, r.cache, plannerKey(id), planner, r.ttl.Entity)
	return planner, nil
}

// RefreshMetadata rewrites the derived rollup without a version bump
// race: the rollup is recomputed from the activity set, so last write
// wins harmlessly.
func (r *PlannerRepo) RefreshMetadata(ctx context.Context, id string, metadata model.PlannerMetadata) error {
	if err := r.docs.Update(ctx, store.Planners, id, map[string]any{"metadata": metadata}); err != nil {
		return err
	}
	cacheDelete(ctx, r.cache, plannerKey(id))
	return nil
}

// Delete removes the planner and clears every cache key scoped to it.
// Child sections and activities are deleted by the service through the
// section repository before this is called.
func (r *PlannerRepo) Delete(ctx context.Context, id string) error {
	if err := r.docs.Delete(ctx, store.Planners, id); err != nil {
		return err
	}
	r.cascade.Invalidate(ctx, KindPlanner, id, Scope{PlannerID: id})
	return nil
}
