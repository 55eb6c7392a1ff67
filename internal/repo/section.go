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

type SectionRepo struct {
	docs    Store
	cache   *cache.Cache
	cascade *Cascade
	ttl     TTLs
}

func NewSectionRepo(docs Store, c *cache.Cache, cascade *Cascade, ttl TTLs) *SectionRepo {
	return &SectionRepo{docs: docs, cache: c, cascade: cascade, ttl: ttl}
}

func decodeSection(raw json.RawMessage) (*model.Section, error) {
	var section model.Section
	if err := json.Unmarshal(raw, &section); err != nil {
		return nil, fmt.Errorf("decode section: %w", err)
	}
	return &section, nil
}

func (r *SectionRepo) Get(ctx context.Context, id string) (*model.Section, error) {
	var cached model.Section
	if cacheGet(ctx, r.cache, sectionKey(id), &cached) {
		return &cached, nil
	}
	raw, err := r.docs.Get(ctx, store.Sections, id)
	if err != nil {
		return nil, err
	}
	section, err := decodeSection(raw)
	if err != nil {
		return nil, err
	}
	cacheSet(ctx, r.cache, sectionKey(id), section, r.ttl.Entity)
	return section, nil
}

// ListByPlanner returns the planner's sections ordered by their order
// field, cache-first.
func (r *SectionRepo) ListByPlanner(ctx context.Context, plannerID string) ([]model.Section, error) {
	var cached []model.Section
	if cacheGet(ctx, r.cache, plannerSectionsKey(plannerID), &cached) {
		return cached, nil
	}
	raws, err := r.docs.Query(ctx, store.Sections,
		[]store.Filter{store.Eq("plannerId", plannerID)},
		&store.OrderBy{Field: "order", Numeric: true}, 0, 0)
	if err != nil {
		return nil, err
	}
	sections := make([]model.Section, 0, len(raws))
	for _, raw := range raws {
		section, err := decodeSection(raw)
		if err != nil {
			return nil, err
		}
		sections = append(sections, *section)
	}
	cacheSet(ctx, r.cache, plannerSectionsKey(plannerID), sections, r.ttl.List)
	return sections, nil
}

func (r *SectionRepo) CountByPlanner(ctx context.Context, plannerID string) (int, error) {
	return r.docs.Count(ctx, store.Sections, []store.Filter{store.Eq("plannerId", plannerID)})
}

func (r *SectionRepo) Create(ctx context.Context, section model.Section) (*model.Section, error) {
	now := time.Now().UTC()
	if section.ID == "" {
		section.ID = util.NewID("sec")
	}
	section.CreatedAt = now
	section.UpdatedAt = now
	section.Version = 1
	if err := r.docs.Set(ctx, store.Sections, section.ID, section); err != nil {
		return nil, err
	}
	cacheSet(ctx, r.cache, sectionKey(section.ID), section, r.ttl.Entity)
	cacheDelete(ctx, r.cache, plannerSectionsKey(section.PlannerID))
	return &section, nil
}

func (r *SectionRepo) Update(ctx context.Context, id string, fields map[string]any, expectedVersion int64) (*model.Section, error) {
	fields["version"] = expectedVersion + 1
	fields["updatedAt"] = time.Now().UTC()
	if err := r.docs.UpdateVersioned(ctx, store.Sections, id, fields, expectedVersion); err != nil {
		return nil, err
	}
	raw, err := r.docs.Get(ctx, store.Sections, id)
	if err != nil {
		return nil, err
	}
	section, err := decodeSection(raw)
	if err != nil {
		return nil, err
	}
	r.cascade.Invalidate(ctx, KindSection, id, Scope{PlannerID: section.PlannerID})
	r.cascade.InvalidateKeys(ctx, sectionStatsKey(id))
	cacheSet(ctx, r.cache, sectionKey(id), section, r.ttl.Entity)
	return section, nil
}

// RefreshMetadata rewrites the derived rollup outside the version CAS;
// the rollup is recomputed from the activity set so last write wins.
func (r *SectionRepo) RefreshMetadata(ctx context.Context, id, plannerID string, metadata model.SectionMetadata) error {
	if err := r.docs.Update(ctx, store.Sections, id, map[string]any{"metadata": metadata}); err != nil {
		return err
	}
	cacheDelete(ctx, r.cache, sectionKey(id), plannerSectionsKey(plannerID))
	return nil
}

// Delete reads the section first (to learn its parent), then removes
// the section and all of its activities in one atomic batch, and
// finally clears every stale key including the per-child entity keys.
// The "a planner keeps at least one section" rule is enforced above, in
// the service.
func (r *SectionRepo) Delete(ctx context.Context, id string) error {
	raw, err := r.docs.Get(ctx, store.Sections, id)
	if err != nil {
		return err
	}
	section, err := decodeSection(raw)
	if err != nil {
		return err
	}

	childRaws, err := r.docs.Query(ctx, store.Activities,
		[]store.Filter{store.Eq("sectionId", id)}, nil, 0, 0)
	if err != nil {
		return err
	}
	childIDs := make([]string, 0, len(childRaws))
	for _, childRaw := range childRaws {
		var child struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(childRaw, &child); err != nil {
			return fmt.Errorf("decode activity id: %w", err)
		}
		childIDs = append(childIDs, child.ID)
	}

	ops := make([]store.BatchOp, 0, len(childIDs)+1)
	ops = append(ops, store.BatchOp{Type: store.BatchDelete, Collection: store.Sections, ID: id})
	for _, childID := range childIDs {
		ops = append(ops, store.BatchOp{Type: store.BatchDelete, Collection: store.Activities, ID: childID})
	}
	if err := r.docs.AtomicBatch(ctx, ops); err != nil {
		return err
	}

	keys := r.cascade.Closure(KindSection, id, Scope{PlannerID: section.PlannerID})
	keys = append(keys, sectionActivitiesKey(id), sectionStatsKey(id))
	for _, childID := range childIDs {
		keys = append(keys, activityKey(childID))
	}
	r.cascade.InvalidateKeys(ctx, keys...)
	return nil
}
