package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"planhub/internal/cache"
	"planhub/internal/model"
	"planhub/internal/store"
	"planhub/internal/store/storetest"
)

type repoEnv struct {
	docs        *storetest.Memory
	cache       *cache.Cache
	redis       *miniredis.Miniredis
	cascade     *Cascade
	coordinator *Coordinator
	planners    *PlannerRepo
	sections    *SectionRepo
	activities  *ActivityRepo
}

func setupRepoEnv(t *testing.T) *repoEnv {
	t.Helper()
	s := miniredis.RunT(t)
	c, err := cache.New("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	docs := storetest.NewMemory()
	cascade := NewCascade(c)
	ttl := DefaultTTLs()
	return &repoEnv{
		docs:        docs,
		cache:       c,
		redis:       s,
		cascade:     cascade,
		coordinator: NewCoordinator(docs, cascade),
		planners:    NewPlannerRepo(docs, c, cascade, ttl),
		sections:    NewSectionRepo(docs, c, cascade, ttl),
		activities:  NewActivityRepo(docs, c, cascade, ttl),
	}
}

func (e *repoEnv) seedActivity(t *testing.T, id, sectionID, plannerID string, order int) {
	t.Helper()
	err := e.docs.Set(context.Background(), store.Activities, id, model.Activity{
		ID:        id,
		SectionID: sectionID,
		PlannerID: plannerID,
		Title:     "Activity " + id,
		Status:    model.StatusPending,
		Priority:  model.PriorityMedium,
		Order:     order,
		Version:   1,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed activity %s: %v", id, err)
	}
}

func (e *repoEnv) seedSection(t *testing.T, id, plannerID string, order int) {
	t.Helper()
	err := e.docs.Set(context.Background(), store.Sections, id, model.Section{
		ID:        id,
		PlannerID: plannerID,
		Title:     "Section " + id,
		Order:     order,
		Version:   1,
	})
	if err != nil {
		t.Fatalf("seed section %s: %v", id, err)
	}
}

func (e *repoEnv) activityOrder(t *testing.T, id string) int {
	t.Helper()
	activity, err := e.activities.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get activity %s: %v", id, err)
	}
	return activity.Order
}

func TestReorderActivitiesIsIdempotent(t *testing.T) {
	env := setupRepoEnv(t)
	ctx := context.Background()
	env.seedActivity(t, "act_1", "sec_1", "pln_1", 0)
	env.seedActivity(t, "act_2", "sec_1", "pln_1", 1)
	env.seedActivity(t, "act_3", "sec_1", "pln_1", 2)

	items := []ReorderItem{
		{ID: "act_3", Order: 0},
		{ID: "act_1", Order: 1},
		{ID: "act_2", Order: 2},
	}
	if err := env.coordinator.ReorderActivities(ctx, "sec_1", items); err != nil {
		t.Fatalf("first reorder failed: %v", err)
	}
	if err := env.coordinator.ReorderActivities(ctx, "sec_1", items); err != nil {
		t.Fatalf("second reorder failed: %v", err)
	}

	if got := env.activityOrder(t, "act_3"); got != 0 {
		t.Fatalf("act_3 order = %d, want 0", got)
	}
	if got := env.activityOrder(t, "act_1"); got != 1 {
		t.Fatalf("act_1 order = %d, want 1", got)
	}
	if got := env.activityOrder(t, "act_2"); got != 2 {
		t.Fatalf("act_2 order = %d, want 2", got)
	}
}

func TestReorderActivitiesRejectsForeignChild(t *testing.T) {
	env := setupRepoEnv(t)
	ctx := context.Background()
	env.seedActivity(t, "act_1", "sec_1", "pln_1", 0)
	env.seedActivity(t, "act_other", "sec_2", "pln_1", 0)

	err := env.coordinator.ReorderActivities(ctx, "sec_1", []ReorderItem{
		{ID: "act_1", Order: 1},
		{ID: "act_other", Order: 0},
	})
	if !errors.Is(err, ErrParentMismatch) {
		t.Fatalf("err = %v, want ErrParentMismatch", err)
	}
	// Validation fails before the batch: nothing may have moved.
	if got := env.activityOrder(t, "act_1"); got != 0 {
		t.Fatalf("act_1 order = %d, want unchanged 0", got)
	}
}

func TestReorderSectionsRejectsForeignChild(t *testing.T) {
	env := setupRepoEnv(t)
	ctx := context.Background()
	env.seedSection(t, "sec_1", "pln_1", 0)
	env.seedSection(t, "sec_other", "pln_2", 0)

	err := env.coordinator.ReorderSections(ctx, "pln_1", []ReorderItem{
		{ID: "sec_other", Order: 0},
	})
	if !errors.Is(err, ErrParentMismatch) {
		t.Fatalf("err = %v, want ErrParentMismatch", err)
	}
}

// Deleting children from two different sections must invalidate exactly
// the two parents' cached views and leave unrelated sections alone.
func TestBulkDeleteInvalidatesDistinctParents(t *testing.T) {
	env := setupRepoEnv(t)
	ctx := context.Background()
	env.seedActivity(t, "act_1", "sec_1", "pln_1", 0)
	env.seedActivity(t, "act_2", "sec_2", "pln_1", 0)
	env.seedActivity(t, "act_3", "sec_3", "pln_1", 0)

	seeded := []string{
		"activity:act_1", "activity:act_2",
		"section-activities:sec_1", "section-stats:sec_1",
		"section-activities:sec_2", "section-stats:sec_2",
		"section-activities:sec_3", "section-stats:sec_3",
		"planner-stats:pln_1",
	}
	for _, key := range seeded {
		if err := env.cache.Set(ctx, key, "stale", time.Minute); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}

	scopes, err := env.coordinator.BulkDeleteActivities(ctx, []string{"act_1", "act_2"})
	if err != nil {
		t.Fatalf("bulk delete failed: %v", err)
	}
	if len(scopes) != 2 {
		t.Fatalf("scopes = %v, want two distinct parents", scopes)
	}

	gone := []string{
		"activity:act_1", "activity:act_2",
		"section-activities:sec_1", "section-stats:sec_1",
		"section-activities:sec_2", "section-stats:sec_2",
		"planner-stats:pln_1",
	}
	for _, key := range gone {
		if env.redis.Exists(key) {
			t.Fatalf("key %s survived bulk invalidation", key)
		}
	}
	for _, key := range []string{"section-activities:sec_3", "section-stats:sec_3"} {
		if !env.redis.Exists(key) {
			t.Fatalf("unrelated key %s was invalidated", key)
		}
	}

	if _, err := env.docs.Get(ctx, store.Activities, "act_1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("act_1 still in store after bulk delete")
	}
	if _, err := env.docs.Get(ctx, store.Activities, "act_3"); err != nil {
		t.Fatalf("act_3 should survive: %v", err)
	}
}

func TestBulkUpdateGroupsScopesPerParent(t *testing.T) {
	env := setupRepoEnv(t)
	ctx := context.Background()
	env.seedActivity(t, "act_1", "sec_1", "pln_1", 0)
	env.seedActivity(t, "act_2", "sec_1", "pln_1", 1)
	env.seedActivity(t, "act_3", "sec_2", "pln_1", 0)

	scopes, err := env.coordinator.BulkUpdateActivities(ctx,
		[]string{"act_1", "act_2", "act_3"},
		map[string]any{"status": string(model.StatusCompleted)})
	if err != nil {
		t.Fatalf("bulk update failed: %v", err)
	}
	if len(scopes) != 2 {
		t.Fatalf("scopes = %v, want one per distinct section", scopes)
	}

	for _, id := range []string{"act_1", "act_2", "act_3"} {
		activity, err := env.activities.Get(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if activity.Status != model.StatusCompleted {
			t.Fatalf("%s status = %s, want completed", id, activity.Status)
		}
	}
}

// A write that lands through the bulk path must advance the document
// version, otherwise a caller holding the pre-bulk version can replay
// a stale update over it.
func TestBulkUpdateBumpsVersion(t *testing.T) {
	env := setupRepoEnv(t)
	ctx := context.Background()
	env.seedActivity(t, "act_1", "sec_1", "pln_1", 0)

	if _, err := env.coordinator.BulkUpdateActivities(ctx,
		[]string{"act_1"},
		map[string]any{"status": string(model.StatusCompleted)}); err != nil {
		t.Fatalf("bulk update failed: %v", err)
	}

	activity, err := env.activities.Get(ctx, "act_1")
	if err != nil {
		t.Fatalf("get act_1: %v", err)
	}
	if activity.Version != 2 {
		t.Fatalf("version = %d after bulk update, want 2", activity.Version)
	}

	// A conditional write still carrying the pre-bulk version must
	// conflict instead of reverting the status.
	err = env.docs.UpdateVersioned(ctx, store.Activities, "act_1",
		map[string]any{"status": string(model.StatusPending), "version": int64(2)}, 1)
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("stale conditional write: err = %v, want ErrVersionConflict", err)
	}
	raw, err := env.docs.Get(ctx, store.Activities, "act_1")
	if err != nil {
		t.Fatalf("refetch act_1: %v", err)
	}
	activity, err = decodeActivity(raw)
	if err != nil {
		t.Fatalf("decode act_1: %v", err)
	}
	if activity.Status != model.StatusCompleted {
		t.Fatalf("status = %s, bulk-set value was overwritten", activity.Status)
	}
}

func TestReorderBumpsVersions(t *testing.T) {
	env := setupRepoEnv(t)
	ctx := context.Background()
	env.seedActivity(t, "act_1", "sec_1", "pln_1", 0)
	env.seedSection(t, "sec_1", "pln_1", 0)

	if err := env.coordinator.ReorderActivities(ctx, "sec_1", []ReorderItem{{ID: "act_1", Order: 5}}); err != nil {
		t.Fatalf("reorder activities failed: %v", err)
	}
	activity, err := env.activities.Get(ctx, "act_1")
	if err != nil {
		t.Fatalf("get act_1: %v", err)
	}
	if activity.Version != 2 {
		t.Fatalf("activity version = %d after reorder, want 2", activity.Version)
	}

	if err := env.coordinator.ReorderSections(ctx, "pln_1", []ReorderItem{{ID: "sec_1", Order: 3}}); err != nil {
		t.Fatalf("reorder sections failed: %v", err)
	}
	section, err := env.sections.Get(ctx, "sec_1")
	if err != nil {
		t.Fatalf("get sec_1: %v", err)
	}
	if section.Version != 2 {
		t.Fatalf("section version = %d after reorder, want 2", section.Version)
	}
}

func TestBulkUpdateUnknownIDRollsBack(t *testing.T) {
	env := setupRepoEnv(t)
	ctx := context.Background()
	env.seedActivity(t, "act_1", "sec_1", "pln_1", 0)

	_, err := env.coordinator.BulkUpdateActivities(ctx,
		[]string{"act_1", "act_missing"},
		map[string]any{"priority": string(model.PriorityHigh)})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	activity, err := env.activities.Get(ctx, "act_1")
	if err != nil {
		t.Fatalf("get act_1: %v", err)
	}
	if activity.Priority != model.PriorityMedium {
		t.Fatalf("act_1 priority = %s, want unchanged medium", activity.Priority)
	}
}
