package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"planhub/internal/model"
	"planhub/internal/store"
)

func TestPlannerGetIsCacheFirst(t *testing.T) {
	env := setupRepoEnv(t)
	ctx := context.Background()

	created, err := env.planners.Create(ctx, model.Planner{OwnerID: "usr_1", Title: "Q3 plan"})
	if err != nil {
		t.Fatalf("create planner: %v", err)
	}

	// Mutate the store behind the cache's back; a read must still see
	// the cached copy.
	if err := env.docs.Update(ctx, store.Planners, created.ID, map[string]any{"title": "changed"}); err != nil {
		t.Fatalf("direct update: %v", err)
	}
	cached, err := env.planners.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get planner: %v", err)
	}
	if cached.Title != "Q3 plan" {
		t.Fatalf("title = %q, want cached %q", cached.Title, "Q3 plan")
	}

	// GetFresh bypasses the cache.
	fresh, err := env.planners.GetFresh(ctx, created.ID)
	if err != nil {
		t.Fatalf("get fresh: %v", err)
	}
	if fresh.Title != "changed" {
		t.Fatalf("fresh title = %q, want %q", fresh.Title, "changed")
	}
}

func TestPlannerUpdateVersionConflict(t *testing.T) {
	env := setupRepoEnv(t)
	ctx := context.Background()

	created, err := env.planners.Create(ctx, model.Planner{OwnerID: "usr_1", Title: "Plan"})
	if err != nil {
		t.Fatalf("create planner: %v", err)
	}

	if _, err := env.planners.Update(ctx, created.ID, map[string]any{"title": "first"}, created.Version); err != nil {
		t.Fatalf("first update: %v", err)
	}
	// Replay with the stale version: the compare-and-swap must lose.
	_, err = env.planners.Update(ctx, created.ID, map[string]any{"title": "second"}, created.Version)
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}

	planner, err := env.planners.GetFresh(ctx, created.ID)
	if err != nil {
		t.Fatalf("get fresh: %v", err)
	}
	if planner.Title != "first" || planner.Version != 2 {
		t.Fatalf("planner = %q v%d, want %q v2", planner.Title, planner.Version, "first")
	}
}

func TestActivityCreateInvalidatesSectionList(t *testing.T) {
	env := setupRepoEnv(t)
	ctx := context.Background()
	env.seedSection(t, "sec_1", "pln_1", 0)
	env.seedActivity(t, "act_1", "sec_1", "pln_1", 0)

	first, err := env.activities.ListBySection(ctx, "sec_1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("len = %d, want 1", len(first))
	}
	if !env.redis.Exists("section-activities:sec_1") {
		t.Fatalf("list was not cached")
	}

	if _, err := env.activities.Create(ctx, model.Activity{
		SectionID: "sec_1",
		PlannerID: "pln_1",
		Title:     "New activity",
		Status:    model.StatusPending,
		Priority:  model.PriorityMedium,
		Order:     1,
	}); err != nil {
		t.Fatalf("create activity: %v", err)
	}

	second, err := env.activities.ListBySection(ctx, "sec_1")
	if err != nil {
		t.Fatalf("list after create: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("len = %d, want 2 after invalidation", len(second))
	}
}

func TestActivityUpdateClearsPlannerStats(t *testing.T) {
	env := setupRepoEnv(t)
	ctx := context.Background()
	env.seedActivity(t, "act_1", "sec_1", "pln_1", 0)

	if err := env.cache.Set(ctx, "planner-stats:pln_1", "stale", time.Minute); err != nil {
		t.Fatalf("seed stats key: %v", err)
	}
	if _, err := env.activities.Update(ctx, "act_1", map[string]any{"title": "renamed"}, 1); err != nil {
		t.Fatalf("update: %v", err)
	}
	if env.redis.Exists("planner-stats:pln_1") {
		t.Fatalf("planner stats key survived activity update")
	}
}

func TestSectionDeleteCascadesToChildren(t *testing.T) {
	env := setupRepoEnv(t)
	ctx := context.Background()
	env.seedSection(t, "sec_1", "pln_1", 0)
	env.seedActivity(t, "act_1", "sec_1", "pln_1", 0)
	env.seedActivity(t, "act_2", "sec_1", "pln_1", 1)

	for _, key := range []string{"activity:act_1", "activity:act_2", "section-activities:sec_1", "planner-sections:pln_1"} {
		if err := env.cache.Set(ctx, key, "stale", time.Minute); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}

	if err := env.sections.Delete(ctx, "sec_1"); err != nil {
		t.Fatalf("delete section: %v", err)
	}

	if _, err := env.docs.Get(ctx, store.Sections, "sec_1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("section survived delete")
	}
	for _, id := range []string{"act_1", "act_2"} {
		if _, err := env.docs.Get(ctx, store.Activities, id); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("activity %s survived section delete", id)
		}
	}
	for _, key := range []string{"activity:act_1", "activity:act_2", "section-activities:sec_1", "planner-sections:pln_1"} {
		if env.redis.Exists(key) {
			t.Fatalf("key %s survived section delete", key)
		}
	}
}

func TestTimeEntryStopComputesDuration(t *testing.T) {
	env := setupRepoEnv(t)
	ctx := context.Background()
	entries := NewTimeEntryRepo(env.docs)

	started, err := entries.Create(ctx, model.TimeEntry{
		ActivityID: "act_1",
		UserID:     "usr_1",
		StartTime:  time.Now().UTC().Add(-30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}

	active, err := entries.ActiveForUser(ctx, "usr_1")
	if err != nil {
		t.Fatalf("active lookup: %v", err)
	}
	if active == nil || active.ID != started.ID {
		t.Fatalf("active entry = %v, want %s", active, started.ID)
	}

	stopped, err := entries.Stop(ctx, started.ID, started.Version)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.EndTime == nil {
		t.Fatalf("end time not set")
	}
	if stopped.Duration < 29 || stopped.Duration > 31 {
		t.Fatalf("duration = %d minutes, want ~30", stopped.Duration)
	}

	if active, err := entries.ActiveForUser(ctx, "usr_1"); err != nil || active != nil {
		t.Fatalf("active after stop = %v (err %v), want none", active, err)
	}
}
