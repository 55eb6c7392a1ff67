package quota

import (
	"context"
	"errors"
	"testing"

	"planhub/internal/model"
	"planhub/internal/store"
)

type fakeCounter struct {
	counts map[string]int
	calls  int
}

func (f *fakeCounter) Count(_ context.Context, collection string, _ []store.Filter) (int, error) {
	f.calls++
	return f.counts[collection], nil
}

func freeLimits() Limits {
	return Limits{PlannersPerUser: 3, SectionsPerPlanner: 50, ActivitiesPerSection: 1000}
}

func TestPlannerQuotaAtCeiling(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int{store.Planners: 3}}
	enforcer := New(counter, freeLimits())

	err := enforcer.CheckPlannerCreate(context.Background(), "usr_1", model.PlanFree)
	var exceeded *ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected ExceededError at 3/3 planners, got %v", err)
	}
	if exceeded.Resource != "planners" || exceeded.Limit != 3 {
		t.Errorf("unexpected error detail: %+v", exceeded)
	}
}

func TestPlannerQuotaUnderCeiling(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int{store.Planners: 2}}
	enforcer := New(counter, freeLimits())

	if err := enforcer.CheckPlannerCreate(context.Background(), "usr_1", model.PlanFree); err != nil {
		t.Errorf("expected 2/3 planners to pass, got %v", err)
	}
}

func TestProPlanGetsHigherCeiling(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int{store.Planners: 3}}
	enforcer := New(counter, freeLimits())

	if err := enforcer.CheckPlannerCreate(context.Background(), "usr_1", model.PlanPro); err != nil {
		t.Errorf("pro plan should allow more than 3 planners, got %v", err)
	}
}

func TestUnknownPlanFallsBackToFree(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int{store.Planners: 3}}
	enforcer := New(counter, freeLimits())

	err := enforcer.CheckPlannerCreate(context.Background(), "usr_1", model.Plan("trial"))
	var exceeded *ExceededError
	if !errors.As(err, &exceeded) {
		t.Errorf("unknown plan must use free ceilings, got %v", err)
	}
}

func TestSectionQuota(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int{store.Sections: 50}}
	enforcer := New(counter, freeLimits())

	err := enforcer.CheckSectionCreate(context.Background(), "pln_1", model.PlanFree)
	var exceeded *ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected ExceededError at 50/50 sections, got %v", err)
	}
}

func TestActivityQuotaHonorsSectionCeiling(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int{store.Activities: 10}}
	enforcer := New(counter, freeLimits())

	maxActivities := 10
	section := &model.Section{
		ID:       "sec_1",
		Settings: model.SectionSettings{MaxActivities: &maxActivities},
	}

	err := enforcer.CheckActivityCreate(context.Background(), section, model.PlanFree)
	var exceeded *ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected section-level ceiling of 10 to bind, got %v", err)
	}
	if exceeded.Limit != 10 {
		t.Errorf("expected limit 10, got %d", exceeded.Limit)
	}
}

func TestActivityQuotaPlanCeiling(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int{store.Activities: 999}}
	enforcer := New(counter, freeLimits())

	section := &model.Section{ID: "sec_1"}
	if err := enforcer.CheckActivityCreate(context.Background(), section, model.PlanFree); err != nil {
		t.Errorf("999/1000 should pass, got %v", err)
	}

	counter.counts[store.Activities] = 1000
	err := enforcer.CheckActivityCreate(context.Background(), section, model.PlanFree)
	var exceeded *ExceededError
	if !errors.As(err, &exceeded) {
		t.Errorf("1000/1000 should fail, got %v", err)
	}
}
