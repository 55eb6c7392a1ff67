// Package quota enforces plan-derived ceilings before create
// operations. Checks are stateless: they count existing children and
// fail fast, so a quota hit never reaches the store write.
package quota

import (
	"context"
	"fmt"

	"planhub/internal/model"
	"planhub/internal/store"
)

// Limits is one plan's ceilings.
type Limits struct {
	PlannersPerUser      int
	SectionsPerPlanner   int
	ActivitiesPerSection int
}

// ExceededError reports which ceiling was hit.
type ExceededError struct {
	Resource string
	Limit    int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %s limit of %d reached", e.Resource, e.Limit)
}

// Counter is the slice of the document-store adapter the enforcer
// reads through.
type Counter interface {
	Count(ctx context.Context, collection string, filters []store.Filter) (int, error)
}

type Enforcer struct {
	docs   Counter
	limits map[model.Plan]Limits
}

// New builds an enforcer with the free-plan ceilings; the pro plan gets
// a 10x multiple of every ceiling.
func New(docs Counter, free Limits) *Enforcer {
	return &Enforcer{
		docs: docs,
		limits: map[model.Plan]Limits{
			model.PlanFree: free,
			model.PlanPro: {
				PlannersPerUser:      free.PlannersPerUser * 10,
				SectionsPerPlanner:   free.SectionsPerPlanner * 10,
				ActivitiesPerSection: free.ActivitiesPerSection * 10,
			},
		},
	}
}

func (e *Enforcer) limitsFor(plan model.Plan) Limits {
	if limits, ok := e.limits[plan]; ok {
		return limits
	}
	return e.limits[model.PlanFree]
}

func (e *Enforcer) CheckPlannerCreate(ctx context.Context, userID string, plan model.Plan) error {
	limit := e.limitsFor(plan).PlannersPerUser
	count, err := e.docs.Count(ctx, store.Planners, []store.Filter{store.Eq("ownerId", userID)})
	if err != nil {
		return err
	}
	if count >= limit {
		return &ExceededError{Resource: "planners", Limit: limit}
	}
	return nil
}

func (e *Enforcer) CheckSectionCreate(ctx context.Context, plannerID string, plan model.Plan) error {
	limit := e.limitsFor(plan).SectionsPerPlanner
	count, err := e.docs.Count(ctx, store.Sections, []store.Filter{store.Eq("plannerId", plannerID)})
	if err != nil {
		return err
	}
	if count >= limit {
		return &ExceededError{Resource: "sections", Limit: limit}
	}
	return nil
}

// CheckActivityCreate enforces the plan ceiling and, when set, the
// section's own max-activity setting (whichever is lower).
func (e *Enforcer) CheckActivityCreate(ctx context.Context, section *model.Section, plan model.Plan) error {
	limit := e.limitsFor(plan).ActivitiesPerSection
	if max := section.Settings.MaxActivities; max != nil && *max < limit {
		limit = *max
	}
	count, err := e.docs.Count(ctx, store.Activities, []store.Filter{store.Eq("sectionId", section.ID)})
	if err != nil {
		return err
	}
	if count >= limit {
		return &ExceededError{Resource: "activities", Limit: limit}
	}
	return nil
}
