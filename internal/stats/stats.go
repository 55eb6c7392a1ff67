// Package stats computes derived rollups for a scope (section or
// planner) by scanning its current activity set. Counters are never
// maintained incrementally: the aggregator trades recomputation cost
// for correctness, and the short-TTL cache entries in front of it are
// invalidated by the repository cascade.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"planhub/internal/model"
	"planhub/internal/store"
)

// MaxScan bounds how many activities one aggregation will read.
const MaxScan = 10000

// ErrScopeMissing is returned when neither a section nor a planner id
// was supplied.
var ErrScopeMissing = errors.New("statistics scope requires a section or planner id")

// Scope selects whose activities to aggregate. Exactly one id is set.
type Scope struct {
	SectionID string
	PlannerID string
}

// Filters optionally narrows the scanned set.
type Filters struct {
	Status     model.ActivityStatus
	Priority   model.ActivityPriority
	Type       string
	AssigneeID string
	Tag        string
}

type Rollup struct {
	TotalActivities       int                            `json:"totalActivities"`
	ActivitiesByStatus    map[model.ActivityStatus]int   `json:"activitiesByStatus"`
	ActivitiesByPriority  map[model.ActivityPriority]int `json:"activitiesByPriority"`
	ActivitiesByType      map[string]int                 `json:"activitiesByType"`
	CompletionRate        float64                        `json:"completionRate"`
	OverdueCount          int                            `json:"overdueCount"`
	UpcomingCount         int                            `json:"upcomingCount"`
	AverageCompletionTime *float64                       `json:"averageCompletionTime,omitempty"`
	TotalTimeSpent        *int                           `json:"totalTimeSpent,omitempty"`
}

// Lister is the slice of the document-store adapter the aggregator
// reads through.
type Lister interface {
	Query(ctx context.Context, collection string, filters []store.Filter, order *store.OrderBy, limit, offset int) ([]json.RawMessage, error)
}

type Aggregator struct {
	docs Lister
	now  func() time.Time
}

func NewAggregator(docs Lister) *Aggregator {
	return &Aggregator{docs: docs, now: time.Now}
}

// NewAggregatorAt pins the clock; used by tests.
func NewAggregatorAt(docs Lister, now func() time.Time) *Aggregator {
	return &Aggregator{docs: docs, now: now}
}

func (a *Aggregator) Aggregate(ctx context.Context, scope Scope, filters Filters) (*Rollup, error) {
	storeFilters, err := buildFilters(scope, filters)
	if err != nil {
		return nil, err
	}

	raws, err := a.docs.Query(ctx, store.Activities, storeFilters, nil, MaxScan, 0)
	if err != nil {
		return nil, err
	}

	rollup := newRollup()
	now := a.now().UTC()
	upcomingCutoff := now.Add(7 * 24 * time.Hour)

	var completedWithDuration, durationSum int
	for _, raw := range raws {
		var activity model.Activity
		if err := json.Unmarshal(raw, &activity); err != nil {
			return nil, fmt.Errorf("decode activity: %w", err)
		}

		rollup.TotalActivities++
		rollup.ActivitiesByStatus[activity.Status]++
		rollup.ActivitiesByPriority[activity.Priority]++
		if activity.Type != "" {
			rollup.ActivitiesByType[activity.Type]++
		}

		if isOpen(activity.Status) && activity.DueDate != nil {
			if activity.DueDate.Before(now) {
				rollup.OverdueCount++
			} else if !activity.DueDate.After(upcomingCutoff) {
				rollup.UpcomingCount++
			}
		}

		if activity.Status == model.StatusCompleted {
			durationSum += activity.Metadata.ActualDuration
			if activity.Metadata.ActualDuration > 0 {
				completedWithDuration++
			}
		}
	}

	if rollup.TotalActivities > 0 {
		completed := rollup.ActivitiesByStatus[model.StatusCompleted]
		rollup.CompletionRate = float64(completed) / float64(rollup.TotalActivities) * 100
	}
	if completedWithDuration > 0 {
		average := float64(durationSum) / float64(completedWithDuration)
		rollup.AverageCompletionTime = &average
	}
	if durationSum > 0 {
		rollup.TotalTimeSpent = &durationSum
	}
	return rollup, nil
}

func newRollup() *Rollup {
	rollup := &Rollup{
		ActivitiesByStatus:   make(map[model.ActivityStatus]int, len(model.AllStatuses)),
		ActivitiesByPriority: make(map[model.ActivityPriority]int, len(model.AllPriorities)),
		ActivitiesByType:     make(map[string]int),
	}
	// Zero-fill so consumers always see every enum member.
	for _, status := range model.AllStatuses {
		rollup.ActivitiesByStatus[status] = 0
	}
	for _, priority := range model.AllPriorities {
		rollup.ActivitiesByPriority[priority] = 0
	}
	return rollup
}

func isOpen(status model.ActivityStatus) bool {
	return status == model.StatusPending || status == model.StatusInProgress
}

func buildFilters(scope Scope, filters Filters) ([]store.Filter, error) {
	var out []store.Filter
	switch {
	case scope.SectionID != "":
		out = append(out, store.Eq("sectionId", scope.SectionID))
	case scope.PlannerID != "":
		out = append(out, store.Eq("plannerId", scope.PlannerID))
	default:
		return nil, ErrScopeMissing
	}
	if filters.Status != "" {
		out = append(out, store.Eq("status", string(filters.Status)))
	}
	if filters.Priority != "" {
		out = append(out, store.Eq("priority", string(filters.Priority)))
	}
	if filters.Type != "" {
		out = append(out, store.Eq("type", filters.Type))
	}
	if filters.AssigneeID != "" {
		out = append(out, store.Eq("assigneeId", filters.AssigneeID))
	}
	if filters.Tag != "" {
		out = append(out, store.Contains("tags", filters.Tag))
	}
	return out, nil
}
