package app

import (
	"context"
	"time"

	"planhub/internal/model"
	"planhub/internal/stats"
)

// Suggestion is a lightweight nudge derived from the activity set.
type Suggestion struct {
	ActivityID string `json:"activityId"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
}

// Suggester produces suggestions for a planner's activities. The
// default is a rule set; deployments can plug in something smarter.
type Suggester interface {
	Suggest(activities []model.Activity, now time.Time) []Suggestion
}

type HeuristicSuggester struct{}

func (HeuristicSuggester) Suggest(activities []model.Activity, now time.Time) []Suggestion {
	var out []Suggestion
	for i := range activities {
		a := &activities[i]
		open := a.Status == model.StatusPending || a.Status == model.StatusInProgress
		if !open {
			continue
		}
		switch {
		case a.DueDate != nil && a.DueDate.Before(now):
			out = append(out, Suggestion{
				ActivityID: a.ID,
				Kind:       "overdue",
				Message:    "This activity is past its due date; reschedule or close it.",
			})
		case a.Priority == model.PriorityUrgent && a.Status == model.StatusPending:
			out = append(out, Suggestion{
				ActivityID: a.ID,
				Kind:       "urgent-idle",
				Message:    "Urgent activity has not been started.",
			})
		case a.DueDate == nil:
			out = append(out, Suggestion{
				ActivityID: a.ID,
				Kind:       "no-due-date",
				Message:    "Setting a due date keeps this activity out of the backlog.",
			})
		}
	}
	return out
}

// GetSuggestions scans the planner's activities through the suggester.
func (s *Service) GetSuggestions(ctx context.Context, userID, plannerID string) ([]Suggestion, error) {
	if _, _, err := s.viewPlanner(ctx, plannerID, userID); err != nil {
		return nil, err
	}
	activities, err := s.activities.ListByPlanner(ctx, plannerID, stats.MaxScan)
	if err != nil {
		return nil, asDomainError(err)
	}
	suggestions := s.suggester.Suggest(activities, time.Now().UTC())
	if suggestions == nil {
		suggestions = []Suggestion{}
	}
	return suggestions, nil
}
