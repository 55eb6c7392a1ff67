package app

import (
	"context"
	"errors"
	"time"

	"planhub/internal/model"
	"planhub/internal/store"
)

// StartTimeEntry begins tracking time on an activity. A user holds at
// most one running entry across all activities.
func (s *Service) StartTimeEntry(ctx context.Context, userID, activityID string) (*model.TimeEntry, error) {
	activity, err := s.activities.Get(ctx, activityID)
	if err != nil {
		return nil, asDomainError(err)
	}
	if _, _, err := s.viewPlanner(ctx, activity.PlannerID, userID); err != nil {
		return nil, err
	}
	active, err := s.timeEntries.ActiveForUser(ctx, userID)
	if err != nil {
		return nil, asDomainError(err)
	}
	if active != nil {
		return nil, validation("An active time entry already exists", map[string]any{"timeEntryId": active.ID})
	}
	entry, err := s.timeEntries.Create(ctx, model.TimeEntry{
		ActivityID: activityID,
		UserID:     userID,
		StartTime:  time.Now().UTC(),
	})
	if err != nil {
		return nil, asDomainError(err)
	}
	s.recordAudit(ctx, userID, "time.start", "timeEntry", entry.ID)
	return entry, nil
}

// StopTimeEntry ends the entry, computes its duration, and folds the
// minutes into the activity's actual duration.
func (s *Service) StopTimeEntry(ctx context.Context, userID, entryID string) (*model.TimeEntry, error) {
	entry, err := s.timeEntries.Get(ctx, entryID)
	if err != nil {
		return nil, asDomainError(err)
	}
	if entry.UserID != userID {
		return nil, forbidden()
	}
	if entry.EndTime != nil {
		return nil, validation("Time entry is already stopped", nil)
	}
	stopped, err := s.timeEntries.Stop(ctx, entryID, entry.Version)
	if err != nil {
		return nil, asDomainError(err)
	}
	activity, err := s.activities.Get(ctx, stopped.ActivityID)
	if err != nil {
		// The entry is stopped either way; a vanished activity only
		// loses the duration rollup.
		if errors.Is(err, store.ErrNotFound) {
			return stopped, nil
		}
		return nil, asDomainError(err)
	}
	metadata := activity.Metadata
	metadata.ActualDuration += stopped.Duration
	if _, err := s.activities.Update(ctx, activity.ID, map[string]any{"metadata": metadata}, activity.Version); err != nil {
		return nil, asDomainError(err)
	}
	s.recordAudit(ctx, userID, "time.stop", "timeEntry", entryID)
	return stopped, nil
}

func (s *Service) ListTimeEntries(ctx context.Context, userID, activityID string) ([]model.TimeEntry, error) {
	activity, err := s.activities.Get(ctx, activityID)
	if err != nil {
		return nil, asDomainError(err)
	}
	if _, _, err := s.viewPlanner(ctx, activity.PlannerID, userID); err != nil {
		return nil, err
	}
	entries, err := s.timeEntries.ListByActivity(ctx, activityID)
	if err != nil {
		return nil, asDomainError(err)
	}
	return entries, nil
}
