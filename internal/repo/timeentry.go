package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"planhub/internal/model"
	"planhub/internal/store"
	"planhub/internal/util"
)

// TimeEntryRepo persists per-user activity timers. Entries are queried
// rarely and never drive aggregate views, so they bypass the cache.
type TimeEntryRepo struct {
	docs Store
}

func NewTimeEntryRepo(docs Store) *TimeEntryRepo {
	return &TimeEntryRepo{docs: docs}
}

func decodeTimeEntry(raw json.RawMessage) (*model.TimeEntry, error) {
	var entry model.TimeEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode time entry: %w", err)
	}
	return &entry, nil
}

func (r *TimeEntryRepo) Get(ctx context.Context, id string) (*model.TimeEntry, error) {
	raw, err := r.docs.Get(ctx, store.TimeEntries, id)
	if err != nil {
		return nil, err
	}
	return decodeTimeEntry(raw)
}

// ActiveForUser returns the user's running entry (endTime unset), or
// nil. The invariant "at most one active entry per user" is enforced by
// the service before Create.
func (r *TimeEntryRepo) ActiveForUser(ctx context.Context, userID string) (*model.TimeEntry, error) {
	raws, err := r.docs.Query(ctx, store.TimeEntries,
		[]store.Filter{store.Eq("userId", userID), store.Eq("endTime", nil)},
		nil, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(raws) == 0 {
		return nil, nil
	}
	return decodeTimeEntry(raws[0])
}

func (r *TimeEntryRepo) ListByActivity(ctx context.Context, activityID string) ([]model.TimeEntry, error) {
	raws, err := r.docs.Query(ctx, store.TimeEntries,
		[]store.Filter{store.Eq("activityId", activityID)},
		&store.OrderBy{Field: "startTime"}, 0, 0)
	if err != nil {
		return nil, err
	}
	entries := make([]model.TimeEntry, 0, len(raws))
	for _, raw := range raws {
		entry, err := decodeTimeEntry(raw)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

func (r *TimeEntryRepo) Create(ctx context.Context, entry model.TimeEntry) (*model.TimeEntry, error) {
	now := time.Now().UTC()
	if entry.ID == "" {
		entry.ID = util.NewID("te")
	}
	if entry.StartTime.IsZero() {
		entry.StartTime = now
	}
	entry.CreatedAt = now
	entry.UpdatedAt = now
	entry.Version = 1
	if err := r.docs.Set(ctx, store.TimeEntries, entry.ID, entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Stop closes the entry and records the elapsed duration in minutes.
func (r *TimeEntryRepo) Stop(ctx context.Context, id string, expectedVersion int64) (*model.TimeEntry, error) {
	entry, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	duration := int(now.Sub(entry.StartTime).Minutes())
	fields := map[string]any{
		"endTime":   now,
		"duration":  duration,
		"version":   expectedVersion + 1,
		"updatedAt": now,
	}
	if err := r.docs.UpdateVersioned(ctx, store.TimeEntries, id, fields, expectedVersion); err != nil {
		return nil, err
	}
	raw, err := r.docs.Get(ctx, store.TimeEntries, id)
	if err != nil {
		return nil, err
	}
	return decodeTimeEntry(raw)
}
