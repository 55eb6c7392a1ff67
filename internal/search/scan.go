package search

import (
	"context"
	"encoding/json"
	"strings"

	"planhub/internal/model"
	"planhub/internal/store"
)

// scanCap bounds the fallback scan the same way the aggregator bounds
// its reads.
const scanCap = 10000

// Lister is the slice of the document-store adapter the fallback scan
// reads through.
type Lister interface {
	Query(ctx context.Context, collection string, filters []store.Filter, order *store.OrderBy, limit, offset int) ([]json.RawMessage, error)
}

// StoreScan is the fallback Searcher: a case-insensitive substring
// match over the planner's activity documents. Always healthy; the
// facade uses it whenever Meilisearch is absent or down.
type StoreScan struct {
	docs Lister
}

func NewStoreScan(docs Lister) *StoreScan {
	return &StoreScan{docs: docs}
}

func (s *StoreScan) Healthy() bool { return true }

func (s *StoreScan) Search(ctx context.Context, q Query) ([]Result, int, error) {
	filters := []store.Filter{store.Eq("plannerId", q.PlannerID)}
	if q.SectionID != "" {
		filters = append(filters, store.Eq("sectionId", q.SectionID))
	}
	if q.Status != "" {
		filters = append(filters, store.Eq("status", q.Status))
	}

	raws, err := s.docs.Query(ctx, store.Activities, filters, nil, scanCap, 0)
	if err != nil {
		return nil, 0, err
	}

	needle := strings.ToLower(strings.TrimSpace(q.Text))
	matches := make([]Result, 0)
	for _, raw := range raws {
		var activity model.Activity
		if err := json.Unmarshal(raw, &activity); err != nil {
			return nil, 0, err
		}
		if needle != "" && !activityMatches(&activity, needle) {
			continue
		}
		matches = append(matches, Result{
			ID:        activity.ID,
			PlannerID: activity.PlannerID,
			SectionID: activity.SectionID,
			Title:     activity.Title,
			Snippet:   activity.Description,
			Status:    string(activity.Status),
		})
	}

	total := len(matches)
	matches = paginate(matches, q.Limit, q.Offset)
	return matches, total, nil
}

func activityMatches(activity *model.Activity, needle string) bool {
	if strings.Contains(strings.ToLower(activity.Title), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(activity.Description), needle) {
		return true
	}
	for _, tag := range activity.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

func paginate(results []Result, limit, offset int) []Result {
	if offset >= len(results) {
		return []Result{}
	}
	results = results[offset:]
	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}
	return results
}
