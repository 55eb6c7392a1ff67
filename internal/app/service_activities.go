package app

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"planhub/internal/model"
	"planhub/internal/repo"
	"planhub/internal/search"
	"planhub/internal/stats"
)

type CreateActivityInput struct {
	Title             string                 `json:"title"`
	Description       string                 `json:"description"`
	Type              string                 `json:"type"`
	Status            model.ActivityStatus   `json:"status"`
	Priority          model.ActivityPriority `json:"priority"`
	DueDate           *time.Time             `json:"dueDate"`
	Tags              []string               `json:"tags"`
	Dependencies      []string               `json:"dependencies"`
	AssigneeID        string                 `json:"assigneeId"`
	EstimatedDuration int                    `json:"estimatedDuration"`
}

func (s *Service) CreateActivity(ctx context.Context, userID, sectionID string, input CreateActivityInput) (*model.Activity, error) {
	section, err := s.sections.Get(ctx, sectionID)
	if err != nil {
		return nil, asDomainError(err)
	}
	planner, _, err := s.editPlanner(ctx, section.PlannerID, userID)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, validation("Title is required", nil)
	}
	status := input.Status
	if status == "" {
		status = model.StatusPending
	}
	if !model.ValidStatus(status) {
		return nil, validation("Invalid status", map[string]any{"status": status})
	}
	priority := input.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}
	if !model.ValidPriority(priority) {
		return nil, validation("Invalid priority", map[string]any{"priority": priority})
	}
	owner, err := s.users.GetUser(ctx, planner.OwnerID)
	if err != nil {
		return nil, asDomainError(err)
	}
	if err := s.quota.CheckActivityCreate(ctx, section, owner.Plan); err != nil {
		return nil, asDomainError(err)
	}
	if err := s.checkDependencies(ctx, planner.ID, "", input.Dependencies); err != nil {
		return nil, err
	}
	order, err := s.activities.CountBySection(ctx, sectionID)
	if err != nil {
		return nil, asDomainError(err)
	}
	var completedAt *time.Time
	if status == model.StatusCompleted {
		now := time.Now().UTC()
		completedAt = &now
	}
	activity, err := s.activities.Create(ctx, model.Activity{
		SectionID:    sectionID,
		PlannerID:    planner.ID,
		Title:        title,
		Description:  input.Description,
		Type:         input.Type,
		Status:       status,
		Priority:     priority,
		DueDate:      input.DueDate,
		CompletedAt:  completedAt,
		Tags:         input.Tags,
		Dependencies: input.Dependencies,
		AssigneeID:   input.AssigneeID,
		Order:        order,
		Metadata:     model.ActivityMetadata{EstimatedDuration: input.EstimatedDuration},
	})
	if err != nil {
		return nil, asDomainError(err)
	}
	s.refreshRollups(ctx, planner.ID, sectionID)
	s.indexActivity(activity)
	s.recordAudit(ctx, userID, "activity.create", "activity", activity.ID)
	return activity, nil
}

func (s *Service) GetActivity(ctx context.Context, userID, activityID string) (*model.Activity, error) {
	activity, err := s.activities.Get(ctx, activityID)
	if err != nil {
		return nil, asDomainError(err)
	}
	if _, _, err := s.viewPlanner(ctx, activity.PlannerID, userID); err != nil {
		return nil, err
	}
	return activity, nil
}

func (s *Service) ListActivities(ctx context.Context, userID, sectionID string) ([]model.Activity, error) {
	section, err := s.sections.Get(ctx, sectionID)
	if err != nil {
		return nil, asDomainError(err)
	}
	if _, _, err := s.viewPlanner(ctx, section.PlannerID, userID); err != nil {
		return nil, err
	}
	activities, err := s.activities.ListBySection(ctx, sectionID)
	if err != nil {
		return nil, asDomainError(err)
	}
	return activities, nil
}

var activityFields = map[string]bool{
	"title":        true,
	"description":  true,
	"type":         true,
	"status":       true,
	"priority":     true,
	"dueDate":      true,
	"tags":         true,
	"dependencies": true,
	"assigneeId":   true,
	"sectionId":    true,
}

// UpdateActivity applies a partial update. Status drives completedAt:
// it is stamped when the activity becomes completed and cleared when it
// leaves that state. A sectionId field moves the activity; the target
// must belong to the same planner.
func (s *Service) UpdateActivity(ctx context.Context, userID, activityID string, fields map[string]any) (*model.Activity, error) {
	activity, err := s.activities.Get(ctx, activityID)
	if err != nil {
		return nil, asDomainError(err)
	}
	if _, _, err := s.editPlanner(ctx, activity.PlannerID, userID); err != nil {
		return nil, err
	}
	if err := s.prepareActivityFields(ctx, activity, fields); err != nil {
		return nil, err
	}
	oldSection := activity.SectionID
	updated, err := s.activities.Update(ctx, activityID, fields, activity.Version)
	if err != nil {
		return nil, asDomainError(err)
	}
	if updated.SectionID != oldSection {
		// The repo invalidated the new section's keys; the source
		// section's list and stats are stale too.
		s.cascade.Invalidate(ctx, repo.KindActivity, activityID, repo.Scope{
			PlannerID: updated.PlannerID,
			SectionID: oldSection,
		})
		s.refreshRollups(ctx, updated.PlannerID, oldSection)
	}
	s.refreshRollups(ctx, updated.PlannerID, updated.SectionID)
	s.indexActivity(updated)
	s.recordAudit(ctx, userID, "activity.update", "activity", activityID)
	return updated, nil
}

// prepareActivityFields validates a partial update in place, deriving
// completedAt from status and resolving a section move.
func (s *Service) prepareActivityFields(ctx context.Context, activity *model.Activity, fields map[string]any) error {
	if err := checkFields(fields, activityFields); err != nil {
		return err
	}
	if raw, ok := fields["title"]; ok {
		str, _ := raw.(string)
		if strings.TrimSpace(str) == "" {
			return validation("Title cannot be empty", nil)
		}
	}
	if raw, ok := fields["status"]; ok {
		str, _ := raw.(string)
		status := model.ActivityStatus(str)
		if !model.ValidStatus(status) {
			return validation("Invalid status", map[string]any{"status": str})
		}
		switch {
		case status == model.StatusCompleted && activity.Status != model.StatusCompleted:
			fields["completedAt"] = time.Now().UTC()
		case status != model.StatusCompleted:
			fields["completedAt"] = nil
		}
	}
	if raw, ok := fields["priority"]; ok {
		str, _ := raw.(string)
		if !model.ValidPriority(model.ActivityPriority(str)) {
			return validation("Invalid priority", map[string]any{"priority": str})
		}
	}
	if raw, ok := fields["dependencies"]; ok {
		deps, err := stringSlice(raw)
		if err != nil {
			return validation("Dependencies must be a list of activity ids", nil)
		}
		if err := s.checkDependencies(ctx, activity.PlannerID, activity.ID, deps); err != nil {
			return err
		}
		fields["dependencies"] = deps
	}
	if raw, ok := fields["sectionId"]; ok {
		targetID, _ := raw.(string)
		if targetID == "" {
			return validation("Target section id is required", nil)
		}
		if targetID != activity.SectionID {
			target, err := s.sections.Get(ctx, targetID)
			if err != nil {
				return asDomainError(err)
			}
			if target.PlannerID != activity.PlannerID {
				return validation("Target section belongs to a different planner", nil)
			}
			order, err := s.activities.CountBySection(ctx, targetID)
			if err != nil {
				return asDomainError(err)
			}
			fields["order"] = order
		}
	}
	return nil
}

func (s *Service) DeleteActivity(ctx context.Context, userID, activityID string) error {
	activity, err := s.activities.Get(ctx, activityID)
	if err != nil {
		return asDomainError(err)
	}
	if _, _, err := s.editPlanner(ctx, activity.PlannerID, userID); err != nil {
		return err
	}
	deleted, err := s.activities.Delete(ctx, activityID)
	if err != nil {
		return asDomainError(err)
	}
	s.refreshRollups(ctx, deleted.PlannerID, deleted.SectionID)
	if s.search != nil {
		s.search.DeleteActivity(activityID)
	}
	s.recordAudit(ctx, userID, "activity.delete", "activity", activityID)
	return nil
}

// ReorderActivities rewrites positions within one section under the
// section's reorder lock, so two concurrent reorders serialize instead
// of interleaving.
func (s *Service) ReorderActivities(ctx context.Context, userID, sectionID string, items []repo.ReorderItem) error {
	section, err := s.sections.Get(ctx, sectionID)
	if err != nil {
		return asDomainError(err)
	}
	if _, _, err := s.editPlanner(ctx, section.PlannerID, userID); err != nil {
		return err
	}
	if len(items) == 0 {
		return validation("No items to reorder", nil)
	}
	if err := s.coordinator.ReorderActivities(ctx, sectionID, items); err != nil {
		return asDomainError(err)
	}
	s.recordAudit(ctx, userID, "activity.reorder", "section", sectionID)
	return nil
}

var bulkActivityFields = map[string]bool{
	"status":     true,
	"priority":   true,
	"tags":       true,
	"assigneeId": true,
	"dueDate":    true,
}

// BulkUpdateActivities applies one partial update to many activities in
// a single atomic batch. All targets must live in the same planner so
// access resolves once.
func (s *Service) BulkUpdateActivities(ctx context.Context, userID string, ids []string, fields map[string]any) error {
	_, plannerID, err := s.loadBulkTargets(ctx, userID, ids)
	if err != nil {
		return err
	}
	if err := checkFields(fields, bulkActivityFields); err != nil {
		return err
	}
	if raw, ok := fields["status"]; ok {
		str, _ := raw.(string)
		status := model.ActivityStatus(str)
		if !model.ValidStatus(status) {
			return validation("Invalid status", map[string]any{"status": str})
		}
		if status == model.StatusCompleted {
			fields["completedAt"] = time.Now().UTC()
		} else {
			fields["completedAt"] = nil
		}
	}
	if raw, ok := fields["priority"]; ok {
		str, _ := raw.(string)
		if !model.ValidPriority(model.ActivityPriority(str)) {
			return validation("Invalid priority", map[string]any{"priority": str})
		}
	}
	scopes, err := s.coordinator.BulkUpdateActivities(ctx, ids, fields)
	if err != nil {
		return asDomainError(err)
	}
	for _, scope := range scopes {
		s.refreshRollups(ctx, scope.PlannerID, scope.SectionID)
	}
	s.reindexActivities(ctx, ids)
	s.recordAudit(ctx, userID, "activity.bulk-update", "planner", plannerID)
	return nil
}

// BulkDeleteActivities removes many activities atomically.
func (s *Service) BulkDeleteActivities(ctx context.Context, userID string, ids []string) error {
	_, plannerID, err := s.loadBulkTargets(ctx, userID, ids)
	if err != nil {
		return err
	}
	scopes, err := s.coordinator.BulkDeleteActivities(ctx, ids)
	if err != nil {
		return asDomainError(err)
	}
	for _, scope := range scopes {
		s.refreshRollups(ctx, scope.PlannerID, scope.SectionID)
	}
	if s.search != nil {
		for _, id := range ids {
			s.search.DeleteActivity(id)
		}
	}
	s.recordAudit(ctx, userID, "activity.bulk-delete", "planner", plannerID)
	return nil
}

// loadBulkTargets fetches the named activities, requires them to share
// one planner, and resolves edit access on it.
func (s *Service) loadBulkTargets(ctx context.Context, userID string, ids []string) ([]model.Activity, string, error) {
	if len(ids) == 0 {
		return nil, "", validation("No activity ids given", nil)
	}
	activities, err := s.activities.FindByIDs(ctx, ids)
	if err != nil {
		return nil, "", asDomainError(err)
	}
	plannerID := activities[0].PlannerID
	for i := range activities {
		if activities[i].PlannerID != plannerID {
			return nil, "", validation("Activities span multiple planners", nil)
		}
	}
	if _, _, err := s.editPlanner(ctx, plannerID, userID); err != nil {
		return nil, "", err
	}
	return activities, plannerID, nil
}

// checkDependencies verifies each dependency names an existing activity
// in the same planner and that adding them keeps the dependency graph
// acyclic. selfID is empty on create.
func (s *Service) checkDependencies(ctx context.Context, plannerID, selfID string, deps []string) error {
	if len(deps) == 0 {
		return nil
	}
	all, err := s.activities.ListByPlanner(ctx, plannerID, stats.MaxScan)
	if err != nil {
		return asDomainError(err)
	}
	graph := make(map[string][]string, len(all))
	for i := range all {
		graph[all[i].ID] = all[i].Dependencies
	}
	for _, dep := range deps {
		if dep == selfID {
			return validation("An activity cannot depend on itself", nil)
		}
		if _, ok := graph[dep]; !ok {
			return validation("Dependency not found in planner", map[string]any{"dependency": dep})
		}
	}
	if selfID != "" {
		graph[selfID] = deps
		if reachesTarget(graph, deps, selfID) {
			return validation("Dependencies would form a cycle", nil)
		}
	}
	return nil
}

// reachesTarget walks the dependency edges from the given starting set
// and reports whether target is reachable.
func reachesTarget(graph map[string][]string, from []string, target string) bool {
	seen := make(map[string]bool)
	stack := append([]string(nil), from...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == target {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		stack = append(stack, graph[id]...)
	}
	return false
}

// GetStatistics aggregates over one section or one planner. Unfiltered
// results are served from the stats cache key; filtered requests go to
// the store every time because the key space would be unbounded.
func (s *Service) GetStatistics(ctx context.Context, userID string, scope stats.Scope, filters stats.Filters) (*stats.Rollup, error) {
	plannerID := scope.PlannerID
	var cacheKey string
	if scope.SectionID != "" {
		section, err := s.sections.Get(ctx, scope.SectionID)
		if err != nil {
			return nil, asDomainError(err)
		}
		plannerID = section.PlannerID
		cacheKey = repo.SectionStatsKey(scope.SectionID)
	} else if plannerID != "" {
		cacheKey = repo.PlannerStatsKey(plannerID)
	} else {
		return nil, validation("A section or planner id is required", nil)
	}
	if _, _, err := s.viewPlanner(ctx, plannerID, userID); err != nil {
		return nil, err
	}
	cacheable := filters == (stats.Filters{}) && s.cache != nil
	if cacheable {
		var cached stats.Rollup
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}
	rollup, err := s.stats.Aggregate(ctx, scope, filters)
	if err != nil {
		return nil, asDomainError(err)
	}
	if cacheable {
		if err := s.cache.Set(ctx, cacheKey, rollup, s.ttl.Stats); err != nil {
			log.Printf("cache set %s failed: %v", cacheKey, err)
		}
	}
	return rollup, nil
}

// SearchActivities queries the search backend, scoped to a planner the
// caller can view.
func (s *Service) SearchActivities(ctx context.Context, userID string, q search.Query) (*search.Response, error) {
	if q.PlannerID == "" {
		return nil, validation("A planner id is required", nil)
	}
	if s.search == nil {
		return nil, &DomainError{Status: 503, Code: "SEARCH_UNAVAILABLE", Message: "Search is not configured"}
	}
	if _, _, err := s.viewPlanner(ctx, q.PlannerID, userID); err != nil {
		return nil, err
	}
	resp := s.search.Search(ctx, q)
	return &resp, nil
}

func (s *Service) indexActivity(activity *model.Activity) {
	if s.search == nil || activity == nil {
		return
	}
	s.search.IndexActivity(search.ActivityRecord{
		ID:          activity.ID,
		PlannerID:   activity.PlannerID,
		SectionID:   activity.SectionID,
		Title:       activity.Title,
		Description: activity.Description,
		Status:      string(activity.Status),
		Type:        activity.Type,
		Tags:        activity.Tags,
	})
}

func (s *Service) reindexActivities(ctx context.Context, ids []string) {
	if s.search == nil {
		return
	}
	updated, err := s.activities.FindByIDs(ctx, ids)
	if err != nil {
		log.Printf("reindex after bulk update: %v", err)
		return
	}
	for i := range updated {
		s.indexActivity(&updated[i])
	}
}

var errNotStrings = errors.New("expected a list of strings")

func stringSlice(raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, errNotStrings
			}
			out = append(out, str)
		}
		return out, nil
	case nil:
		return nil, nil
	default:
		return nil, errNotStrings
	}
}
