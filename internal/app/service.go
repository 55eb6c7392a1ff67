// Package app orchestrates the planning hierarchy: it resolves access,
// enforces quotas, drives the repositories, and maps every failure onto
// the error taxonomy the HTTP layer serializes. Handlers stay thin;
// everything that constitutes a rule lives here.
package app

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"planhub/internal/access"
	"planhub/internal/authpw"
	"planhub/internal/blob"
	"planhub/internal/cache"
	"planhub/internal/model"
	"planhub/internal/quota"
	"planhub/internal/repo"
	"planhub/internal/search"
	"planhub/internal/stats"
	"planhub/internal/store"
)

// Deps enumerates every collaborator the service needs. Construction is
// explicit: nothing is reached through globals, so tests can hand in
// fakes for exactly the pieces they exercise. Search and Blob may be
// nil; the matching endpoints then report the feature as unavailable.
type Deps struct {
	Docs        repo.Store
	Cache       *cache.Cache
	Planners    *repo.PlannerRepo
	Sections    *repo.SectionRepo
	Activities  *repo.ActivityRepo
	TimeEntries *repo.TimeEntryRepo
	Coordinator *repo.Coordinator
	Cascade     *repo.Cascade
	Quota       *quota.Enforcer
	Stats       *stats.Aggregator
	Users       *authpw.Service
	Search      *search.Service
	Blob        *blob.Store
	Audit       AuditLogger
	Suggester   Suggester
	Exporter    Exporter
	TTL         repo.TTLs
}

type Service struct {
	docs        repo.Store
	cache       *cache.Cache
	planners    *repo.PlannerRepo
	sections    *repo.SectionRepo
	activities  *repo.ActivityRepo
	timeEntries *repo.TimeEntryRepo
	coordinator *repo.Coordinator
	cascade     *repo.Cascade
	quota       *quota.Enforcer
	stats       *stats.Aggregator
	users       *authpw.Service
	search      *search.Service
	blob        *blob.Store
	audit       AuditLogger
	suggester   Suggester
	exporter    Exporter
	ttl         repo.TTLs
}

func NewService(d Deps) *Service {
	if d.Audit == nil {
		d.Audit = LogAuditor{}
	}
	if d.Suggester == nil {
		d.Suggester = HeuristicSuggester{}
	}
	return &Service{
		docs:        d.Docs,
		cache:       d.Cache,
		planners:    d.Planners,
		sections:    d.Sections,
		activities:  d.Activities,
		timeEntries: d.TimeEntries,
		coordinator: d.Coordinator,
		cascade:     d.Cascade,
		quota:       d.Quota,
		stats:       d.Stats,
		users:       d.Users,
		search:      d.Search,
		blob:        d.Blob,
		audit:       d.Audit,
		suggester:   d.Suggester,
		exporter:    d.Exporter,
		ttl:         d.TTL,
	}
}

// viewPlanner resolves read access. Reads may see a cached planner:
// a collaborator change propagates within the entity TTL, which is
// acceptable for viewing but never for writing.
func (s *Service) viewPlanner(ctx context.Context, plannerID, userID string) (*model.Planner, access.Capabilities, error) {
	planner, err := s.planners.Get(ctx, plannerID)
	if err != nil {
		return nil, access.Capabilities{}, asDomainError(err)
	}
	caps := access.Resolve(planner, userID)
	if !caps.CanView {
		return nil, access.Capabilities{}, forbidden()
	}
	return planner, caps, nil
}

// editPlanner resolves write access against the stored planner, never
// the cache, so a revoked collaborator loses write access immediately.
func (s *Service) editPlanner(ctx context.Context, plannerID, userID string) (*model.Planner, access.Capabilities, error) {
	planner, err := s.planners.GetFresh(ctx, plannerID)
	if err != nil {
		return nil, access.Capabilities{}, asDomainError(err)
	}
	caps := access.Resolve(planner, userID)
	if !caps.CanEdit {
		return nil, access.Capabilities{}, forbidden()
	}
	return planner, caps, nil
}

func (s *Service) recordAudit(ctx context.Context, userID, action, entity, entityID string) {
	s.audit.Record(ctx, AuditEntry{
		Time:     time.Now().UTC(),
		UserID:   userID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
	})
}

type CreatePlannerInput struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	IsPublic           bool     `json:"isPublic"`
	AllowCollaborators bool     `json:"allowCollaborators"`
	Tags               []string `json:"tags"`
}

// CreatePlanner checks the caller's plan quota, persists the planner,
// and seeds it with one default section so the hierarchy invariant
// holds from the first read.
func (s *Service) CreatePlanner(ctx context.Context, userID string, input CreatePlannerInput) (*model.Planner, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, validation("Title is required", nil)
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, asDomainError(err)
	}
	if err := s.quota.CheckPlannerCreate(ctx, userID, user.Plan); err != nil {
		return nil, asDomainError(err)
	}
	planner, err := s.planners.Create(ctx, model.Planner{
		OwnerID:            userID,
		Title:              title,
		Description:        input.Description,
		IsPublic:           input.IsPublic,
		AllowCollaborators: input.AllowCollaborators,
		Tags:               input.Tags,
	})
	if err != nil {
		return nil, asDomainError(err)
	}
	if _, err := s.sections.Create(ctx, model.Section{
		PlannerID: planner.ID,
		Title:     "General",
		Order:     0,
		Settings:  model.SectionSettings{IsVisible: true},
	}); err != nil {
		return nil, asDomainError(err)
	}
	s.recordAudit(ctx, userID, "planner.create", "planner", planner.ID)
	return planner, nil
}

func (s *Service) GetPlanner(ctx context.Context, userID, plannerID string) (*model.Planner, access.Capabilities, error) {
	return s.viewPlanner(ctx, plannerID, userID)
}

// PlannerList is the dashboard payload: planners the user owns plus
// those shared with them.
type PlannerList struct {
	Owned  []model.Planner `json:"owned"`
	Shared []model.Planner `json:"shared"`
}

func (s *Service) ListPlanners(ctx context.Context, userID string) (*PlannerList, error) {
	owned, err := s.planners.ListByOwner(ctx, userID)
	if err != nil {
		return nil, asDomainError(err)
	}
	shared, err := s.planners.ListSharedWith(ctx, userID)
	if err != nil {
		return nil, asDomainError(err)
	}
	return &PlannerList{Owned: owned, Shared: shared}, nil
}

var plannerFields = map[string]bool{
	"title":              true,
	"description":        true,
	"isPublic":           true,
	"allowCollaborators": true,
	"tags":               true,
}

func (s *Service) UpdatePlanner(ctx context.Context, userID, plannerID string, fields map[string]any) (*model.Planner, error) {
	planner, _, err := s.editPlanner(ctx, plannerID, userID)
	if err != nil {
		return nil, err
	}
	if err := checkFields(fields, plannerFields); err != nil {
		return nil, err
	}
	if title, ok := fields["title"]; ok {
		str, _ := title.(string)
		if strings.TrimSpace(str) == "" {
			return nil, validation("Title cannot be empty", nil)
		}
	}
	updated, err := s.planners.Update(ctx, plannerID, fields, planner.Version)
	if err != nil {
		return nil, asDomainError(err)
	}
	s.recordAudit(ctx, userID, "planner.update", "planner", plannerID)
	return updated, nil
}

// ArchivePlanner stamps the planner as archived. Owner only.
func (s *Service) ArchivePlanner(ctx context.Context, userID, plannerID string) (*model.Planner, error) {
	planner, err := s.planners.GetFresh(ctx, plannerID)
	if err != nil {
		return nil, asDomainError(err)
	}
	caps := access.Resolve(planner, userID)
	if !caps.CanArchive {
		return nil, forbidden()
	}
	if planner.ArchivedAt != nil {
		return nil, validation("Planner is already archived", nil)
	}
	now := time.Now().UTC()
	updated, err := s.planners.Update(ctx, plannerID, map[string]any{"archivedAt": now}, planner.Version)
	if err != nil {
		return nil, asDomainError(err)
	}
	s.recordAudit(ctx, userID, "planner.archive", "planner", plannerID)
	return updated, nil
}

// DeletePlanner removes the planner and everything under it. Each
// section carries its activities down in one atomic batch; the planner
// document goes last so a crash mid-way leaves an empty planner rather
// than orphaned children.
func (s *Service) DeletePlanner(ctx context.Context, userID, plannerID string) error {
	planner, err := s.planners.GetFresh(ctx, plannerID)
	if err != nil {
		return asDomainError(err)
	}
	caps := access.Resolve(planner, userID)
	if !caps.CanDelete {
		return forbidden()
	}
	sections, err := s.sections.ListByPlanner(ctx, plannerID)
	if err != nil {
		return asDomainError(err)
	}
	for i := range sections {
		if err := s.sections.Delete(ctx, sections[i].ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return asDomainError(err)
		}
	}
	if err := s.planners.Delete(ctx, plannerID); err != nil {
		return asDomainError(err)
	}
	s.recordAudit(ctx, userID, "planner.delete", "planner", plannerID)
	return nil
}

// AddCollaborator grants or changes a role on the planner. The owner is
// never listed as a collaborator and a user holds at most one record.
func (s *Service) AddCollaborator(ctx context.Context, userID, plannerID, targetID string, role model.Role) (*model.Planner, error) {
	planner, err := s.planners.GetFresh(ctx, plannerID)
	if err != nil {
		return nil, asDomainError(err)
	}
	caps := access.Resolve(planner, userID)
	if !caps.CanManageCollaborators {
		return nil, forbidden()
	}
	if !planner.AllowCollaborators {
		return nil, validation("Planner does not allow collaborators", nil)
	}
	if !model.ValidRole(role) {
		return nil, validation("Invalid role", map[string]any{"role": role})
	}
	if targetID == planner.OwnerID {
		return nil, validation("The owner cannot be added as a collaborator", nil)
	}
	if _, err := s.users.GetUser(ctx, targetID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound("User not found")
		}
		return nil, asDomainError(err)
	}
	now := time.Now().UTC()
	collaborators := make([]model.Collaborator, 0, len(planner.Collaborators)+1)
	replaced := false
	for _, c := range planner.Collaborators {
		if c.UserID == targetID {
			c.Role = role
			replaced = true
		}
		collaborators = append(collaborators, c)
	}
	if !replaced {
		collaborators = append(collaborators, model.Collaborator{
			UserID:  targetID,
			Role:    role,
			AddedAt: now,
			AddedBy: userID,
		})
	}
	updated, err := s.planners.Update(ctx, plannerID, map[string]any{"collaborators": collaborators}, planner.Version)
	if err != nil {
		return nil, asDomainError(err)
	}
	s.recordAudit(ctx, userID, "planner.collaborator.add", "planner", plannerID)
	return updated, nil
}

// RemoveCollaborator revokes a collaborator. A collaborator may always
// remove themselves.
func (s *Service) RemoveCollaborator(ctx context.Context, userID, plannerID, targetID string) (*model.Planner, error) {
	planner, err := s.planners.GetFresh(ctx, plannerID)
	if err != nil {
		return nil, asDomainError(err)
	}
	caps := access.Resolve(planner, userID)
	if !caps.CanManageCollaborators && userID != targetID {
		return nil, forbidden()
	}
	collaborators := make([]model.Collaborator, 0, len(planner.Collaborators))
	found := false
	for _, c := range planner.Collaborators {
		if c.UserID == targetID {
			found = true
			continue
		}
		collaborators = append(collaborators, c)
	}
	if !found {
		return nil, notFound("Collaborator not found")
	}
	updated, err := s.planners.Update(ctx, plannerID, map[string]any{"collaborators": collaborators}, planner.Version)
	if err != nil {
		return nil, asDomainError(err)
	}
	s.recordAudit(ctx, userID, "planner.collaborator.remove", "planner", plannerID)
	return updated, nil
}

// checkFields rejects partial updates naming fields outside the
// whitelist, so callers can never smuggle writes to version, metadata,
// or ownership through the generic update path.
func checkFields(fields map[string]any, allowed map[string]bool) error {
	if len(fields) == 0 {
		return validation("No fields to update", nil)
	}
	var unknown []string
	for name := range fields {
		if !allowed[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return validation("Unknown fields", map[string]any{"fields": unknown})
	}
	return nil
}

// refreshRollups recomputes the derived counters on the section and its
// planner. Rollups are derived data; failures are logged, never
// surfaced, and the next mutation repairs them.
func (s *Service) refreshRollups(ctx context.Context, plannerID, sectionID string) {
	now := time.Now().UTC()
	if sectionID != "" {
		total, err := s.docs.Count(ctx, store.Activities, []store.Filter{store.Eq("sectionId", sectionID)})
		if err != nil {
			log.Printf("rollup: count section %s: %v", sectionID, err)
			return
		}
		completed, err := s.docs.Count(ctx, store.Activities, []store.Filter{
			store.Eq("sectionId", sectionID),
			store.Eq("status", string(model.StatusCompleted)),
		})
		if err != nil {
			log.Printf("rollup: count section %s: %v", sectionID, err)
			return
		}
		if err := s.sections.RefreshMetadata(ctx, sectionID, plannerID, model.SectionMetadata{
			TotalActivities:     total,
			CompletedActivities: completed,
			LastActivityAt:      &now,
		}); err != nil {
			log.Printf("rollup: refresh section %s: %v", sectionID, err)
		}
	}
	total, err := s.docs.Count(ctx, store.Activities, []store.Filter{store.Eq("plannerId", plannerID)})
	if err != nil {
		log.Printf("rollup: count planner %s: %v", plannerID, err)
		return
	}
	completed, err := s.docs.Count(ctx, store.Activities, []store.Filter{
		store.Eq("plannerId", plannerID),
		store.Eq("status", string(model.StatusCompleted)),
	})
	if err != nil {
		log.Printf("rollup: count planner %s: %v", plannerID, err)
		return
	}
	if err := s.planners.RefreshMetadata(ctx, plannerID, model.PlannerMetadata{
		TotalActivities:     total,
		CompletedActivities: completed,
		LastActivityAt:      &now,
	}); err != nil {
		log.Printf("rollup: refresh planner %s: %v", plannerID, err)
	}
}
