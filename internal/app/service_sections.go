package app

import (
	"context"
	"strings"

	"planhub/internal/model"
	"planhub/internal/repo"
)

type CreateSectionInput struct {
	Title    string                `json:"title"`
	Type     string                `json:"type"`
	Settings model.SectionSettings `json:"settings"`
}

// CreateSection appends a section to the planner. Quota is enforced
// against the owner's plan: shared editors consume the owner's
// allowance, not their own.
func (s *Service) CreateSection(ctx context.Context, userID, plannerID string, input CreateSectionInput) (*model.Section, error) {
	planner, _, err := s.editPlanner(ctx, plannerID, userID)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, validation("Title is required", nil)
	}
	owner, err := s.users.GetUser(ctx, planner.OwnerID)
	if err != nil {
		return nil, asDomainError(err)
	}
	if err := s.quota.CheckSectionCreate(ctx, plannerID, owner.Plan); err != nil {
		return nil, asDomainError(err)
	}
	order, err := s.sections.CountByPlanner(ctx, plannerID)
	if err != nil {
		return nil, asDomainError(err)
	}
	section, err := s.sections.Create(ctx, model.Section{
		PlannerID: plannerID,
		Title:     title,
		Type:      input.Type,
		Order:     order,
		Settings:  input.Settings,
	})
	if err != nil {
		return nil, asDomainError(err)
	}
	s.recordAudit(ctx, userID, "section.create", "section", section.ID)
	return section, nil
}

func (s *Service) GetSection(ctx context.Context, userID, sectionID string) (*model.Section, error) {
	section, err := s.sections.Get(ctx, sectionID)
	if err != nil {
		return nil, asDomainError(err)
	}
	if _, _, err := s.viewPlanner(ctx, section.PlannerID, userID); err != nil {
		return nil, err
	}
	return section, nil
}

func (s *Service) ListSections(ctx context.Context, userID, plannerID string) ([]model.Section, error) {
	if _, _, err := s.viewPlanner(ctx, plannerID, userID); err != nil {
		return nil, err
	}
	sections, err := s.sections.ListByPlanner(ctx, plannerID)
	if err != nil {
		return nil, asDomainError(err)
	}
	return sections, nil
}

var sectionFields = map[string]bool{
	"title":    true,
	"type":     true,
	"settings": true,
}

func (s *Service) UpdateSection(ctx context.Context, userID, sectionID string, fields map[string]any) (*model.Section, error) {
	section, err := s.sections.Get(ctx, sectionID)
	if err != nil {
		return nil, asDomainError(err)
	}
	if _, _, err := s.editPlanner(ctx, section.PlannerID, userID); err != nil {
		return nil, err
	}
	if err := checkFields(fields, sectionFields); err != nil {
		return nil, err
	}
	if title, ok := fields["title"]; ok {
		str, _ := title.(string)
		if strings.TrimSpace(str) == "" {
			return nil, validation("Title cannot be empty", nil)
		}
	}
	updated, err := s.sections.Update(ctx, sectionID, fields, section.Version)
	if err != nil {
		return nil, asDomainError(err)
	}
	s.recordAudit(ctx, userID, "section.update", "section", sectionID)
	return updated, nil
}

// DeleteSection removes the section and its activities in one atomic
// batch. The last section of a planner cannot be deleted.
func (s *Service) DeleteSection(ctx context.Context, userID, sectionID string) error {
	section, err := s.sections.Get(ctx, sectionID)
	if err != nil {
		return asDomainError(err)
	}
	if _, _, err := s.editPlanner(ctx, section.PlannerID, userID); err != nil {
		return err
	}
	remaining, err := s.sections.CountByPlanner(ctx, section.PlannerID)
	if err != nil {
		return asDomainError(err)
	}
	if remaining <= 1 {
		return validation("A planner must keep at least one section", nil)
	}
	if err := s.sections.Delete(ctx, sectionID); err != nil {
		return asDomainError(err)
	}
	s.refreshRollups(ctx, section.PlannerID, "")
	s.recordAudit(ctx, userID, "section.delete", "section", sectionID)
	return nil
}

// ReorderSections rewrites section positions under the planner's
// reorder lock.
func (s *Service) ReorderSections(ctx context.Context, userID, plannerID string, items []repo.ReorderItem) error {
	if _, _, err := s.editPlanner(ctx, plannerID, userID); err != nil {
		return err
	}
	if len(items) == 0 {
		return validation("No items to reorder", nil)
	}
	if err := s.coordinator.ReorderSections(ctx, plannerID, items); err != nil {
		return asDomainError(err)
	}
	s.recordAudit(ctx, userID, "section.reorder", "planner", plannerID)
	return nil
}
