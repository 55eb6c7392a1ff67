package app

import (
	"context"
	"net/http"

	"planhub/internal/model"
)

// Export is a planner snapshot handed to an Exporter: the planner with
// its full section and activity tree, resolved in one pass.
type Export struct {
	Planner    model.Planner    `json:"planner"`
	Sections   []model.Section  `json:"sections"`
	Activities []model.Activity `json:"activities"`
}

// Exporter serializes a planner snapshot into some external format. No
// serializer ships with the core; deployments wire their own.
type Exporter interface {
	Export(ctx context.Context, snapshot Export) ([]byte, string, error) // bytes, content type
}

// ExportPlanner assembles the snapshot and runs the configured
// exporter.
func (s *Service) ExportPlanner(ctx context.Context, userID, plannerID string) ([]byte, string, error) {
	if s.exporter == nil {
		return nil, "", &DomainError{
			Status:  http.StatusServiceUnavailable,
			Code:    "EXPORT_DISABLED",
			Message: "No exporter is configured",
		}
	}
	planner, _, err := s.viewPlanner(ctx, plannerID, userID)
	if err != nil {
		return nil, "", err
	}
	sections, err := s.sections.ListByPlanner(ctx, plannerID)
	if err != nil {
		return nil, "", asDomainError(err)
	}
	snapshot := Export{Planner: *planner, Sections: sections}
	for _, section := range sections {
		activities, err := s.activities.ListBySection(ctx, section.ID)
		if err != nil {
			return nil, "", asDomainError(err)
		}
		snapshot.Activities = append(snapshot.Activities, activities...)
	}
	payload, contentType, err := s.exporter.Export(ctx, snapshot)
	if err != nil {
		return nil, "", asDomainError(err)
	}
	s.recordAudit(ctx, userID, "planner.export", "planner", plannerID)
	return payload, contentType, nil
}
