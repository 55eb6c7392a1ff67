package access

import (
	"testing"
	"time"

	"planhub/internal/model"
)

func testPlanner() *model.Planner {
	return &model.Planner{
		ID:      "pln_1",
		OwnerID: "usr_owner",
		Collaborators: []model.Collaborator{
			{UserID: "usr_viewer", Role: model.RoleViewer, AddedAt: time.Now(), AddedBy: "usr_owner"},
			{UserID: "usr_editor", Role: model.RoleEditor, AddedAt: time.Now(), AddedBy: "usr_owner"},
			{UserID: "usr_admin", Role: model.RoleAdmin, AddedAt: time.Now(), AddedBy: "usr_owner"},
		},
	}
}

func TestResolveOwner(t *testing.T) {
	caps := Resolve(testPlanner(), "usr_owner")
	if caps.Role != model.RoleOwner {
		t.Errorf("expected owner role, got %s", caps.Role)
	}
	if !caps.CanView || !caps.CanEdit || !caps.CanShare || !caps.CanManageCollaborators || !caps.CanArchive || !caps.CanDelete {
		t.Errorf("owner must hold every capability: %+v", caps)
	}
}

func TestResolveCollaboratorRoles(t *testing.T) {
	planner := testPlanner()

	cases := []struct {
		userID   string
		role     model.Role
		canEdit  bool
		canShare bool
	}{
		{"usr_viewer", model.RoleViewer, false, false},
		{"usr_editor", model.RoleEditor, true, false},
		{"usr_admin", model.RoleAdmin, true, true},
	}
	for _, tc := range cases {
		caps := Resolve(planner, tc.userID)
		if caps.Role != tc.role {
			t.Errorf("%s: expected role %s, got %s", tc.userID, tc.role, caps.Role)
		}
		if !caps.CanView {
			t.Errorf("%s: collaborators can always view", tc.userID)
		}
		if caps.CanEdit != tc.canEdit {
			t.Errorf("%s: expected canEdit=%v", tc.userID, tc.canEdit)
		}
		if caps.CanShare != tc.canShare || caps.CanManageCollaborators != tc.canShare {
			t.Errorf("%s: share/manage must be admin-only: %+v", tc.userID, caps)
		}
		if caps.CanArchive || caps.CanDelete {
			t.Errorf("%s: archive/delete are owner-only: %+v", tc.userID, caps)
		}
	}
}

func TestResolvePublicPlanner(t *testing.T) {
	planner := testPlanner()
	planner.IsPublic = true

	caps := Resolve(planner, "usr_stranger")
	if !caps.CanView {
		t.Error("public planner must be viewable")
	}
	if caps.Role != model.RoleViewer {
		t.Errorf("expected viewer role, got %s", caps.Role)
	}
	if caps.CanEdit || caps.CanShare || caps.CanManageCollaborators || caps.CanArchive || caps.CanDelete {
		t.Errorf("public access grants view only: %+v", caps)
	}
}

func TestResolveDenied(t *testing.T) {
	caps := Resolve(testPlanner(), "usr_stranger")
	if caps.CanView {
		t.Error("private planner without a collaborator record must deny view")
	}
	if caps != (Capabilities{}) {
		t.Errorf("denied access must resolve to the zero capability set: %+v", caps)
	}
}

func TestResolveNilInputs(t *testing.T) {
	if caps := Resolve(nil, "usr_owner"); caps.CanView {
		t.Error("nil planner must deny")
	}
	if caps := Resolve(testPlanner(), ""); caps.CanView {
		t.Error("empty user must deny")
	}
}
