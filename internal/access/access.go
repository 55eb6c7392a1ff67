// Package access resolves the effective role a user holds on a planner
// into a capability set. Resolution is a pure function over the planner
// record and is performed fresh on every mutating call, never cached:
// collaborator lists change without touching any other cache entry.
package access

import "planhub/internal/model"

// Capabilities is the resolved permission set for one (planner, user)
// pair. A zero Capabilities means access denied; callers must surface
// that as Forbidden without leaking whether the planner exists.
type Capabilities struct {
	CanView                bool       `json:"canView"`
	CanEdit                bool       `json:"canEdit"`
	CanShare               bool       `json:"canShare"`
	CanManageCollaborators bool       `json:"canManageCollaborators"`
	CanArchive             bool       `json:"canArchive"`
	CanDelete              bool       `json:"canDelete"`
	Role                   model.Role `json:"role,omitempty"`
}

// Resolve computes capabilities with owner > collaborator > public
// precedence.
func Resolve(planner *model.Planner, userID string) Capabilities {
	if planner == nil || userID == "" {
		return Capabilities{}
	}

	if userID == planner.OwnerID {
		return Capabilities{
			CanView:                true,
			CanEdit:                true,
			CanShare:               true,
			CanManageCollaborators: true,
			CanArchive:             true,
			CanDelete:              true,
			Role:                   model.RoleOwner,
		}
	}

	if collab := planner.Collaborator(userID); collab != nil {
		role := collab.Role
		return Capabilities{
			CanView:                true,
			CanEdit:                role == model.RoleEditor || role == model.RoleAdmin,
			CanShare:               role == model.RoleAdmin,
			CanManageCollaborators: role == model.RoleAdmin,
			// Archive and delete stay owner-only regardless of role.
			Role: role,
		}
	}

	if planner.IsPublic {
		return Capabilities{CanView: true, Role: model.RoleViewer}
	}

	return Capabilities{}
}
