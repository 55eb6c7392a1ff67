// Package model holds the planning hierarchy entities as they are
// persisted in the document store. Every entity carries server-assigned
// timestamps and a monotonic version compared-and-swapped on update.
package model

import "time"

type Role string

const (
	RoleOwner  Role = "owner"
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

type ActivityStatus string

const (
	StatusPending    ActivityStatus = "pending"
	StatusInProgress ActivityStatus = "in-progress"
	StatusCompleted  ActivityStatus = "completed"
	StatusCancelled  ActivityStatus = "cancelled"
	StatusArchived   ActivityStatus = "archived"
)

// AllStatuses is the enumeration order used for zero-filled rollups.
var AllStatuses = []ActivityStatus{
	StatusPending, StatusInProgress, StatusCompleted, StatusCancelled, StatusArchived,
}

type ActivityPriority string

const (
	PriorityLow    ActivityPriority = "low"
	PriorityMedium ActivityPriority = "medium"
	PriorityHigh   ActivityPriority = "high"
	PriorityUrgent ActivityPriority = "urgent"
)

var AllPriorities = []ActivityPriority{
	PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent,
}

type Collaborator struct {
	UserID  string    `json:"userId"`
	Role    Role      `json:"role"`
	AddedAt time.Time `json:"addedAt"`
	AddedBy string    `json:"addedBy"`
}

// PlannerMetadata is the rollup stored on the planner document. It is
// derived from the activity set and refreshed after mutations, never
// treated as a source of truth.
type PlannerMetadata struct {
	LastActivityAt      *time.Time `json:"lastActivityAt,omitempty"`
	TotalActivities     int        `json:"totalActivities"`
	CompletedActivities int        `json:"completedActivities"`
}

type Planner struct {
	ID                 string          `json:"id"`
	OwnerID            string          `json:"ownerId"`
	Title              string          `json:"title"`
	Description        string          `json:"description,omitempty"`
	IsPublic           bool            `json:"isPublic"`
	AllowCollaborators bool            `json:"allowCollaborators"`
	Collaborators      []Collaborator  `json:"collaborators"`
	Tags               []string        `json:"tags,omitempty"`
	Metadata           PlannerMetadata `json:"metadata"`
	ArchivedAt         *time.Time      `json:"archivedAt,omitempty"`
	Version            int64           `json:"version"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// Collaborator returns the collaborator record for userID, if any. The
// owner is never listed here.
func (p *Planner) Collaborator(userID string) *Collaborator {
	for i := range p.Collaborators {
		if p.Collaborators[i].UserID == userID {
			return &p.Collaborators[i]
		}
	}
	return nil
}

type SectionSettings struct {
	IsVisible           bool   `json:"isVisible"`
	Color               string `json:"color,omitempty"`
	DefaultActivityType string `json:"defaultActivityType,omitempty"`
	MaxActivities       *int   `json:"maxActivities,omitempty"`
}

type SectionMetadata struct {
	TotalActivities     int        `json:"totalActivities"`
	CompletedActivities int        `json:"completedActivities"`
	LastActivityAt      *time.Time `json:"lastActivityAt,omitempty"`
}

type Section struct {
	ID        string          `json:"id"`
	PlannerID string          `json:"plannerId"`
	Title     string          `json:"title"`
	Type      string          `json:"type,omitempty"`
	Order     int             `json:"order"`
	Settings  SectionSettings `json:"settings"`
	Metadata  SectionMetadata `json:"metadata"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type Attachment struct {
	ID         string    `json:"id"`
	FileName   string    `json:"fileName"`
	ObjectKey  string    `json:"objectKey"`
	Size       int64     `json:"size,omitempty"`
	UploadedBy string    `json:"uploadedBy"`
	UploadedAt time.Time `json:"uploadedAt"`
}

type ActivityMetadata struct {
	EstimatedDuration int `json:"estimatedDuration,omitempty"` // minutes
	ActualDuration    int `json:"actualDuration,omitempty"`    // minutes
}

type Activity struct {
	ID          string           `json:"id"`
	SectionID   string           `json:"sectionId"`
	PlannerID   string           `json:"plannerId"` // redundant copy of section.plannerId
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Type        string           `json:"type,omitempty"`
	Status      ActivityStatus   `json:"status"`
	Priority    ActivityPriority `json:"priority"`
	DueDate     *time.Time       `json:"dueDate,omitempty"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	// Advisory ordering constraints; acyclicity is enforced on write.
	Dependencies []string         `json:"dependencies,omitempty"`
	AssigneeID   string           `json:"assigneeId,omitempty"`
	Order        int              `json:"order"`
	Attachments  []Attachment     `json:"attachments,omitempty"`
	Metadata     ActivityMetadata `json:"metadata"`
	Version      int64            `json:"version"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

type TimeEntry struct {
	ID         string     `json:"id"`
	ActivityID string     `json:"activityId"`
	UserID     string     `json:"userId"`
	StartTime  time.Time  `json:"startTime"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	Duration   int        `json:"duration,omitempty"` // minutes, set on stop
	Version    int64      `json:"version"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	Plan         Plan      `json:"plan"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func ValidRole(r Role) bool {
	return r == RoleViewer || r == RoleEditor || r == RoleAdmin
}

func ValidStatus(s ActivityStatus) bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func ValidPriority(p ActivityPriority) bool {
	for _, known := range AllPriorities {
		if p == known {
			return true
		}
	}
	return false
}
