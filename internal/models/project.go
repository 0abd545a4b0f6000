package models

import "time"

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectStatusNew      ProjectStatus = "New"
	ProjectStatusActive   ProjectStatus = "Active"
	ProjectStatusArchived ProjectStatus = "Archived"
)

// ProjectUserRole is a member's role on a project.
type ProjectUserRole string

const (
	ProjectRoleUser                  ProjectUserRole = "User"
	ProjectRoleManager               ProjectUserRole = "Manager"
	ProjectRolePrincipalInvestigator ProjectUserRole = "Principal Investigator"
)

// ProjectUserStatus is the membership state of a project user.
type ProjectUserStatus string

const (
	ProjectUserStatusActive        ProjectUserStatus = "Active"
	ProjectUserStatusPendingRemove ProjectUserStatus = "Pending - Remove"
	ProjectUserStatusRemoved       ProjectUserStatus = "Removed"
)

// Project groups users and allocations. Name is the cluster-facing identifier
// and is the default storage directory name.
type Project struct {
	ID        uint          `gorm:"primaryKey" json:"id"`
	Name      string        `gorm:"size:255;uniqueIndex;not null" json:"name"`
	Title     string        `gorm:"size:255" json:"title"`
	Status    ProjectStatus `gorm:"type:varchar(20);not null;default:'Active'" json:"status"`
	Members   []ProjectUser `gorm:"foreignKey:ProjectID" json:"members,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ProjectUser is a user's membership on a project.
type ProjectUser struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	ProjectID uint              `gorm:"not null;uniqueIndex:idx_project_user" json:"project_id"`
	UserID    uint              `gorm:"not null;uniqueIndex:idx_project_user" json:"user_id"`
	User      *User             `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Role      ProjectUserRole   `gorm:"type:varchar(40);not null;default:'User'" json:"role"`
	Status    ProjectUserStatus `gorm:"type:varchar(20);not null;default:'Active';index" json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
