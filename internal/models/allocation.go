package models

import "time"

// AllocationStatus is the lifecycle state of an allocation.
type AllocationStatus string

const (
	AllocationStatusNew     AllocationStatus = "New"
	AllocationStatusActive  AllocationStatus = "Active"
	AllocationStatusExpired AllocationStatus = "Expired"
)

// AllocationUserStatus is the state of a user's access to an allocation.
type AllocationUserStatus string

const (
	AllocationUserStatusActive  AllocationUserStatus = "Active"
	AllocationUserStatusRemoved AllocationUserStatus = "Removed"
)

// Allocation is a project's share of a storage resource: one directory with a quota.
type Allocation struct {
	ID            uint             `gorm:"primaryKey" json:"id"`
	ProjectID     uint             `gorm:"not null;index" json:"project_id"`
	Project       *Project         `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	ResourceName  string           `gorm:"size:255;not null;index" json:"resource_name"`
	DirectoryPath string           `gorm:"size:1024;not null;uniqueIndex" json:"directory_path"`
	QuotaGB       int              `gorm:"not null;default:0" json:"quota_gb"`
	Status        AllocationStatus `gorm:"type:varchar(20);not null;default:'New'" json:"status"`
	Users         []AllocationUser `gorm:"foreignKey:AllocationID" json:"users,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// AllocationUser grants a user access to an allocation.
type AllocationUser struct {
	ID           uint                 `gorm:"primaryKey" json:"id"`
	AllocationID uint                 `gorm:"not null;uniqueIndex:idx_allocation_user" json:"allocation_id"`
	UserID       uint                 `gorm:"not null;uniqueIndex:idx_allocation_user" json:"user_id"`
	Status       AllocationUserStatus `gorm:"type:varchar(20);not null;default:'Active'" json:"status"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}
