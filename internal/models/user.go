// Package models contains the persistent domain types of the allocation portal.
package models

import (
	"strings"
	"time"
)

// Permission codenames checked by the storage request API.
const (
	PermViewAllStorageRequests = "can_view_all_storage_requests"
	PermManageStorageRequests  = "can_manage_storage_requests"
)

// User is a portal account. Agents authenticate as users holding the manage permission.
type User struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	Username    string           `gorm:"size:150;uniqueIndex;not null" json:"username"`
	Email       string           `gorm:"size:254;index" json:"email"`
	FirstName   string           `gorm:"size:150" json:"first_name"`
	LastName    string           `gorm:"size:150" json:"last_name"`
	Password    string           `gorm:"size:255" json:"-"`
	IsActive    bool             `gorm:"not null;default:true" json:"is_active"`
	IsSuperuser bool             `gorm:"not null;default:false" json:"is_superuser"`
	Permissions []UserPermission `gorm:"foreignKey:UserID" json:"-"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// FullName returns "First Last", falling back to the username.
func (u *User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// UserPermission grants a permission codename to a user.
type UserPermission struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	UserID   uint   `gorm:"not null;uniqueIndex:idx_user_permission" json:"user_id"`
	Codename string `gorm:"size:100;not null;uniqueIndex:idx_user_permission" json:"codename"`
}

// UserAccess is the authorization profile of a user.
type UserAccess struct {
	UserID      uint     `json:"user_id"`
	IsActive    bool     `json:"is_active"`
	IsSuperuser bool     `json:"is_superuser"`
	Permissions []string `json:"permissions"`
}

// Has reports whether the user holds codename. Superusers hold every permission.
func (a UserAccess) Has(codename string) bool {
	if !a.IsActive {
		return false
	}
	if a.IsSuperuser {
		return true
	}
	for _, p := range a.Permissions {
		if p == codename {
			return true
		}
	}
	return false
}

// CanViewAllStorageRequests reports list access over every request.
func (a UserAccess) CanViewAllStorageRequests() bool {
	return a.Has(PermViewAllStorageRequests) || a.Has(PermManageStorageRequests)
}

// CanManageStorageRequests reports review, claim and completion access.
func (a UserAccess) CanManageStorageRequests() bool {
	return a.Has(PermManageStorageRequests)
}
