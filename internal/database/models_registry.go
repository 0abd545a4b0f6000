package database

import "coldfront/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.UserPermission{},
		&models.Project{},
		&models.ProjectUser{},
		&models.Allocation{},
		&models.AllocationUser{},
		&models.StorageRequest{},
	}
}
