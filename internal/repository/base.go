package repository

import (
	"errors"
	"strings"

	"coldfront/internal/database"
	"coldfront/internal/models"

	"gorm.io/gorm"
)

func notFoundOrInternal(err error, resource string, id interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError(resource, id)
	}
	return models.NewInternalError(err)
}

// isUniqueConstraintError checks if a DB error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if database.IsUniqueViolation(err) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// SQLite reports "UNIQUE constraint failed".
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint")
}
