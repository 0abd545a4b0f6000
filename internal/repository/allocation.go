package repository

import (
	"context"
	"errors"

	"coldfront/internal/models"

	"gorm.io/gorm"
)

// AllocationRepository defines persistence operations for storage allocations.
type AllocationRepository interface {
	WithTx(tx *gorm.DB) AllocationRepository
	Create(ctx context.Context, allocation *models.Allocation) error
	GetByDirectory(ctx context.Context, path string) (*models.Allocation, error)
	AddQuota(ctx context.Context, id uint, deltaGB int) error
	EnsureActiveUser(ctx context.Context, allocationID, userID uint) (bool, error)
}

type allocationRepository struct {
	db *gorm.DB
}

// NewAllocationRepository returns an AllocationRepository backed by db.
func NewAllocationRepository(db *gorm.DB) AllocationRepository {
	return &allocationRepository{db: db}
}

func (r *allocationRepository) WithTx(tx *gorm.DB) AllocationRepository {
	return &allocationRepository{db: tx}
}

func (r *allocationRepository) Create(ctx context.Context, allocation *models.Allocation) error {
	if err := r.db.WithContext(ctx).Create(allocation).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.NewConflictError("An allocation already exists for this directory.")
		}
		return models.NewInternalError(err)
	}
	return nil
}

// GetByDirectory returns the allocation that owns path.
func (r *allocationRepository) GetByDirectory(ctx context.Context, path string) (*models.Allocation, error) {
	var allocation models.Allocation
	if err := r.db.WithContext(ctx).Where("directory_path = ?", path).First(&allocation).Error; err != nil {
		return nil, notFoundOrInternal(err, "Allocation for directory", path)
	}
	return &allocation, nil
}

// AddQuota grows the allocation's quota by deltaGB.
func (r *allocationRepository) AddQuota(ctx context.Context, id uint, deltaGB int) error {
	res := r.db.WithContext(ctx).Model(&models.Allocation{}).
		Where("id = ?", id).
		Update("quota_gb", gorm.Expr("quota_gb + ?", deltaGB))
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Allocation", id)
	}
	return nil
}

// EnsureActiveUser gets or creates the allocation user and marks it active.
// It reports whether the user had no active access before.
func (r *allocationRepository) EnsureActiveUser(ctx context.Context, allocationID, userID uint) (bool, error) {
	var au models.AllocationUser
	err := r.db.WithContext(ctx).
		Where("allocation_id = ? AND user_id = ?", allocationID, userID).
		First(&au).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		au = models.AllocationUser{
			AllocationID: allocationID,
			UserID:       userID,
			Status:       models.AllocationUserStatusActive,
		}
		if err := r.db.WithContext(ctx).Create(&au).Error; err != nil {
			return false, models.NewInternalError(err)
		}
		return true, nil
	}
	if err != nil {
		return false, models.NewInternalError(err)
	}
	if au.Status == models.AllocationUserStatusActive {
		return false, nil
	}

	if err := r.db.WithContext(ctx).Model(&au).Update("status", models.AllocationUserStatusActive).Error; err != nil {
		return false, models.NewInternalError(err)
	}
	return true, nil
}
