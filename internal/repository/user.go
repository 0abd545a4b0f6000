package repository

import (
	"context"
	"errors"

	"coldfront/internal/cache"
	"coldfront/internal/models"

	"gorm.io/gorm"
)

// UserRepository defines persistence operations for users and their permissions.
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	GrantPermission(ctx context.Context, userID uint, codename string) error
	Access(ctx context.Context, userID uint) (*models.UserAccess, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a new UserRepository implementation.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, notFoundOrInternal(err, "User", id)
	}
	return &user, nil
}

// GetByUsername returns nil without error when no user has the username.
func (r *userRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &user, nil
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.NewConflictError("User already exists")
		}
		return models.NewInternalError(err)
	}
	return nil
}

// GrantPermission is idempotent.
func (r *userRepository) GrantPermission(ctx context.Context, userID uint, codename string) error {
	perm := models.UserPermission{UserID: userID, Codename: codename}
	err := r.db.WithContext(ctx).
		Where(models.UserPermission{UserID: userID, Codename: codename}).
		FirstOrCreate(&perm).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	cache.Invalidate(ctx, cache.UserAccessKey(userID))
	return nil
}

// Access returns the user's authorization profile, cached in Redis.
func (r *userRepository) Access(ctx context.Context, userID uint) (*models.UserAccess, error) {
	var access models.UserAccess
	err := cache.Aside(ctx, cache.UserAccessKey(userID), &access, cache.UserAccessTTL, func() error {
		var user models.User
		if err := r.db.WithContext(ctx).Preload("Permissions").First(&user, userID).Error; err != nil {
			return notFoundOrInternal(err, "User", userID)
		}
		access = models.UserAccess{
			UserID:      user.ID,
			IsActive:    user.IsActive,
			IsSuperuser: user.IsSuperuser,
			Permissions: make([]string, 0, len(user.Permissions)),
		}
		for _, p := range user.Permissions {
			access.Permissions = append(access.Permissions, p.Codename)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &access, nil
}
