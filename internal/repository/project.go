package repository

import (
	"context"

	"coldfront/internal/models"

	"gorm.io/gorm"
)

// ProjectRepository defines persistence operations for projects and their members.
type ProjectRepository interface {
	WithTx(tx *gorm.DB) ProjectRepository
	GetByID(ctx context.Context, id uint) (*models.Project, error)
	ActiveMembers(ctx context.Context, projectID uint) ([]models.ProjectUser, error)
	IsPI(ctx context.Context, projectID, userID uint) (bool, error)
	IsMember(ctx context.Context, projectID, userID uint) (bool, error)
}

type projectRepository struct {
	db *gorm.DB
}

// NewProjectRepository returns a ProjectRepository backed by db.
func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{db: db}
}

func (r *projectRepository) WithTx(tx *gorm.DB) ProjectRepository {
	return &projectRepository{db: tx}
}

func (r *projectRepository) GetByID(ctx context.Context, id uint) (*models.Project, error) {
	var project models.Project
	if err := r.db.WithContext(ctx).First(&project, id).Error; err != nil {
		return nil, notFoundOrInternal(err, "Project", id)
	}
	return &project, nil
}

// ActiveMembers returns the project's active memberships with users loaded.
func (r *projectRepository) ActiveMembers(ctx context.Context, projectID uint) ([]models.ProjectUser, error) {
	var members []models.ProjectUser
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("project_id = ? AND status = ?", projectID, models.ProjectUserStatusActive).
		Order("id ASC").
		Find(&members).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return members, nil
}

func (r *projectRepository) IsPI(ctx context.Context, projectID, userID uint) (bool, error) {
	return r.hasMembership(ctx, projectID, userID, "role = ?", models.ProjectRolePrincipalInvestigator)
}

func (r *projectRepository) IsMember(ctx context.Context, projectID, userID uint) (bool, error) {
	return r.hasMembership(ctx, projectID, userID, "1 = 1")
}

func (r *projectRepository) hasMembership(ctx context.Context, projectID, userID uint, cond string, args ...interface{}) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ProjectUser{}).
		Where("project_id = ? AND user_id = ? AND status = ?", projectID, userID, models.ProjectUserStatusActive).
		Where(cond, args...).
		Count(&count).Error
	if err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}
