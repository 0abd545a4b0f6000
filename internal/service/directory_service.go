package service

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"coldfront/internal/config"
	"coldfront/internal/middleware"
	"coldfront/internal/models"
	"coldfront/internal/repository"

	"gorm.io/gorm"
)

// DirectoryService provisions faculty storage directories as allocations of
// the deployment's storage resource.
type DirectoryService struct {
	allocations repository.AllocationRepository
	projects    repository.ProjectRepository
	deployment  config.Deployment
}

func NewDirectoryService(
	allocations repository.AllocationRepository,
	projects repository.ProjectRepository,
	deployment config.Deployment,
) *DirectoryService {
	return &DirectoryService{
		allocations: allocations,
		projects:    projects,
		deployment:  deployment,
	}
}

// WithTx returns a copy bound to tx.
func (d *DirectoryService) WithTx(tx *gorm.DB) *DirectoryService {
	return &DirectoryService{
		allocations: d.allocations.WithTx(tx),
		projects:    d.projects.WithTx(tx),
		deployment:  d.deployment,
	}
}

// DirectoryName is the setup directory recorded on the request, or the
// project name when none has been chosen yet.
func DirectoryName(r *models.StorageRequest, project *models.Project) string {
	if name := strings.TrimSpace(r.StateData().Setup.DirectoryName); name != "" {
		return name
	}
	if project != nil {
		return project.Name
	}
	return ""
}

// Path joins name onto the storage base path.
func (d *DirectoryService) Path(name string) string {
	return path.Join(d.deployment.StorageBasePath, name)
}

// CurrentQuotaGB returns the quota of the allocation at name, or 0 when the
// directory does not exist yet.
func (d *DirectoryService) CurrentQuotaGB(ctx context.Context, name string) (int, error) {
	alloc, err := d.allocations.GetByDirectory(ctx, d.Path(name))
	if models.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return alloc.QuotaGB, nil
}

// Provision adds amountGB to the quota of the directory, creating the
// allocation for projectID when it does not exist. It then grants every
// active project member access.
func (d *DirectoryService) Provision(ctx context.Context, projectID uint, name string, amountGB int) (*models.Allocation, error) {
	dirPath := d.Path(name)

	alloc, err := d.allocations.GetByDirectory(ctx, dirPath)
	switch {
	case models.IsNotFound(err):
		alloc = &models.Allocation{
			ProjectID:     projectID,
			ResourceName:  d.deployment.StorageResourceName,
			DirectoryPath: dirPath,
			QuotaGB:       amountGB,
			Status:        models.AllocationStatusActive,
		}
		if err := d.allocations.Create(ctx, alloc); err != nil {
			return nil, fmt.Errorf("create allocation %s: %w", dirPath, err)
		}
		middleware.Logger.InfoContext(ctx, "Created storage allocation",
			slog.String("directory", dirPath), slog.Int("quota_gb", amountGB))
	case err != nil:
		return nil, fmt.Errorf("look up allocation %s: %w", dirPath, err)
	default:
		if alloc.ProjectID != projectID {
			return nil, models.NewConflictError(fmt.Sprintf("Directory %s belongs to another project.", dirPath))
		}
		if err := d.allocations.AddQuota(ctx, alloc.ID, amountGB); err != nil {
			return nil, fmt.Errorf("add quota to %s: %w", dirPath, err)
		}
		alloc.QuotaGB += amountGB
		middleware.Logger.InfoContext(ctx, "Increased storage allocation quota",
			slog.String("directory", dirPath), slog.Int("delta_gb", amountGB), slog.Int("quota_gb", alloc.QuotaGB))
	}

	if err := d.grantActiveMembers(ctx, alloc, projectID); err != nil {
		return nil, err
	}
	return alloc, nil
}

func (d *DirectoryService) grantActiveMembers(ctx context.Context, alloc *models.Allocation, projectID uint) error {
	members, err := d.projects.ActiveMembers(ctx, projectID)
	if err != nil {
		return fmt.Errorf("list active members of project %d: %w", projectID, err)
	}
	added := 0
	for _, m := range members {
		ok, err := d.allocations.EnsureActiveUser(ctx, alloc.ID, m.UserID)
		if err != nil {
			return fmt.Errorf("grant user %d access to %s: %w", m.UserID, alloc.DirectoryPath, err)
		}
		if ok {
			added++
		}
	}
	if added > 0 {
		middleware.Logger.InfoContext(ctx, "Granted storage access",
			slog.String("directory", alloc.DirectoryPath), slog.Int("users", added))
	}
	return nil
}
