// Package repository implements the data access layer for the application.
package repository

import (
	"context"
	"errors"
	"time"

	"coldfront/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClaimKind tells a fresh claim of a queued request from the reclaim of a stale one.
type ClaimKind string

const (
	// ClaimFresh took a request from "Approved - Queued".
	ClaimFresh ClaimKind = "claimed"
	// ClaimReclaimed took over a processing request whose claim went stale.
	ClaimReclaimed ClaimKind = "reclaimed"
)

// claimOrder is the queue order: oldest approval first. Rows without an
// approval time go last on every driver; SQLite and PostgreSQL disagree on
// where a bare ASC puts NULLs.
const claimOrder = "approval_time IS NULL, approval_time ASC, request_time ASC, id ASC"

const maxClaimAttempts = 5

// StorageRequestFilter narrows List results. Zero values do not filter.
type StorageRequestFilter struct {
	Status      models.StorageRequestStatus
	ProjectID   uint
	PIID        uint
	RequesterID uint
	// InvolvingUserID matches requests where the user is requester or PI.
	InvolvingUserID uint
	Limit           int
	Offset          int
}

// StorageRequestRepository defines persistence operations for storage requests.
type StorageRequestRepository interface {
	WithTx(tx *gorm.DB) StorageRequestRepository
	Create(ctx context.Context, req *models.StorageRequest) error
	GetByID(ctx context.Context, id uint) (*models.StorageRequest, error)
	GetForUpdate(ctx context.Context, id uint) (*models.StorageRequest, error)
	Save(ctx context.Context, req *models.StorageRequest) error
	List(ctx context.Context, filter StorageRequestFilter) ([]models.StorageRequest, int64, error)
	ClaimNext(ctx context.Context, staleBefore time.Time, claimID string) (*models.StorageRequest, ClaimKind, error)
	CountByStatus(ctx context.Context) (map[models.StorageRequestStatus]int64, error)
	HasNonDeniedForPI(ctx context.Context, piID uint) (bool, error)
}

type storageRequestRepository struct {
	db *gorm.DB
}

// NewStorageRequestRepository returns a StorageRequestRepository backed by db.
func NewStorageRequestRepository(db *gorm.DB) StorageRequestRepository {
	return &storageRequestRepository{db: db}
}

func (r *storageRequestRepository) WithTx(tx *gorm.DB) StorageRequestRepository {
	return &storageRequestRepository{db: tx}
}

func (r *storageRequestRepository) Create(ctx context.Context, req *models.StorageRequest) error {
	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *storageRequestRepository) GetByID(ctx context.Context, id uint) (*models.StorageRequest, error) {
	var req models.StorageRequest
	err := r.db.WithContext(ctx).
		Preload("Project").
		Preload("Requester").
		Preload("PI").
		First(&req, id).Error
	if err != nil {
		return nil, notFoundOrInternal(err, "Storage request", id)
	}
	return &req, nil
}

// GetForUpdate loads the request and, on PostgreSQL, holds its row lock until
// the surrounding transaction ends.
func (r *storageRequestRepository) GetForUpdate(ctx context.Context, id uint) (*models.StorageRequest, error) {
	var req models.StorageRequest
	q := r.db.WithContext(ctx)
	if r.db.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.First(&req, id).Error; err != nil {
		return nil, notFoundOrInternal(err, "Storage request", id)
	}
	return &req, nil
}

func (r *storageRequestRepository) Save(ctx context.Context, req *models.StorageRequest) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Save(req).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *storageRequestRepository) List(ctx context.Context, filter StorageRequestFilter) ([]models.StorageRequest, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.StorageRequest{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.ProjectID != 0 {
		q = q.Where("project_id = ?", filter.ProjectID)
	}
	if filter.PIID != 0 {
		q = q.Where("pi_id = ?", filter.PIID)
	}
	if filter.RequesterID != 0 {
		q = q.Where("requester_id = ?", filter.RequesterID)
	}
	if filter.InvolvingUserID != 0 {
		q = q.Where("requester_id = ? OR pi_id = ?", filter.InvolvingUserID, filter.InvolvingUserID)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}

	q = q.Preload("Project").Preload("PI").Order("request_time DESC, id DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	var out []models.StorageRequest
	if err := q.Find(&out).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}
	return out, total, nil
}

// ClaimNext moves the oldest queued request to processing. When the queue is
// empty it reclaims the oldest processing request last modified before
// staleBefore. It returns gorm.ErrRecordNotFound when nothing is claimable.
// Callers run it inside a transaction.
func (r *storageRequestRepository) ClaimNext(ctx context.Context, staleBefore time.Time, claimID string) (*models.StorageRequest, ClaimKind, error) {
	claimed, err := r.claim(ctx, claimID, "status = ?", models.StorageRequestQueued)
	if err == nil {
		return claimed, ClaimFresh, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", err
	}

	claimed, err = r.claim(ctx, claimID, "status = ? AND updated_at < ?", models.StorageRequestProcessing, staleBefore.UTC())
	if err != nil {
		return nil, "", err
	}
	return claimed, ClaimReclaimed, nil
}

func (r *storageRequestRepository) claim(ctx context.Context, claimID, where string, args ...interface{}) (*models.StorageRequest, error) {
	if r.db.Name() == "postgres" {
		var claimed models.StorageRequest
		err := r.db.WithContext(ctx).Raw(`
WITH picked AS (
	SELECT id
	FROM storage_requests
	WHERE `+where+`
	ORDER BY `+claimOrder+`
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
UPDATE storage_requests r
SET status = ?,
    claim_id = ?,
    claimed_at = NOW(),
    claim_attempts = r.claim_attempts + 1,
    updated_at = NOW()
FROM picked
WHERE r.id = picked.id
RETURNING r.*
`, append(args, models.StorageRequestProcessing, claimID)...).Scan(&claimed).Error
		if err != nil {
			return nil, err
		}
		if claimed.ID == 0 {
			return nil, gorm.ErrRecordNotFound
		}
		return &claimed, nil
	}

	// SQLite has no row locks; the conditional update makes a lost race affect
	// no rows, and the next candidate is tried.
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		var picked models.StorageRequest
		if err := r.db.WithContext(ctx).Where(where, args...).Order(claimOrder).First(&picked).Error; err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		res := r.db.WithContext(ctx).Model(&models.StorageRequest{}).
			Where("id = ?", picked.ID).
			Where(where, args...).
			UpdateColumns(map[string]interface{}{
				"status":         models.StorageRequestProcessing,
				"claim_id":       claimID,
				"claimed_at":     now,
				"claim_attempts": gorm.Expr("claim_attempts + 1"),
				"updated_at":     now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}

		var claimed models.StorageRequest
		if err := r.db.WithContext(ctx).First(&claimed, picked.ID).Error; err != nil {
			return nil, err
		}
		return &claimed, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *storageRequestRepository) CountByStatus(ctx context.Context) (map[models.StorageRequestStatus]int64, error) {
	var rows []struct {
		Status models.StorageRequestStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&models.StorageRequest{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	counts := make(map[models.StorageRequestStatus]int64, len(models.StorageRequestStatuses))
	for _, s := range models.StorageRequestStatuses {
		counts[s] = 0
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// HasNonDeniedForPI reports whether the PI already has a request in any status but Denied.
func (r *storageRequestRepository) HasNonDeniedForPI(ctx context.Context, piID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.StorageRequest{}).
		Where("pi_id = ? AND status <> ?", piID, models.StorageRequestDenied).
		Count(&count).Error
	if err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}
