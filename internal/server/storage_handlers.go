package server

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"coldfront/internal/middleware"
	"coldfront/internal/models"
	"coldfront/internal/repository"
	"coldfront/internal/service"

	"github.com/gofiber/fiber/v2"
)

const defaultStorageRequestPageSize = 50

type createStorageRequestRequest struct {
	ProjectID uint `json:"project_id" validate:"required"`
	PIID      uint `json:"pi_id" validate:"required"`
	AmountGB  int  `json:"amount_gb" validate:"required,gt=0"`
}

type reviewRequest struct {
	Status        string `json:"status" validate:"required,oneof=Pending Approved Denied"`
	Justification string `json:"justification" validate:"max=1000"`
}

type setupRequest struct {
	Status        string `json:"status" validate:"required,oneof=Pending Complete"`
	DirectoryName string `json:"directory_name" validate:"max=255"`
}

type denyRequest struct {
	Justification string `json:"justification" validate:"required,max=1000"`
}

type amountRequest struct {
	AmountGB int `json:"amount_gb" validate:"required,gt=0"`
}

type completeRequest struct {
	DirectoryName string `json:"directory_name"`
}

// claimResponse is what a provisioning agent needs to set the quota.
type claimResponse struct {
	ID               uint                        `json:"id"`
	ProjectName      string                      `json:"project_name"`
	DirectoryPath    string                      `json:"directory_path"`
	SetSizeGB        int                         `json:"set_size_gb"`
	RequestedDeltaGB int                         `json:"requested_delta_gb"`
	Status           models.StorageRequestStatus `json:"status"`
	ApprovalTime     *time.Time                  `json:"approval_time"`
}

type detailResponse struct {
	Detail string `json:"detail"`
}

type storageRequestPage struct {
	Results []models.StorageRequest `json:"results"`
	Count   int64                   `json:"count"`
	Limit   int                     `json:"limit"`
	Offset  int                     `json:"offset"`
}

// CreateStorageRequest handles POST /api/storage/requests
// @Summary Request faculty storage
// @Description Open a storage request for a project. The PI must pass the deployment's eligibility policy.
// @Tags storage
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createStorageRequestRequest true "Storage request"
// @Success 201 {object} models.StorageRequest
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /storage/requests [post]
func (s *Server) CreateStorageRequest(c *fiber.Ctx) error {
	var req createStorageRequestRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	created, err := s.storage.Create(c.UserContext(), service.CreateStorageRequestInput{
		RequesterID: currentUserID(c),
		ProjectID:   req.ProjectID,
		PIID:        req.PIID,
		AmountGB:    req.AmountGB,
	})
	if err != nil {
		return s.respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// GetMyStorageRequests handles GET /api/storage/requests/me
// @Summary List my storage requests
// @Tags storage
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} storageRequestPage
// @Router /storage/requests/me [get]
func (s *Server) GetMyStorageRequests(c *fiber.Ctx) error {
	page := parsePagination(c, defaultStorageRequestPageSize)
	items, total, err := s.storage.ListForUser(c.UserContext(), currentUserID(c), page.Limit, page.Offset)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(storageRequestPage{Results: items, Count: total, Limit: page.Limit, Offset: page.Offset})
}

// ListStorageRequests handles GET /api/storage/requests
// @Summary List storage requests
// @Tags storage
// @Produce json
// @Security BearerAuth
// @Param status query string false "Status name"
// @Param project_id query int false "Project ID"
// @Param pi_id query int false "PI user ID"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} storageRequestPage
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /storage/requests [get]
func (s *Server) ListStorageRequests(c *fiber.Ctx) error {
	page := parsePagination(c, defaultStorageRequestPageSize)
	filter := repository.StorageRequestFilter{
		ProjectID: uint(max(c.QueryInt("project_id", 0), 0)),
		PIID:      uint(max(c.QueryInt("pi_id", 0), 0)),
		Limit:     page.Limit,
		Offset:    page.Offset,
	}
	if raw := c.Query("status"); raw != "" {
		status, err := models.ParseStorageRequestStatus(raw)
		if err != nil {
			return s.respondError(c, err)
		}
		filter.Status = status
	}

	items, total, err := s.storage.List(c.UserContext(), filter)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(storageRequestPage{Results: items, Count: total, Limit: page.Limit, Offset: page.Offset})
}

// CountStorageRequests handles GET /api/storage/requests/counts
func (s *Server) CountStorageRequests(c *fiber.Ctx) error {
	counts, err := s.storage.CountByStatus(c.UserContext())
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(counts)
}

// GetStorageRequest handles GET /api/storage/requests/:id
// @Summary Get a storage request
// @Description Visible to its requester, its PI and users who may view all requests.
// @Tags storage
// @Produce json
// @Security BearerAuth
// @Param id path int true "Request ID"
// @Success 200 {object} models.StorageRequest
// @Failure 404 {object} models.ErrorResponse
// @Router /storage/requests/{id} [get]
func (s *Server) GetStorageRequest(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	access, err := s.userAccess(c)
	if err != nil {
		return s.respondError(c, err)
	}
	r, err := s.storage.GetVisible(c.UserContext(), id, access)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(r)
}

// ClaimNextStorageRequest handles POST /api/storage/requests/next/claim/
// @Summary Claim the next queued storage request
// @Description Moves the oldest "Approved - Queued" request to "Approved - Processing" and returns it with the quota to set. Processing requests whose claim went stale are handed out again.
// @Tags storage
// @Produce json
// @Security BearerAuth
// @Success 200 {object} claimResponse
// @Success 204 "No storage requests available for processing"
// @Failure 403 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /storage/requests/next/claim/ [post]
func (s *Server) ClaimNextStorageRequest(c *fiber.Ctx) error {
	claimed, err := s.storage.ClaimNext(c.UserContext())
	if err != nil {
		return s.respondError(c, err)
	}
	if claimed == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}

	r := claimed.Request
	projectName := ""
	if r.Project != nil {
		projectName = r.Project.Name
	}
	return c.JSON(claimResponse{
		ID:               r.ID,
		ProjectName:      projectName,
		DirectoryPath:    claimed.DirectoryPath,
		SetSizeGB:        claimed.SetSizeGB,
		RequestedDeltaGB: claimed.RequestedDeltaGB,
		Status:           r.Status,
		ApprovalTime:     r.ApprovalTime,
	})
}

// CompleteStorageRequest handles PATCH /api/storage/requests/:id/complete/
// @Summary Complete a claimed storage request
// @Description Records the directory, provisions the allocation and marks the request complete. The request must be "Approved - Processing".
// @Tags storage
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Request ID"
// @Param request body completeRequest true "Provisioned directory"
// @Success 200 {object} detailResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /storage/requests/{id}/complete/ [patch]
func (s *Server) CompleteStorageRequest(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	// A missing request is reported before anything about the body.
	if _, err := s.storage.Get(c.UserContext(), id); err != nil {
		return s.completeError(c, id, err)
	}
	var req completeRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	// Existence and status are checked again under the row lock, before the
	// directory name.
	if _, err := s.storage.CompleteClaimed(c.UserContext(), id, strings.TrimSpace(req.DirectoryName)); err != nil {
		return s.completeError(c, id, err)
	}

	return c.JSON(detailResponse{
		Detail: fmt.Sprintf("Storage request %d completed successfully.", id),
	})
}

// completeError keeps not-found and validation messages and hides everything
// else behind a generic 500.
func (s *Server) completeError(c *fiber.Ctx, id uint, err error) error {
	switch models.ErrorCode(err) {
	case models.CodeNotFound, models.CodeValidation:
		return s.respondError(c, err)
	default:
		middleware.Logger.ErrorContext(c.UserContext(), "Error completing storage request",
			slog.Uint64("request_id", uint64(id)),
			slog.String("error", err.Error()))
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}
}

// EditStorageRequestAmount handles PATCH /api/storage/requests/:id/amount
func (s *Server) EditStorageRequestAmount(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req amountRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	return s.respondMutation(c, func() (*models.StorageRequest, error) {
		return s.storage.EditAmount(c.UserContext(), id, req.AmountGB)
	})
}

// UpdateStorageRequestEligibility handles POST /api/storage/requests/:id/eligibility
// @Summary Review PI eligibility
// @Tags storage review
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Request ID"
// @Param request body reviewRequest true "Review decision"
// @Success 200 {object} models.StorageRequest
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /storage/requests/{id}/eligibility [post]
func (s *Server) UpdateStorageRequestEligibility(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req reviewRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	return s.respondMutation(c, func() (*models.StorageRequest, error) {
		return s.storage.UpdateEligibility(c.UserContext(), id, models.StageStatus(req.Status), req.Justification)
	})
}

// UpdateStorageRequestIntakeConsistency handles POST /api/storage/requests/:id/intake-consistency
func (s *Server) UpdateStorageRequestIntakeConsistency(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req reviewRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	return s.respondMutation(c, func() (*models.StorageRequest, error) {
		return s.storage.UpdateIntakeConsistency(c.UserContext(), id, models.StageStatus(req.Status), req.Justification)
	})
}

// UpdateStorageRequestSetup handles POST /api/storage/requests/:id/setup
func (s *Server) UpdateStorageRequestSetup(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req setupRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	return s.respondMutation(c, func() (*models.StorageRequest, error) {
		return s.storage.UpdateSetup(c.UserContext(), id, models.StageStatus(req.Status), strings.TrimSpace(req.DirectoryName))
	})
}

// DenyStorageRequest handles POST /api/storage/requests/:id/deny
// @Summary Deny a storage request for a reason outside the reviews
// @Tags storage review
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Request ID"
// @Param request body denyRequest true "Justification"
// @Success 200 {object} models.StorageRequest
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /storage/requests/{id}/deny [post]
func (s *Server) DenyStorageRequest(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req denyRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	return s.respondMutation(c, func() (*models.StorageRequest, error) {
		return s.storage.DenyOther(c.UserContext(), id, req.Justification)
	})
}

// UndenyStorageRequest handles POST /api/storage/requests/:id/undeny
func (s *Server) UndenyStorageRequest(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	return s.respondMutation(c, func() (*models.StorageRequest, error) {
		return s.storage.Undeny(c.UserContext(), id)
	})
}

// FinalizeStorageRequest handles POST /api/storage/requests/:id/finalize
func (s *Server) FinalizeStorageRequest(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	return s.respondMutation(c, func() (*models.StorageRequest, error) {
		return s.storage.Finalize(c.UserContext(), id)
	})
}

func (s *Server) respondMutation(c *fiber.Ctx, fn func() (*models.StorageRequest, error)) error {
	r, err := fn()
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(r)
}
