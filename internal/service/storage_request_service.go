package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"coldfront/internal/config"
	"coldfront/internal/eligibility"
	"coldfront/internal/middleware"
	"coldfront/internal/models"
	"coldfront/internal/notifications"
	"coldfront/internal/observability"
	"coldfront/internal/repository"
	"coldfront/internal/workflow"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// Publisher delivers lifecycle events. *notifications.Notifier implements it.
type Publisher interface {
	Publish(ctx context.Context, e notifications.Event) error
}

// StorageRequestService owns the lifecycle of faculty storage requests:
// creation, review, claiming by the provisioning agent and completion.
type StorageRequestService struct {
	db          *gorm.DB
	requests    repository.StorageRequestRepository
	projects    repository.ProjectRepository
	users       repository.UserRepository
	directories *DirectoryService
	policy      eligibility.Policy
	publisher   Publisher
	deployment  config.Deployment
	now         func() time.Time
}

// StorageRequestServiceDeps are the collaborators of StorageRequestService.
type StorageRequestServiceDeps struct {
	DB          *gorm.DB
	Requests    repository.StorageRequestRepository
	Projects    repository.ProjectRepository
	Users       repository.UserRepository
	Allocations repository.AllocationRepository
	Policy      eligibility.Policy
	Publisher   Publisher
	Deployment  config.Deployment
}

func NewStorageRequestService(deps StorageRequestServiceDeps) *StorageRequestService {
	policy := deps.Policy
	if policy == nil {
		policy = eligibility.Permissive{}
	}
	return &StorageRequestService{
		db:          deps.DB,
		requests:    deps.Requests,
		projects:    deps.Projects,
		users:       deps.Users,
		directories: NewDirectoryService(deps.Allocations, deps.Projects, deps.Deployment),
		policy:      policy,
		publisher:   deps.Publisher,
		deployment:  deps.Deployment,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type CreateStorageRequestInput struct {
	RequesterID uint
	ProjectID   uint
	PIID        uint
	AmountGB    int
}

// ClaimedRequest is a request handed to the provisioning agent together with
// the quota it should set.
type ClaimedRequest struct {
	Request          *models.StorageRequest
	Kind             repository.ClaimKind
	DirectoryPath    string
	SetSizeGB        int
	RequestedDeltaGB int
}

// Create opens a request under review after checking the PI's eligibility.
func (s *StorageRequestService) Create(ctx context.Context, in CreateStorageRequestInput) (*models.StorageRequest, error) {
	if in.AmountGB <= 0 {
		return nil, models.NewFieldValidationError(map[string]string{
			"amount_gb": "Ensure this value is greater than 0.",
		})
	}

	pi, err := s.users.GetByID(ctx, in.PIID)
	if err != nil {
		return nil, err
	}

	var created *models.StorageRequest
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		projects := s.projects.WithTx(tx)
		requests := s.requests.WithTx(tx)

		project, err := projects.GetByID(ctx, in.ProjectID)
		if err != nil {
			return err
		}
		isPI, err := projects.IsPI(ctx, project.ID, pi.ID)
		if err != nil {
			return err
		}
		if !isPI {
			return models.NewFieldValidationError(map[string]string{
				"pi_id": "The selected user is not a PI of the project.",
			})
		}
		if in.RequesterID != pi.ID {
			member, err := projects.IsMember(ctx, project.ID, in.RequesterID)
			if err != nil {
				return err
			}
			if !member {
				return models.NewForbiddenError("Only project members may request storage for a project.")
			}
		}

		decision, err := s.policy.Check(ctx, eligibility.Candidate{
			PIID:        pi.ID,
			PIUsername:  pi.Username,
			PIEmail:     pi.Email,
			ProjectName: project.Name,
		})
		if err != nil {
			return fmt.Errorf("eligibility check: %w", err)
		}
		if !decision.Eligible {
			return models.NewValidationError(decision.Reason)
		}
		// Advisory only: two concurrent creations for one PI can both pass.
		exists, err := requests.HasNonDeniedForPI(ctx, pi.ID)
		if err != nil {
			return err
		}
		if exists {
			return models.NewValidationError("PI already has an existing non-denied storage request.")
		}

		r := &models.StorageRequest{
			Status:            models.StorageRequestUnderReview,
			ProjectID:         project.ID,
			RequesterID:       in.RequesterID,
			PIID:              pi.ID,
			RequestedAmountGB: in.AmountGB,
			RequestTime:       s.now(),
		}
		r.SetState(models.NewRequestState())
		if err := requests.Create(ctx, r); err != nil {
			return err
		}
		created, err = requests.GetByID(ctx, r.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	middleware.Logger.InfoContext(ctx, "Storage request created",
		slog.Uint64("request_id", uint64(created.ID)),
		slog.Uint64("project_id", uint64(created.ProjectID)),
		slog.Int("amount_gb", created.RequestedAmountGB))

	e := notifications.NewEvent(notifications.EventRequestCreated, created)
	e.Emails = s.deployment.AdminEmails
	s.publish(ctx, e)
	return created, nil
}

// Get returns a request with its project, requester and PI loaded.
func (s *StorageRequestService) Get(ctx context.Context, id uint) (*models.StorageRequest, error) {
	return s.requests.GetByID(ctx, id)
}

// GetVisible returns the request when access may see it: its requester, its
// PI, or a user allowed to view all requests.
func (s *StorageRequestService) GetVisible(ctx context.Context, id uint, access models.UserAccess) (*models.StorageRequest, error) {
	r, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if access.CanViewAllStorageRequests() {
		return r, nil
	}
	if access.IsActive && (r.RequesterID == access.UserID || r.PIID == access.UserID) {
		return r, nil
	}
	// Hide existence from unrelated users.
	return nil, models.NewNotFoundError("Storage request", id)
}

func (s *StorageRequestService) List(ctx context.Context, filter repository.StorageRequestFilter) ([]models.StorageRequest, int64, error) {
	return s.requests.List(ctx, normalizePage(filter))
}

// ListForUser lists requests the user requested or is PI of.
func (s *StorageRequestService) ListForUser(ctx context.Context, userID uint, limit, offset int) ([]models.StorageRequest, int64, error) {
	return s.requests.List(ctx, normalizePage(repository.StorageRequestFilter{
		InvolvingUserID: userID,
		Limit:           limit,
		Offset:          offset,
	}))
}

func normalizePage(f repository.StorageRequestFilter) repository.StorageRequestFilter {
	const defaultLimit, maxLimit = 50, 200
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// CountByStatus reports the number of requests per status.
func (s *StorageRequestService) CountByStatus(ctx context.Context) (map[models.StorageRequestStatus]int64, error) {
	return s.requests.CountByStatus(ctx)
}

// ClaimNext hands the oldest queued request to the caller, falling back to a
// processing request whose claim went stale. It returns nil when nothing is
// claimable. The claim and the payload are computed in one transaction.
func (s *StorageRequestService) ClaimNext(ctx context.Context) (*ClaimedRequest, error) {
	span, ctx := observability.StartSpan(ctx, "storage_request.claim_next")
	var claimed *ClaimedRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		requests := s.requests.WithTx(tx)
		claimID := uuid.NewString()
		staleBefore := s.now().Add(-s.deployment.ClaimTimeout)

		r, kind, err := requests.ClaimNext(ctx, staleBefore, claimID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("claim next storage request: %w", err)
		}

		r, err = requests.GetByID(ctx, r.ID)
		if err != nil {
			return err
		}
		dirs := s.directories.WithTx(tx)
		name := DirectoryName(r, r.Project)
		current, err := dirs.CurrentQuotaGB(ctx, name)
		if err != nil {
			return fmt.Errorf("current quota for request %d: %w", r.ID, err)
		}
		delta := r.EffectiveAmountGB()
		claimed = &ClaimedRequest{
			Request:          r,
			Kind:             kind,
			DirectoryPath:    dirs.Path(name),
			SetSizeGB:        current + delta,
			RequestedDeltaGB: delta,
		}
		return nil
	})
	if err != nil {
		observability.StorageClaimsTotal.WithLabelValues("error").Inc()
		span.End(err)
		return nil, err
	}
	if claimed == nil {
		observability.StorageClaimsTotal.WithLabelValues("empty").Inc()
		span.End(nil)
		return nil, nil
	}

	r := claimed.Request
	observability.StorageClaimsTotal.WithLabelValues(string(claimed.Kind)).Inc()
	if claimed.Kind == repository.ClaimFresh && r.ApprovalTime != nil {
		observability.StorageClaimLatency.Observe(s.now().Sub(*r.ApprovalTime).Seconds())
	}
	span.AddAttributes(
		attribute.Int64("storage_request.id", int64(r.ID)),
		attribute.String("storage_request.claim", string(claimed.Kind)),
	)
	span.End(nil)

	msg := "Storage request claimed"
	if claimed.Kind == repository.ClaimReclaimed {
		msg = "Storage request reclaimed after stale claim"
	}
	middleware.Logger.InfoContext(ctx, msg,
		slog.Uint64("request_id", uint64(r.ID)),
		slog.String("claim_id", r.ClaimID),
		slog.Int("claim_attempts", r.ClaimAttempts),
		slog.String("directory_path", claimed.DirectoryPath),
		slog.Int("set_size_gb", claimed.SetSizeGB))
	return claimed, nil
}

// CompleteClaimed completes a request the agent holds. The request must be
// "Approved - Processing".
func (s *StorageRequestService) CompleteClaimed(ctx context.Context, id uint, directoryName string) (*models.StorageRequest, error) {
	r, _, err := s.complete(ctx, id, directoryName, true)
	return r, err
}

// Complete records the directory, provisions the allocation and marks the
// request complete. Completing a completed request is a no-op reported by
// the second return value.
func (s *StorageRequestService) Complete(ctx context.Context, id uint, directoryName string) (*models.StorageRequest, bool, error) {
	return s.complete(ctx, id, directoryName, false)
}

func (s *StorageRequestService) complete(ctx context.Context, id uint, directoryName string, requireProcessing bool) (*models.StorageRequest, bool, error) {
	span, ctx := observability.StartSpan(ctx, "storage_request.complete",
		attribute.Int64("storage_request.id", int64(id)))

	alreadyComplete := false
	var done *models.StorageRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		requests := s.requests.WithTx(tx)
		r, err := requests.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if requireProcessing && r.Status != models.StorageRequestProcessing {
			return models.NewValidationError(fmt.Sprintf(
				"Request %d is in status %q, expected %q. Cannot complete.",
				id, r.Status, models.StorageRequestProcessing))
		}
		if r.Status == models.StorageRequestComplete {
			alreadyComplete = true
			done, err = requests.GetByID(ctx, id)
			return err
		}
		if r.Status != models.StorageRequestQueued && r.Status != models.StorageRequestProcessing {
			return models.NewValidationError(fmt.Sprintf(
				"Request %d is in status %q and has not been approved. Cannot complete.", id, r.Status))
		}
		if err := workflow.ValidateDirectoryName(directoryName); err != nil {
			return err
		}

		now := s.now()
		state := r.StateData()
		if err := workflow.ApplySetup(&state, models.StageComplete, directoryName, "", now); err != nil {
			return err
		}
		r.SetState(state)
		if r.ApprovedAmountGB == nil {
			amount := r.RequestedAmountGB
			r.ApprovedAmountGB = &amount
		}
		r.Status = models.StorageRequestComplete
		r.CompletionTime = &now
		if err := requests.Save(ctx, r); err != nil {
			return err
		}

		if _, err := s.directories.WithTx(tx).Provision(ctx, r.ProjectID, state.Setup.DirectoryName, *r.ApprovedAmountGB); err != nil {
			return fmt.Errorf("provision storage for request %d: %w", id, err)
		}

		done, err = requests.GetByID(ctx, id)
		return err
	})
	if err != nil {
		observability.StorageCompletionsTotal.WithLabelValues("error").Inc()
		span.End(err)
		return nil, false, err
	}
	span.End(nil)

	if alreadyComplete {
		observability.StorageCompletionsTotal.WithLabelValues("noop").Inc()
		middleware.Logger.InfoContext(ctx, "Storage request already complete",
			slog.Uint64("request_id", uint64(id)))
		return done, true, nil
	}

	observability.StorageCompletionsTotal.WithLabelValues("completed").Inc()
	middleware.Logger.InfoContext(ctx, "Storage request completed",
		slog.Uint64("request_id", uint64(id)),
		slog.String("directory_name", done.StateData().Setup.DirectoryName),
		slog.Int("approved_amount_gb", done.EffectiveAmountGB()))

	e := notifications.NewEvent(notifications.EventRequestCompleted, done)
	e.Data = map[string]any{
		"directory_path":     s.directories.Path(done.StateData().Setup.DirectoryName),
		"approved_amount_gb": done.EffectiveAmountGB(),
	}
	s.publish(ctx, e)
	return done, false, nil
}

// publish logs failures; a lost notification never fails the operation.
func (s *StorageRequestService) publish(ctx context.Context, e notifications.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		middleware.Logger.ErrorContext(ctx, "Failed to publish storage request event",
			slog.String("event", string(e.Type)),
			slog.Uint64("request_id", uint64(e.RequestID)),
			slog.String("error", err.Error()))
	}
}
