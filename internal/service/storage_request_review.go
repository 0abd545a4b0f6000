package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"coldfront/internal/middleware"
	"coldfront/internal/models"
	"coldfront/internal/notifications"
	"coldfront/internal/observability"
	"coldfront/internal/workflow"

	"gorm.io/gorm"
)

// mutation changes a locked request in place. project is loaded for setup
// defaults.
type mutation func(r *models.StorageRequest, state *models.RequestState, project *models.Project, now time.Time) error

// UpdateEligibility records the eligibility review and recomputes the status.
func (s *StorageRequestService) UpdateEligibility(ctx context.Context, id uint, status models.StageStatus, justification string) (*models.StorageRequest, error) {
	return s.updateReview(ctx, id, models.ReviewEligibility, status, justification)
}

// UpdateIntakeConsistency records the intake consistency review and recomputes the status.
func (s *StorageRequestService) UpdateIntakeConsistency(ctx context.Context, id uint, status models.StageStatus, justification string) (*models.StorageRequest, error) {
	return s.updateReview(ctx, id, models.ReviewIntakeConsistency, status, justification)
}

func (s *StorageRequestService) updateReview(ctx context.Context, id uint, stage models.ReviewStageName, status models.StageStatus, justification string) (*models.StorageRequest, error) {
	return s.mutate(ctx, id, "review", func(_ *models.StorageRequest, state *models.RequestState, _ *models.Project, now time.Time) error {
		return workflow.ApplyReview(state, stage, status, justification, now)
	})
}

// UpdateSetup records the setup stage. A blank directory name defaults to the
// project name when marking setup complete.
func (s *StorageRequestService) UpdateSetup(ctx context.Context, id uint, status models.StageStatus, directoryName string) (*models.StorageRequest, error) {
	return s.mutate(ctx, id, "setup", func(_ *models.StorageRequest, state *models.RequestState, project *models.Project, now time.Time) error {
		return workflow.ApplySetup(state, status, directoryName, project.Name, now)
	})
}

// DenyOther denies the request for a reason outside the review stages.
func (s *StorageRequestService) DenyOther(ctx context.Context, id uint, justification string) (*models.StorageRequest, error) {
	return s.mutate(ctx, id, "deny", func(_ *models.StorageRequest, state *models.RequestState, _ *models.Project, now time.Time) error {
		return workflow.DenyOther(state, justification, now)
	})
}

// Undeny returns a denied request to review. Denied stages go back to
// pending; approved stages keep their decision.
func (s *StorageRequestService) Undeny(ctx context.Context, id uint) (*models.StorageRequest, error) {
	return s.mutate(ctx, id, "undeny", func(r *models.StorageRequest, state *models.RequestState, _ *models.Project, _ time.Time) error {
		if r.Status != models.StorageRequestDenied {
			return models.NewValidationError(fmt.Sprintf("Request %d is in status %q and cannot be undenied.", r.ID, r.Status))
		}
		workflow.Undeny(state)
		return nil
	})
}

// EditAmount sets the approved amount while the request is under review.
func (s *StorageRequestService) EditAmount(ctx context.Context, id uint, amountGB int) (*models.StorageRequest, error) {
	if amountGB <= 0 {
		return nil, models.NewFieldValidationError(map[string]string{
			"amount_gb": "Ensure this value is greater than 0.",
		})
	}
	return s.mutate(ctx, id, "amount", func(r *models.StorageRequest, _ *models.RequestState, _ *models.Project, _ time.Time) error {
		if r.Status != models.StorageRequestUnderReview {
			return models.NewValidationError(fmt.Sprintf("The amount of request %d can only be changed while it is %q.", r.ID, models.StorageRequestUnderReview))
		}
		r.ApprovedAmountGB = &amountGB
		return nil
	})
}

// Finalize completes a request from the admin checklist once both reviews
// are approved and setup is complete.
func (s *StorageRequestService) Finalize(ctx context.Context, id uint) (*models.StorageRequest, error) {
	r, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	state := r.StateData()
	if !state.ReviewsApproved() || state.Setup.Status != models.StageComplete || state.Setup.DirectoryName == "" {
		return nil, models.NewValidationError("Eligibility and intake consistency must be approved and setup complete before the request can be finalized.")
	}
	done, _, err := s.Complete(ctx, id, state.Setup.DirectoryName)
	return done, err
}

// mutate applies fn to the locked request, recomputes the overall status and
// saves, all in one transaction. Completed requests are read-only.
func (s *StorageRequestService) mutate(ctx context.Context, id uint, action string, fn mutation) (*models.StorageRequest, error) {
	var (
		before  models.StorageRequestStatus
		updated *models.StorageRequest
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		requests := s.requests.WithTx(tx)
		r, err := requests.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if r.Status == models.StorageRequestComplete {
			return models.NewValidationError(fmt.Sprintf("Request %d is already complete and can no longer be changed.", id))
		}
		project, err := s.projects.WithTx(tx).GetByID(ctx, r.ProjectID)
		if err != nil {
			return err
		}

		now := s.now()
		before = r.Status
		state := r.StateData()
		if err := fn(r, &state, project, now); err != nil {
			return err
		}
		r.SetState(state)

		if action == "undeny" {
			r.Status = models.StorageRequestUnderReview
		} else {
			r.Status = workflow.NextStatus(r.Status, state)
		}
		if r.Status == models.StorageRequestQueued && before != models.StorageRequestQueued {
			r.ApprovalTime = &now
			if r.ApprovedAmountGB == nil {
				amount := r.RequestedAmountGB
				r.ApprovedAmountGB = &amount
			}
		}
		if err := requests.Save(ctx, r); err != nil {
			return err
		}
		updated, err = requests.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	if updated.Status != before {
		observability.StorageReviewTransitions.WithLabelValues(string(updated.Status)).Inc()
		middleware.Logger.InfoContext(ctx, "Storage request status changed",
			slog.Uint64("request_id", uint64(id)),
			slog.String("action", action),
			slog.String("from", string(before)),
			slog.String("to", string(updated.Status)))
	}
	if updated.Status == models.StorageRequestDenied && before != models.StorageRequestDenied {
		e := notifications.NewEvent(notifications.EventRequestDenied, updated)
		if reason, err := updated.DenialReason(); err == nil {
			e.Data = map[string]any{
				"category":      reason.Category,
				"justification": reason.Justification,
			}
		}
		s.publish(ctx, e)
	}
	return updated, nil
}
