// Package workflow holds the review state machine of storage requests: how
// stage updates change the request state and which overall status follows.
package workflow

import (
	"fmt"
	"strings"
	"time"

	"coldfront/internal/models"
)

// NextStatus returns the overall status implied by state for a request
// currently in status current.
//
// Any denial wins. Both reviews approved moves a request under review to the
// queue; requests already queued or claimed keep their status. A pending
// review sends any other request back under review. Completed requests never
// move.
func NextStatus(current models.StorageRequestStatus, state models.RequestState) models.StorageRequestStatus {
	if current == models.StorageRequestComplete {
		return current
	}
	switch {
	case state.IsDenied():
		return models.StorageRequestDenied
	case state.ReviewsApproved():
		if current == models.StorageRequestUnderReview || current == models.StorageRequestDenied {
			return models.StorageRequestQueued
		}
		return current
	case state.HasPendingReview() && current != models.StorageRequestUnderReview:
		return models.StorageRequestUnderReview
	}
	return current
}

// ApplyReview records a decision on a review stage.
func ApplyReview(state *models.RequestState, name models.ReviewStageName, status models.StageStatus, justification string, at time.Time) error {
	switch status {
	case models.StagePending, models.StageApproved, models.StageDenied:
	default:
		return models.NewValidationError(fmt.Sprintf("Invalid review status %q.", status))
	}
	justification = strings.TrimSpace(justification)
	if status == models.StageDenied && justification == "" {
		return models.NewFieldValidationError(map[string]string{
			"justification": "A justification is required when denying.",
		})
	}

	stage, err := state.Review(name)
	if err != nil {
		return models.NewValidationError(err.Error())
	}
	stage.Status = status
	stage.Justification = justification
	stage.Timestamp = stamp(at)
	return nil
}

// ApplySetup records the setup stage. Completing setup requires a directory
// name; fallbackName is used when directoryName is blank.
func ApplySetup(state *models.RequestState, status models.StageStatus, directoryName, fallbackName string, at time.Time) error {
	switch status {
	case models.StagePending, models.StageComplete:
	default:
		return models.NewValidationError(fmt.Sprintf("Invalid setup status %q.", status))
	}

	name := strings.TrimSpace(directoryName)
	if name == "" {
		name = strings.TrimSpace(fallbackName)
	}
	if err := ValidateDirectoryName(name); err != nil && status == models.StageComplete {
		return err
	}

	state.Setup.Status = status
	state.Setup.DirectoryName = name
	state.Setup.Timestamp = stamp(at)
	return nil
}

// DenyOther records a denial outside the review stages.
func DenyOther(state *models.RequestState, justification string, at time.Time) error {
	justification = strings.TrimSpace(justification)
	if justification == "" {
		return models.NewFieldValidationError(map[string]string{
			"justification": "This field may not be blank.",
		})
	}
	state.Other.Justification = justification
	state.Other.Timestamp = stamp(at)
	return nil
}

// Undeny resets exactly the denied review stages to pending and clears any
// other-reason denial. Approved stages keep their decision.
func Undeny(state *models.RequestState) {
	for _, name := range models.ReviewStages {
		stage, _ := state.Review(name)
		if stage.Status == models.StageDenied {
			stage.Status = models.StagePending
		}
	}
	state.Other = models.OtherStage{}
}

// ValidateDirectoryName checks a storage directory name is a single, non-blank path segment.
func ValidateDirectoryName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return models.NewFieldValidationError(map[string]string{
			"directory_name": "Directory name cannot be empty.",
		})
	case len(name) > 255:
		return models.NewFieldValidationError(map[string]string{
			"directory_name": "Ensure this field has no more than 255 characters.",
		})
	case strings.ContainsAny(name, "/\x00") || name == "." || name == "..":
		return models.NewFieldValidationError(map[string]string{
			"directory_name": "Directory name must be a single path segment.",
		})
	}
	return nil
}

func stamp(at time.Time) *time.Time {
	t := at.UTC()
	return &t
}
