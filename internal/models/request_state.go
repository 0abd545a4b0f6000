package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRequestState is wrapped by every state validation failure.
var ErrInvalidRequestState = errors.New("invalid request state")

// StageStatus is the status of one review or setup stage.
type StageStatus string

const (
	StagePending  StageStatus = "Pending"
	StageApproved StageStatus = "Approved"
	StageDenied   StageStatus = "Denied"
	StageComplete StageStatus = "Complete"
)

// ReviewStageName identifies a review stage that can approve or deny a request.
type ReviewStageName string

const (
	ReviewEligibility       ReviewStageName = "eligibility"
	ReviewIntakeConsistency ReviewStageName = "intake_consistency"
)

// ReviewStages lists the review stages in evaluation order.
var ReviewStages = []ReviewStageName{ReviewEligibility, ReviewIntakeConsistency}

// ReviewStage is an eligibility or intake-consistency check.
type ReviewStage struct {
	Status        StageStatus `json:"status"`
	Justification string      `json:"justification"`
	Timestamp     *time.Time  `json:"timestamp"`
}

// SetupStage records the directory chosen for the allocation.
type SetupStage struct {
	Status        StageStatus `json:"status"`
	DirectoryName string      `json:"directory_name"`
	Timestamp     *time.Time  `json:"timestamp"`
}

// OtherStage records a denial for a reason outside the review stages.
// A set Timestamp means the request was denied this way.
type OtherStage struct {
	Justification string     `json:"justification"`
	Timestamp     *time.Time `json:"timestamp"`
}

// RequestState is the per-stage review state of a storage request.
type RequestState struct {
	Eligibility       ReviewStage `json:"eligibility"`
	IntakeConsistency ReviewStage `json:"intake_consistency"`
	Setup             SetupStage  `json:"setup"`
	Other             OtherStage  `json:"other"`
}

// NewRequestState returns the state of a freshly submitted request.
func NewRequestState() RequestState {
	return RequestState{
		Eligibility:       ReviewStage{Status: StagePending},
		IntakeConsistency: ReviewStage{Status: StagePending},
		Setup:             SetupStage{Status: StagePending},
	}
}

// Review returns the named review stage.
func (s *RequestState) Review(name ReviewStageName) (*ReviewStage, error) {
	switch name {
	case ReviewEligibility:
		return &s.Eligibility, nil
	case ReviewIntakeConsistency:
		return &s.IntakeConsistency, nil
	}
	return nil, fmt.Errorf("%w: unknown review stage %q", ErrInvalidRequestState, name)
}

// Validate checks every stage holds a status it can take.
func (s RequestState) Validate() error {
	for _, name := range ReviewStages {
		stage, _ := s.Review(name)
		switch stage.Status {
		case StagePending, StageApproved, StageDenied:
		default:
			return fmt.Errorf("%w: %s has status %q", ErrInvalidRequestState, name, stage.Status)
		}
	}
	switch s.Setup.Status {
	case StagePending, StageComplete:
	default:
		return fmt.Errorf("%w: setup has status %q", ErrInvalidRequestState, s.Setup.Status)
	}
	if s.Setup.Status == StageComplete && s.Setup.DirectoryName == "" {
		return fmt.Errorf("%w: setup is complete without a directory name", ErrInvalidRequestState)
	}
	return nil
}

// IsDenied reports whether any review stage is denied or another reason was recorded.
func (s RequestState) IsDenied() bool {
	return s.Other.Timestamp != nil ||
		s.Eligibility.Status == StageDenied ||
		s.IntakeConsistency.Status == StageDenied
}

// ReviewsApproved reports whether every review stage is approved.
func (s RequestState) ReviewsApproved() bool {
	return s.Eligibility.Status == StageApproved && s.IntakeConsistency.Status == StageApproved
}

// HasPendingReview reports whether any review stage is still pending.
func (s RequestState) HasPendingReview() bool {
	return s.Eligibility.Status == StagePending || s.IntakeConsistency.Status == StagePending
}

// LatestUpdate returns the most recent stage timestamp, or nil if no stage was touched.
func (s RequestState) LatestUpdate() *time.Time {
	var latest *time.Time
	for _, ts := range []*time.Time{
		s.Eligibility.Timestamp,
		s.IntakeConsistency.Timestamp,
		s.Setup.Timestamp,
		s.Other.Timestamp,
	} {
		if ts != nil && (latest == nil || ts.After(*latest)) {
			latest = ts
		}
	}
	return latest
}

// DenialCategory names the stage a denial came from.
type DenialCategory string

const (
	DenialOther             DenialCategory = "Other"
	DenialEligibility       DenialCategory = "Eligibility"
	DenialIntakeConsistency DenialCategory = "Intake Consistency"
)

// DenialReason explains why a request was denied.
type DenialReason struct {
	Category      DenialCategory `json:"category"`
	Justification string         `json:"justification"`
	Timestamp     *time.Time     `json:"timestamp"`
}

// DenialReason returns the reason recorded in the state. An "other" denial
// takes precedence over the review stages.
func (s RequestState) DenialReason() (DenialReason, error) {
	switch {
	case s.Other.Timestamp != nil:
		return DenialReason{DenialOther, s.Other.Justification, s.Other.Timestamp}, nil
	case s.Eligibility.Status == StageDenied:
		return DenialReason{DenialEligibility, s.Eligibility.Justification, s.Eligibility.Timestamp}, nil
	case s.IntakeConsistency.Status == StageDenied:
		return DenialReason{DenialIntakeConsistency, s.IntakeConsistency.Justification, s.IntakeConsistency.Timestamp}, nil
	}
	return DenialReason{}, fmt.Errorf("%w: no denial recorded", ErrInvalidRequestState)
}
