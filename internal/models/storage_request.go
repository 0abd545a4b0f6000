package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// StorageRequestStatus is the overall status of a storage request.
type StorageRequestStatus string

const (
	// StorageRequestUnderReview awaits the eligibility and intake reviews.
	StorageRequestUnderReview StorageRequestStatus = "Under Review"
	// StorageRequestQueued is approved and waiting for a provisioning agent.
	StorageRequestQueued StorageRequestStatus = "Approved - Queued"
	// StorageRequestProcessing has been claimed by an agent.
	StorageRequestProcessing StorageRequestStatus = "Approved - Processing"
	// StorageRequestComplete has been provisioned.
	StorageRequestComplete StorageRequestStatus = "Approved - Complete"
	// StorageRequestDenied was rejected by a reviewer.
	StorageRequestDenied StorageRequestStatus = "Denied"
)

// StorageRequestStatuses lists every status in lifecycle order.
var StorageRequestStatuses = []StorageRequestStatus{
	StorageRequestUnderReview,
	StorageRequestQueued,
	StorageRequestProcessing,
	StorageRequestComplete,
	StorageRequestDenied,
}

// Valid reports whether s is a known status.
func (s StorageRequestStatus) Valid() bool {
	for _, known := range StorageRequestStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseStorageRequestStatus converts a status name to a StorageRequestStatus.
func ParseStorageRequestStatus(raw string) (StorageRequestStatus, error) {
	s := StorageRequestStatus(raw)
	if !s.Valid() {
		return "", NewValidationError(fmt.Sprintf("Unknown status %q.", raw))
	}
	return s, nil
}

// StorageRequest is a request for a faculty storage allocation on a project.
type StorageRequest struct {
	ID                uint                             `gorm:"primaryKey" json:"id"`
	Status            StorageRequestStatus             `gorm:"type:varchar(32);not null;index:idx_storage_requests_queue,priority:1" json:"status"`
	ProjectID         uint                             `gorm:"not null;index" json:"project_id"`
	Project           *Project                         `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	RequesterID       uint                             `gorm:"not null;index" json:"requester_id"`
	Requester         *User                            `gorm:"foreignKey:RequesterID" json:"requester,omitempty"`
	PIID              uint                             `gorm:"column:pi_id;not null;index" json:"pi_id"`
	PI                *User                            `gorm:"foreignKey:PIID" json:"pi,omitempty"`
	RequestedAmountGB int                              `gorm:"not null" json:"requested_amount_gb"`
	ApprovedAmountGB  *int                             `json:"approved_amount_gb"`
	RequestTime       time.Time                        `gorm:"not null;index" json:"request_time"`
	ApprovalTime      *time.Time                       `gorm:"index:idx_storage_requests_queue,priority:2" json:"approval_time"`
	CompletionTime    *time.Time                       `json:"completion_time"`
	State             datatypes.JSONType[RequestState] `gorm:"not null" json:"state"`
	ClaimID           string                           `gorm:"size:36;index" json:"claim_id,omitempty"`
	ClaimedAt         *time.Time                       `json:"claimed_at,omitempty"`
	ClaimAttempts     int                              `gorm:"not null;default:0" json:"claim_attempts"`
	CreatedAt         time.Time                        `json:"created_at"`
	// UpdatedAt is the modification stamp used to detect stale claims.
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

// StateData returns a copy of the request state.
func (r *StorageRequest) StateData() RequestState {
	return r.State.Data()
}

// SetState replaces the request state.
func (r *StorageRequest) SetState(s RequestState) {
	r.State = datatypes.NewJSONType(s)
}

// EffectiveAmountGB is the approved amount, or the requested amount when none was approved.
func (r *StorageRequest) EffectiveAmountGB() int {
	if r.ApprovedAmountGB != nil {
		return *r.ApprovedAmountGB
	}
	return r.RequestedAmountGB
}

// DenialReason explains a denied request.
func (r *StorageRequest) DenialReason() (DenialReason, error) {
	if r.Status != StorageRequestDenied {
		return DenialReason{}, NewValidationError(fmt.Sprintf("Request %d is not denied.", r.ID))
	}
	return r.StateData().DenialReason()
}

// LatestUpdate returns the most recent review activity on the request.
func (r *StorageRequest) LatestUpdate() *time.Time {
	return r.StateData().LatestUpdate()
}

// BeforeSave rejects unknown statuses and malformed state. Bulk updates
// through an empty model carry neither and are not checked.
func (r *StorageRequest) BeforeSave(_ *gorm.DB) error {
	if r.Status == "" {
		return nil
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRequestState, r.Status)
	}
	return r.StateData().Validate()
}

// AfterFind validates the stored state of loaded rows.
func (r *StorageRequest) AfterFind(_ *gorm.DB) error {
	return r.StateData().Validate()
}
