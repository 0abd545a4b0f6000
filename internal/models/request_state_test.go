package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(minutes int) *time.Time {
	t := time.Date(2024, 1, 1, 0, minutes, 0, 0, time.UTC)
	return &t
}

func TestRequestState_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, NewRequestState().Validate())

	s := NewRequestState()
	s.Eligibility.Status = StageComplete
	assert.True(t, errors.Is(s.Validate(), ErrInvalidRequestState))

	s = NewRequestState()
	s.Setup.Status = StageApproved
	assert.Error(t, s.Validate())

	s = NewRequestState()
	s.Setup.Status = StageComplete
	assert.Error(t, s.Validate())
	s.Setup.DirectoryName = "fc_lab"
	assert.NoError(t, s.Validate())
}

func TestRequestState_DenialReason(t *testing.T) {
	t.Parallel()

	s := NewRequestState()
	_, err := s.DenialReason()
	assert.Error(t, err)

	s.IntakeConsistency = ReviewStage{Status: StageDenied, Justification: "bad intake", Timestamp: ts(1)}
	reason, err := s.DenialReason()
	require.NoError(t, err)
	assert.Equal(t, DenialIntakeConsistency, reason.Category)

	s.Eligibility = ReviewStage{Status: StageDenied, Justification: "ineligible", Timestamp: ts(2)}
	reason, err = s.DenialReason()
	require.NoError(t, err)
	assert.Equal(t, DenialEligibility, reason.Category)
	assert.Equal(t, "ineligible", reason.Justification)

	s.Other = OtherStage{Justification: "duplicate", Timestamp: ts(3)}
	reason, err = s.DenialReason()
	require.NoError(t, err)
	assert.Equal(t, DenialOther, reason.Category)
	assert.Equal(t, "duplicate", reason.Justification)
}

func TestRequestState_LatestUpdate(t *testing.T) {
	t.Parallel()

	s := NewRequestState()
	assert.Nil(t, s.LatestUpdate())

	s.Eligibility.Timestamp = ts(5)
	s.Setup.Timestamp = ts(9)
	s.IntakeConsistency.Timestamp = ts(7)
	require.NotNil(t, s.LatestUpdate())
	assert.True(t, ts(9).Equal(*s.LatestUpdate()))
}

func TestRequestState_JSONShape(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(NewRequestState())
	require.NoError(t, err)

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "Pending", decoded["eligibility"]["status"])
	assert.Equal(t, "Pending", decoded["intake_consistency"]["status"])
	assert.Equal(t, "", decoded["setup"]["directory_name"])
	assert.Nil(t, decoded["other"]["timestamp"])
}

func TestStorageRequest_Helpers(t *testing.T) {
	t.Parallel()

	r := &StorageRequest{ID: 4, Status: StorageRequestUnderReview, RequestedAmountGB: 1000}
	r.SetState(NewRequestState())
	assert.Equal(t, 1000, r.EffectiveAmountGB())

	approved := 2000
	r.ApprovedAmountGB = &approved
	assert.Equal(t, 2000, r.EffectiveAmountGB())

	_, err := r.DenialReason()
	assert.Equal(t, CodeValidation, ErrorCode(err))

	state := r.StateData()
	state.Eligibility = ReviewStage{Status: StageDenied, Justification: "no", Timestamp: ts(1)}
	r.SetState(state)
	r.Status = StorageRequestDenied
	reason, err := r.DenialReason()
	require.NoError(t, err)
	assert.Equal(t, DenialEligibility, reason.Category)

	assert.NoError(t, r.BeforeSave(nil))
	r.Status = "Bogus"
	assert.Error(t, r.BeforeSave(nil))
	assert.NoError(t, (&StorageRequest{}).BeforeSave(nil))
}

func TestParseStorageRequestStatus(t *testing.T) {
	t.Parallel()

	s, err := ParseStorageRequestStatus("Approved - Queued")
	require.NoError(t, err)
	assert.Equal(t, StorageRequestQueued, s)

	_, err = ParseStorageRequestStatus("Approved")
	assert.Equal(t, CodeValidation, ErrorCode(err))
}

func TestUserAccess(t *testing.T) {
	t.Parallel()

	viewer := UserAccess{IsActive: true, Permissions: []string{PermViewAllStorageRequests}}
	assert.True(t, viewer.CanViewAllStorageRequests())
	assert.False(t, viewer.CanManageStorageRequests())

	manager := UserAccess{IsActive: true, Permissions: []string{PermManageStorageRequests}}
	assert.True(t, manager.CanViewAllStorageRequests())
	assert.True(t, manager.CanManageStorageRequests())

	root := UserAccess{IsActive: true, IsSuperuser: true}
	assert.True(t, root.CanManageStorageRequests())

	inactive := UserAccess{IsActive: false, IsSuperuser: true}
	assert.False(t, inactive.CanManageStorageRequests())
}
