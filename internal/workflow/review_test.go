package workflow

import (
	"testing"
	"time"

	"coldfront/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func stateWith(eligibility, intake models.StageStatus) models.RequestState {
	s := models.NewRequestState()
	s.Eligibility.Status = eligibility
	s.IntakeConsistency.Status = intake
	return s
}

func TestNextStatus(t *testing.T) {
	t.Parallel()

	denied := stateWith(models.StageApproved, models.StageApproved)
	denied.Other.Timestamp = &now

	tests := []struct {
		name    string
		current models.StorageRequestStatus
		state   models.RequestState
		want    models.StorageRequestStatus
	}{
		{"fresh request stays under review", models.StorageRequestUnderReview, models.NewRequestState(), models.StorageRequestUnderReview},
		{"one approval stays under review", models.StorageRequestUnderReview, stateWith(models.StageApproved, models.StagePending), models.StorageRequestUnderReview},
		{"both approved queues", models.StorageRequestUnderReview, stateWith(models.StageApproved, models.StageApproved), models.StorageRequestQueued},
		{"eligibility denied", models.StorageRequestUnderReview, stateWith(models.StageDenied, models.StagePending), models.StorageRequestDenied},
		{"intake denied after approval", models.StorageRequestQueued, stateWith(models.StageApproved, models.StageDenied), models.StorageRequestDenied},
		{"other reason denies", models.StorageRequestUnderReview, denied, models.StorageRequestDenied},
		{"queued stays queued", models.StorageRequestQueued, stateWith(models.StageApproved, models.StageApproved), models.StorageRequestQueued},
		{"processing is not requeued", models.StorageRequestProcessing, stateWith(models.StageApproved, models.StageApproved), models.StorageRequestProcessing},
		{"pending review pulls queued back", models.StorageRequestQueued, stateWith(models.StageApproved, models.StagePending), models.StorageRequestUnderReview},
		{"complete never moves", models.StorageRequestComplete, stateWith(models.StageDenied, models.StagePending), models.StorageRequestComplete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NextStatus(tt.current, tt.state))
		})
	}
}

func TestApplyReview(t *testing.T) {
	t.Parallel()

	s := models.NewRequestState()
	require.NoError(t, ApplyReview(&s, models.ReviewEligibility, models.StageApproved, "  looks fine ", now))
	assert.Equal(t, models.StageApproved, s.Eligibility.Status)
	assert.Equal(t, "looks fine", s.Eligibility.Justification)
	require.NotNil(t, s.Eligibility.Timestamp)
	assert.True(t, now.Equal(*s.Eligibility.Timestamp))

	err := ApplyReview(&s, models.ReviewIntakeConsistency, models.StageDenied, " ", now)
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))
	assert.Equal(t, models.StagePending, s.IntakeConsistency.Status)

	err = ApplyReview(&s, models.ReviewIntakeConsistency, models.StageComplete, "", now)
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))

	err = ApplyReview(&s, "setup", models.StageApproved, "", now)
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))
}

func TestApplySetup(t *testing.T) {
	t.Parallel()

	s := models.NewRequestState()
	require.NoError(t, ApplySetup(&s, models.StageComplete, "", "fc_lab", now))
	assert.Equal(t, "fc_lab", s.Setup.DirectoryName)
	assert.Equal(t, models.StageComplete, s.Setup.Status)

	require.NoError(t, ApplySetup(&s, models.StageComplete, " custom_dir ", "fc_lab", now))
	assert.Equal(t, "custom_dir", s.Setup.DirectoryName)

	err := ApplySetup(&s, models.StageComplete, "a/b", "fc_lab", now)
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))

	err = ApplySetup(&s, models.StageApproved, "x", "", now)
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))
}

func TestUndeny_ResetsOnlyDeniedStages(t *testing.T) {
	t.Parallel()

	s := stateWith(models.StageApproved, models.StageDenied)
	s.IntakeConsistency.Justification = "mismatch"
	require.NoError(t, DenyOther(&s, "duplicate", now))

	Undeny(&s)

	assert.Equal(t, models.StageApproved, s.Eligibility.Status)
	assert.Equal(t, models.StagePending, s.IntakeConsistency.Status)
	assert.Equal(t, "mismatch", s.IntakeConsistency.Justification)
	assert.Nil(t, s.Other.Timestamp)
	assert.Empty(t, s.Other.Justification)
	assert.False(t, s.IsDenied())
	assert.Equal(t, models.StorageRequestUnderReview, NextStatus(models.StorageRequestDenied, s))
}

func TestDenyOther_RequiresJustification(t *testing.T) {
	t.Parallel()

	s := models.NewRequestState()
	err := DenyOther(&s, "   ", now)
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))
	assert.Nil(t, s.Other.Timestamp)
}

func TestValidateDirectoryName(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateDirectoryName("fc_lab"))
	for _, bad := range []string{"", "   ", "..", "a/b", string(make([]byte, 256))} {
		assert.Error(t, ValidateDirectoryName(bad), "%q", bad)
	}
}
