package testutil

import (
	"fmt"
	"testing"
	"time"

	"coldfront/internal/models"

	"gorm.io/gorm"
)

// Fixture inserts rows for tests and fails the test on error.
type Fixture struct {
	t  testing.TB
	db *gorm.DB
	n  int
}

// NewFixture returns a Fixture writing to db.
func NewFixture(t testing.TB, db *gorm.DB) *Fixture {
	return &Fixture{t: t, db: db}
}

func (f *Fixture) create(v interface{}) {
	f.t.Helper()
	if err := f.db.Create(v).Error; err != nil {
		f.t.Fatalf("create %T: %v", v, err)
	}
}

// User inserts an active user with the given permission codenames.
func (f *Fixture) User(username string, perms ...string) *models.User {
	f.t.Helper()
	u := &models.User{
		Username: username,
		Email:    username + "@example.org",
		IsActive: true,
	}
	f.create(u)
	for _, p := range perms {
		f.create(&models.UserPermission{UserID: u.ID, Codename: p})
	}
	return u
}

// Project inserts an active project with pi as Principal Investigator and
// members as active users.
func (f *Fixture) Project(name string, pi *models.User, members ...*models.User) *models.Project {
	f.t.Helper()
	p := &models.Project{Name: name, Title: name, Status: models.ProjectStatusActive}
	f.create(p)
	f.create(&models.ProjectUser{
		ProjectID: p.ID, UserID: pi.ID,
		Role: models.ProjectRolePrincipalInvestigator, Status: models.ProjectUserStatusActive,
	})
	for _, m := range members {
		f.create(&models.ProjectUser{
			ProjectID: p.ID, UserID: m.ID,
			Role: models.ProjectRoleUser, Status: models.ProjectUserStatusActive,
		})
	}
	return p
}

// Member adds user to project with the given membership status.
func (f *Fixture) Member(project *models.Project, user *models.User, status models.ProjectUserStatus) {
	f.t.Helper()
	f.create(&models.ProjectUser{
		ProjectID: project.ID, UserID: user.ID,
		Role: models.ProjectRoleUser, Status: status,
	})
}

// Request inserts a storage request for project in status. Approved
// statuses get both reviews approved and the given approval time.
func (f *Fixture) Request(project *models.Project, pi *models.User, status models.StorageRequestStatus, amountGB int, approvedAt *time.Time) *models.StorageRequest {
	f.t.Helper()
	f.n++
	state := models.NewRequestState()
	switch status {
	case models.StorageRequestQueued, models.StorageRequestProcessing, models.StorageRequestComplete:
		state.Eligibility.Status = models.StageApproved
		state.IntakeConsistency.Status = models.StageApproved
	case models.StorageRequestDenied:
		state.Eligibility.Status = models.StageDenied
		state.Eligibility.Justification = fmt.Sprintf("denied fixture %d", f.n)
	}
	if status == models.StorageRequestComplete {
		state.Setup.Status = models.StageComplete
		state.Setup.DirectoryName = project.Name
	}

	r := &models.StorageRequest{
		Status:            status,
		ProjectID:         project.ID,
		RequesterID:       pi.ID,
		PIID:              pi.ID,
		RequestedAmountGB: amountGB,
		RequestTime:       time.Now().UTC().Add(-time.Duration(f.n) * time.Hour),
		ApprovalTime:      approvedAt,
	}
	r.SetState(state)
	f.create(r)
	return r
}

// Allocation inserts an active storage allocation at path with quota.
func (f *Fixture) Allocation(project *models.Project, path string, quotaGB int) *models.Allocation {
	f.t.Helper()
	a := &models.Allocation{
		ProjectID:     project.ID,
		ResourceName:  "Scratch Faculty Storage Directory",
		DirectoryPath: path,
		QuotaGB:       quotaGB,
		Status:        models.AllocationStatusActive,
	}
	f.create(a)
	return a
}

// Age moves a request's modification stamp into the past without running hooks.
func (f *Fixture) Age(r *models.StorageRequest, by time.Duration) {
	f.t.Helper()
	err := f.db.Model(&models.StorageRequest{}).Where("id = ?", r.ID).
		UpdateColumn("updated_at", time.Now().UTC().Add(-by)).Error
	if err != nil {
		f.t.Fatalf("age request %d: %v", r.ID, err)
	}
}
