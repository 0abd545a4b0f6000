// Package seed provides helpers to create demo data for the allocation
// portal database. These helpers are intended for development and testing
// only.
package seed

import (
	"fmt"
	"log"
	"math/rand"
	"path"
	"strings"
	"time"

	"coldfront/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DemoPassword is the password given to every seeded account.
const DemoPassword = "password123"

// Factory builds domain entities and persists them to the database.
// It is a thin helper used by Demo and tests.
type Factory struct {
	db   *gorm.DB
	opts Options
	rng  *rand.Rand
	// synthetic ID counter when running in DryRun mode
	nextID uint
	// cached hash so bulk user creation pays bcrypt once
	passwordHash string
}

// NewFactory creates a new Factory bound to the provided Gorm DB.
func NewFactory(db *gorm.DB, opts Options) *Factory {
	gofakeit.Seed(time.Now().UnixNano())
	//nolint:gosec // Weak random number generator is fine for seeding
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Factory{db: db, opts: opts.withDefaults(), rng: rng, nextID: 1000}
}

func (f *Factory) password() string {
	if f.opts.SkipBcrypt {
		return DemoPassword
	}
	if f.passwordHash == "" {
		hashed, _ := bcrypt.GenerateFromPassword([]byte(DemoPassword), bcrypt.DefaultCost)
		f.passwordHash = string(hashed)
	}
	return f.passwordHash
}

func (f *Factory) persist(kind string, v any, setID func(uint)) error {
	if f.opts.DryRun {
		f.nextID++
		setID(f.nextID)
		log.Printf("[dry-run] Create%s: %+v", kind, v)
		return nil
	}
	return f.db.Create(v).Error
}

// CreateUser constructs and persists a sample user with the given
// permission codenames. Optional overrides modify the user before saving.
func (f *Factory) CreateUser(perms []string, overrides ...func(*models.User)) (*models.User, error) {
	first, last := gofakeit.FirstName(), gofakeit.LastName()
	username := strings.ToLower(fmt.Sprintf("%s.%s%d", first, last, gofakeit.Number(100, 999)))
	username = strings.NewReplacer(" ", "", "'", "").Replace(username)

	user := &models.User{
		Username:  username,
		Email:     username + "@" + gofakeit.DomainName(),
		FirstName: first,
		LastName:  last,
		Password:  f.password(),
		IsActive:  true,
	}
	for _, override := range overrides {
		override(user)
	}

	if err := f.persist("User", user, func(id uint) { user.ID = id }); err != nil {
		return nil, err
	}
	for _, codename := range perms {
		perm := &models.UserPermission{UserID: user.ID, Codename: codename}
		if err := f.persist("UserPermission", perm, func(id uint) { perm.ID = id }); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// CreateProject persists an active project led by pi, with members added as
// active users.
func (f *Factory) CreateProject(pi *models.User, members []*models.User, overrides ...func(*models.Project)) (*models.Project, error) {
	name := fmt.Sprintf("fc_%s%d", strings.ToLower(gofakeit.Noun()), gofakeit.Number(10, 9999))
	project := &models.Project{
		Name:   strings.NewReplacer(" ", "", "-", "").Replace(name),
		Title:  strings.TrimSuffix(gofakeit.Sentence(4), "."),
		Status: models.ProjectStatusActive,
	}
	for _, override := range overrides {
		override(project)
	}
	if err := f.persist("Project", project, func(id uint) { project.ID = id }); err != nil {
		return nil, err
	}

	add := func(u *models.User, role models.ProjectUserRole) error {
		pu := &models.ProjectUser{
			ProjectID: project.ID,
			UserID:    u.ID,
			Role:      role,
			Status:    models.ProjectUserStatusActive,
		}
		return f.persist("ProjectUser", pu, func(id uint) { pu.ID = id })
	}
	if err := add(pi, models.ProjectRolePrincipalInvestigator); err != nil {
		return nil, err
	}
	for _, m := range members {
		if err := add(m, models.ProjectRoleUser); err != nil {
			return nil, err
		}
	}
	return project, nil
}

// BuildStorageRequest constructs a request for project in status without
// persisting it. The review state, timestamps and claim fields are filled in
// so the row is consistent with having reached status through the workflow.
func (f *Factory) BuildStorageRequest(project *models.Project, pi *models.User, status models.StorageRequestStatus) *models.StorageRequest {
	now := time.Now().UTC()
	daysBack := f.rng.Intn(f.opts.MaxDays)
	requested := now.Add(-time.Duration(daysBack)*24*time.Hour - time.Duration(f.rng.Intn(24))*time.Hour)
	reviewed := requested.Add(time.Duration(1+f.rng.Intn(48)) * time.Hour)
	if reviewed.After(now) {
		reviewed = now
	}

	amounts := []int{100, 250, 500, 1000, 2000, 5000}
	amount := amounts[f.rng.Intn(len(amounts))]

	r := &models.StorageRequest{
		Status:            status,
		ProjectID:         project.ID,
		RequesterID:       pi.ID,
		PIID:              pi.ID,
		RequestedAmountGB: amount,
		RequestTime:       requested,
	}

	state := models.NewRequestState()
	switch status {
	case models.StorageRequestQueued, models.StorageRequestProcessing, models.StorageRequestComplete:
		state.Eligibility = models.ReviewStage{Status: models.StageApproved, Timestamp: &reviewed}
		state.IntakeConsistency = models.ReviewStage{Status: models.StageApproved, Timestamp: &reviewed}
		approved := amount
		r.ApprovedAmountGB = &approved
		r.ApprovalTime = &reviewed
	case models.StorageRequestDenied:
		state.Eligibility = models.ReviewStage{
			Status:        models.StageDenied,
			Justification: "PI is not eligible for a faculty storage allocation.",
			Timestamp:     &reviewed,
		}
	}

	switch status {
	case models.StorageRequestProcessing:
		r.ClaimID = uuid.NewString()
		r.ClaimedAt = &now
		r.ClaimAttempts = 1
	case models.StorageRequestComplete:
		completed := reviewed.Add(time.Duration(1+f.rng.Intn(12)) * time.Hour)
		if completed.After(now) {
			completed = now
		}
		state.Setup = models.SetupStage{
			Status:        models.StageComplete,
			DirectoryName: project.Name,
			Timestamp:     &completed,
		}
		r.CompletionTime = &completed
	}
	r.SetState(state)
	return r
}

// CreateStorageRequest builds and persists a request. Completed requests
// also get the allocation they would have provisioned.
func (f *Factory) CreateStorageRequest(project *models.Project, pi *models.User, status models.StorageRequestStatus) (*models.StorageRequest, error) {
	r := f.BuildStorageRequest(project, pi, status)
	if err := f.persist("StorageRequest", r, func(id uint) { r.ID = id }); err != nil {
		return nil, err
	}
	if status == models.StorageRequestComplete {
		if _, err := f.CreateAllocation(project, r.StateData().Setup.DirectoryName, r.EffectiveAmountGB(), pi); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// CreateAllocation persists an active storage allocation named dirName
// under the configured base path, granting access to users.
func (f *Factory) CreateAllocation(project *models.Project, dirName string, quotaGB int, users ...*models.User) (*models.Allocation, error) {
	alloc := &models.Allocation{
		ProjectID:     project.ID,
		ResourceName:  f.opts.ResourceName,
		DirectoryPath: path.Join(f.opts.StorageBasePath, dirName),
		QuotaGB:       quotaGB,
		Status:        models.AllocationStatusActive,
	}
	if err := f.persist("Allocation", alloc, func(id uint) { alloc.ID = id }); err != nil {
		return nil, err
	}
	for _, u := range users {
		au := &models.AllocationUser{
			AllocationID: alloc.ID,
			UserID:       u.ID,
			Status:       models.AllocationUserStatusActive,
		}
		if err := f.persist("AllocationUser", au, func(id uint) { au.ID = id }); err != nil {
			return nil, err
		}
	}
	return alloc, nil
}
