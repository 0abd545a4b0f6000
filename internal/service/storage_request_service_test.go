package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"coldfront/internal/config"
	"coldfront/internal/eligibility"
	"coldfront/internal/models"
	"coldfront/internal/notifications"
	"coldfront/internal/repository"
	"coldfront/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []notifications.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e notifications.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []notifications.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]notifications.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	db  *gorm.DB
	fx  *testutil.Fixture
	svc *StorageRequestService
	pub *recordingPublisher
}

func testDeployment() config.Deployment {
	return config.Deployment{
		Name:                "BRC",
		StorageResourceName: "Scratch Faculty Storage Directory",
		StorageBasePath:     "/global/scratch/fsa",
		ClaimTimeout:        30 * time.Minute,
		AdminEmails:         []string{"admin@example.org"},
	}
}

func newTestEnv(t *testing.T, policy eligibility.Policy) *testEnv {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	pub := &recordingPublisher{}
	svc := NewStorageRequestService(StorageRequestServiceDeps{
		DB:          db,
		Requests:    repository.NewStorageRequestRepository(db),
		Projects:    repository.NewProjectRepository(db),
		Users:       repository.NewUserRepository(db),
		Allocations: repository.NewAllocationRepository(db),
		Policy:      policy,
		Publisher:   pub,
		Deployment:  testDeployment(),
	})
	return &testEnv{db: db, fx: testutil.NewFixture(t, db), svc: svc, pub: pub}
}

func ago(d time.Duration) *time.Time {
	t := time.Now().UTC().Add(-d)
	return &t
}

func TestClaimNext_ReturnsOldestApprovalThenNext(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	pi := env.fx.User("pi")
	project := env.fx.Project("fc_lab", pi)
	r1 := env.fx.Request(project, pi, models.StorageRequestQueued, 1000, ago(2*time.Hour))
	r2 := env.fx.Request(project, pi, models.StorageRequestQueued, 500, ago(time.Hour))

	first, err := env.svc.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, r1.ID, first.Request.ID)
	assert.Equal(t, models.StorageRequestProcessing, first.Request.Status)
	assert.Equal(t, repository.ClaimFresh, first.Kind)
	assert.Equal(t, "/global/scratch/fsa/fc_lab", first.DirectoryPath)
	assert.Equal(t, 1000, first.SetSizeGB)
	assert.Equal(t, 1000, first.RequestedDeltaGB)
	assert.NotEmpty(t, first.Request.ClaimID)

	second, err := env.svc.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, r2.ID, second.Request.ID)

	none, err := env.svc.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestClaimNext_SetSizeAddsToExistingQuota(t *testing.T) {
	env := newTestEnv(t, nil)

	pi := env.fx.User("pi")
	project := env.fx.Project("fc_lab", pi)
	env.fx.Allocation(project, "/global/scratch/fsa/fc_lab", 500)
	r := env.fx.Request(project, pi, models.StorageRequestQueued, 1000, ago(time.Hour))
	approved := 750
	require.NoError(t, env.db.Model(r).UpdateColumn("approved_amount_gb", approved).Error)

	claimed, err := env.svc.ClaimNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, 1250, claimed.SetSizeGB)
	assert.Equal(t, 750, claimed.RequestedDeltaGB)
}

func TestClaimNext_ReclaimsStaleProcessing(t *testing.T) {
	env := newTestEnv(t, nil)

	pi := env.fx.User("pi")
	project := env.fx.Project("fc_lab", pi)
	fresh := env.fx.Request(project, pi, models.StorageRequestProcessing, 100, ago(3*time.Hour))
	env.fx.Age(fresh, 10*time.Minute)

	none, err := env.svc.ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, none)

	env.fx.Age(fresh, 35*time.Minute)
	got, err := env.svc.ClaimNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, fresh.ID, got.Request.ID)
	assert.Equal(t, repository.ClaimReclaimed, got.Kind)
}

// The test database serializes transactions, so this exercises the service's
// transaction and payload handling under many callers rather than row locks.
func TestClaimNext_ManyCallersGetDistinctRequests(t *testing.T) {
	env := newTestEnv(t, nil)

	pi := env.fx.User("pi")
	project := env.fx.Project("fc_lab", pi)
	for i := 0; i < 4; i++ {
		env.fx.Request(project, pi, models.StorageRequestQueued, 100, ago(time.Duration(i+1)*time.Hour))
	}

	var (
		mu   sync.Mutex
		seen = map[uint]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := env.svc.ClaimNext(context.Background())
			assert.NoError(t, err)
			if c == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[c.Request.ID], "request %d handed out twice", c.Request.ID)
			seen[c.Request.ID] = true
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 4)
}

func TestComplete_ProvisionsAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	pi := env.fx.User("pi")
	member := env.fx.User("member")
	leaving := env.fx.User("leaving")
	project := env.fx.Project("fc_lab", pi, member)
	env.fx.Member(project, leaving, models.ProjectUserStatusPendingRemove)
	r := env.fx.Request(project, pi, models.StorageRequestProcessing, 1000, ago(time.Hour))

	done, already, err := env.svc.Complete(ctx, r.ID, "fc_lab_data")
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, models.StorageRequestComplete, done.Status)
	require.NotNil(t, done.ApprovedAmountGB)
	assert.Equal(t, 1000, *done.ApprovedAmountGB)
	require.NotNil(t, done.CompletionTime)
	setup := done.StateData().Setup
	assert.Equal(t, models.StageComplete, setup.Status)
	assert.Equal(t, "fc_lab_data", setup.DirectoryName)
	assert.NotNil(t, setup.Timestamp)

	var allocs []models.Allocation
	require.NoError(t, env.db.Preload("Users").Where("project_id = ?", project.ID).Find(&allocs).Error)
	require.Len(t, allocs, 1)
	assert.Equal(t, "/global/scratch/fsa/fc_lab_data", allocs[0].DirectoryPath)
	assert.Equal(t, 1000, allocs[0].QuotaGB)
	assert.Equal(t, models.AllocationStatusActive, allocs[0].Status)
	var users []uint
	for _, u := range allocs[0].Users {
		users = append(users, u.UserID)
	}
	assert.ElementsMatch(t, []uint{pi.ID, member.ID}, users)
	assert.Equal(t, []notifications.EventType{notifications.EventRequestCompleted}, env.pub.types())

	again, already, err := env.svc.Complete(ctx, r.ID, "fc_lab_data")
	require.NoError(t, err)
	assert.True(t, already)
	assert.Equal(t, done.CompletionTime.Unix(), again.CompletionTime.Unix())
	var alloc models.Allocation
	require.NoError(t, env.db.Where("project_id = ?", project.ID).First(&alloc).Error)
	assert.Equal(t, 1000, alloc.QuotaGB)
	assert.Len(t, env.pub.types(), 1)
}

func TestComplete_AddsToExistingAllocation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	pi := env.fx.User("pi")
	project := env.fx.Project("fc_lab", pi)
	env.fx.Allocation(project, "/global/scratch/fsa/fc_lab", 500)
	r := env.fx.Request(project, pi, models.StorageRequestProcessing, 250, ago(time.Hour))

	_, err := env.svc.CompleteClaimed(ctx, r.ID, " fc_lab ")
	require.NoError(t, err)

	alloc, err := repository.NewAllocationRepository(env.db).GetByDirectory(ctx, "/global/scratch/fsa/fc_lab")
	require.NoError(t, err)
	assert.Equal(t, 750, alloc.QuotaGB)
}

func TestComplete_ProvisioningFailureRollsBack(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	pi := env.fx.User("pi")
	project := env.fx.Project("fc_lab", pi)
	other := env.fx.Project("fc_other", env.fx.User("other_pi"))
	env.fx.Allocation(other, "/global/scratch/fsa/shared", 100)
	r := env.fx.Request(project, pi, models.StorageRequestProcessing, 250, ago(time.Hour))

	_, err := env.svc.CompleteClaimed(ctx, r.ID, "shared")
	require.Error(t, err)

	after, err := env.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StorageRequestProcessing, after.Status)
	assert.Nil(t, after.CompletionTime)
	assert.Empty(t, env.pub.types())
}

func TestCompleteClaimed_Preconditions(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	pi := env.fx.User("pi")
	project := env.fx.Project("fc_lab", pi)
	queued := env.fx.Request(project, pi, models.StorageRequestQueued, 100, ago(time.Hour))
	processing := env.fx.Request(project, pi, models.StorageRequestProcessing, 100, ago(time.Hour))

	_, err := env.svc.CompleteClaimed(ctx, queued.ID, "fc_lab")
	require.Error(t, err)
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))
	assert.Contains(t, err.Error(), `is in status "Approved - Queued", expected "Approved - Processing". Cannot complete.`)

	_, err = env.svc.CompleteClaimed(ctx, processing.ID, "   ")
	require.Error(t, err)
	var appErr *models.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "Directory name cannot be empty.", appErr.Fields["directory_name"])

	_, err = env.svc.CompleteClaimed(ctx, 9999, "x")
	assert.True(t, models.IsNotFound(err))
}

func TestComplete_RejectsUnapproved(t *testing.T) {
	env := newTestEnv(t, nil)
	pi := env.fx.User("pi")
	project := env.fx.Project("fc_lab", pi)
	r := env.fx.Request(project, pi, models.StorageRequestUnderReview, 100, nil)

	_, _, err := env.svc.Complete(context.Background(), r.ID, "fc_lab")
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))
}

func TestComplete_NotificationFailureDoesNotFail(t *testing.T) {
	env := newTestEnv(t, nil)
	env.pub.err = errors.New("redis down")

	pi := env.fx.User("pi")
	project := env.fx.Project("fc_lab", pi)
	r := env.fx.Request(project, pi, models.StorageRequestProcessing, 100, ago(time.Hour))

	done, err := env.svc.CompleteClaimed(context.Background(), r.ID, "fc_lab")
	require.NoError(t, err)
	assert.Equal(t, models.StorageRequestComplete, done.Status)
}
