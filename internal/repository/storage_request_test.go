package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"coldfront/internal/models"
	"coldfront/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func ago(d time.Duration) *time.Time {
	t := time.Now().UTC().Add(-d)
	return &t
}

func TestStorageRequestRepository_ClaimNext_OldestApprovalFirst(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	fx := testutil.NewFixture(t, db)
	repo := NewStorageRequestRepository(db)
	ctx := context.Background()

	pi := fx.User("pi")
	project := fx.Project("fc_lab", pi)
	newer := fx.Request(project, pi, models.StorageRequestQueued, 1000, ago(time.Hour))
	older := fx.Request(project, pi, models.StorageRequestQueued, 2000, ago(2*time.Hour))
	staleBefore := time.Now().UTC().Add(-30 * time.Minute)

	got, kind, err := repo.ClaimNext(ctx, staleBefore, "claim-1")
	require.NoError(t, err)
	assert.Equal(t, older.ID, got.ID)
	assert.Equal(t, ClaimFresh, kind)
	assert.Equal(t, models.StorageRequestProcessing, got.Status)
	assert.Equal(t, "claim-1", got.ClaimID)
	assert.Equal(t, 1, got.ClaimAttempts)
	require.NotNil(t, got.ClaimedAt)

	got, _, err = repo.ClaimNext(ctx, staleBefore, "claim-2")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)

	_, _, err = repo.ClaimNext(ctx, staleBefore, "claim-3")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestStorageRequestRepository_ClaimNext_MissingApprovalTimeGoesLast(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	fx := testutil.NewFixture(t, db)
	repo := NewStorageRequestRepository(db)
	ctx := context.Background()
	staleBefore := time.Now().UTC().Add(-30 * time.Minute)

	pi := fx.User("pi")
	project := fx.Project("fc_lab", pi)
	undated := fx.Request(project, pi, models.StorageRequestQueued, 1000, nil)
	dated := fx.Request(project, pi, models.StorageRequestQueued, 1000, ago(time.Minute))

	got, _, err := repo.ClaimNext(ctx, staleBefore, "claim-1")
	require.NoError(t, err)
	assert.Equal(t, dated.ID, got.ID)

	got, _, err = repo.ClaimNext(ctx, staleBefore, "claim-2")
	require.NoError(t, err)
	assert.Equal(t, undated.ID, got.ID)
}

func TestStorageRequestRepository_ClaimNext_IgnoresOtherStatuses(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	fx := testutil.NewFixture(t, db)
	repo := NewStorageRequestRepository(db)

	pi := fx.User("pi")
	project := fx.Project("fc_lab", pi)
	fx.Request(project, pi, models.StorageRequestUnderReview, 1000, nil)
	fx.Request(project, pi, models.StorageRequestDenied, 1000, nil)
	fx.Request(project, pi, models.StorageRequestComplete, 1000, ago(time.Hour))

	_, _, err := repo.ClaimNext(context.Background(), time.Now().UTC().Add(-30*time.Minute), "c")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestStorageRequestRepository_ClaimNext_StaleProcessing(t *testing.T) {
	tests := []struct {
		name      string
		age       time.Duration
		reclaimed bool
	}{
		{"claim older than timeout is reclaimed", 35 * time.Minute, true},
		{"recent claim is left alone", 10 * time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testutil.NewSQLiteDB(t)
			fx := testutil.NewFixture(t, db)
			repo := NewStorageRequestRepository(db)

			pi := fx.User("pi")
			project := fx.Project("fc_lab", pi)
			r := fx.Request(project, pi, models.StorageRequestProcessing, 1000, ago(2*time.Hour))
			fx.Age(r, tt.age)

			got, kind, err := repo.ClaimNext(context.Background(), time.Now().UTC().Add(-30*time.Minute), "agent-b")
			if !tt.reclaimed {
				assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, r.ID, got.ID)
			assert.Equal(t, ClaimReclaimed, kind)
			assert.Equal(t, "agent-b", got.ClaimID)
			assert.Equal(t, models.StorageRequestProcessing, got.Status)
		})
	}
}

func TestStorageRequestRepository_ClaimNext_PrefersQueuedOverStale(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	fx := testutil.NewFixture(t, db)
	repo := NewStorageRequestRepository(db)

	pi := fx.User("pi")
	project := fx.Project("fc_lab", pi)
	stale := fx.Request(project, pi, models.StorageRequestProcessing, 1000, ago(5*time.Hour))
	fx.Age(stale, 2*time.Hour)
	queued := fx.Request(project, pi, models.StorageRequestQueued, 1000, ago(time.Hour))

	got, kind, err := repo.ClaimNext(context.Background(), time.Now().UTC().Add(-30*time.Minute), "c")
	require.NoError(t, err)
	assert.Equal(t, queued.ID, got.ID)
	assert.Equal(t, ClaimFresh, kind)
}

// SQLite is pinned to one connection, so these claims run one transaction at a
// time; this checks the bookkeeping across many callers, not row locking.
// TestStorageRequestRepository_ClaimNext_PostgresIntegration covers SKIP
// LOCKED when COLDFRONT_TEST_POSTGRES_DSN is set.
func TestStorageRequestRepository_ClaimNext_ManyCallersClaimEachOnce(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	fx := testutil.NewFixture(t, db)
	repo := NewStorageRequestRepository(db)

	pi := fx.User("pi")
	project := fx.Project("fc_lab", pi)
	const queued = 5
	for i := 0; i < queued; i++ {
		fx.Request(project, pi, models.StorageRequestQueued, 100, ago(time.Duration(i+1)*time.Hour))
	}
	staleBefore := time.Now().UTC().Add(-30 * time.Minute)

	var (
		mu      sync.Mutex
		claimed = map[uint]int{}
		empty   int
		wg      sync.WaitGroup
	)
	for i := 0; i < 2*queued; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var id uint
			err := db.Transaction(func(tx *gorm.DB) error {
				r, _, err := repo.WithTx(tx).ClaimNext(context.Background(), staleBefore, "agent")
				if err != nil {
					return err
				}
				id = r.ID
				return nil
			})
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, gorm.ErrRecordNotFound) {
				empty++
				return
			}
			assert.NoError(t, err)
			claimed[id]++
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, queued)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "request %d claimed more than once", id)
	}
	assert.Equal(t, queued, empty)
}

// Another agent claims the picked row between the select and the update; the
// conditional update must miss it and fall through to the next candidate.
func TestStorageRequestRepository_ClaimNext_LostRaceTakesNextCandidate(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	fx := testutil.NewFixture(t, db)
	repo := NewStorageRequestRepository(db)

	pi := fx.User("pi")
	project := fx.Project("fc_lab", pi)
	first := fx.Request(project, pi, models.StorageRequestQueued, 100, ago(2*time.Hour))
	second := fx.Request(project, pi, models.StorageRequestQueued, 100, ago(time.Hour))

	stolen := false
	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("test:steal_claim", func(tx *gorm.DB) {
		if stolen || tx.Statement.Table != "storage_requests" {
			return
		}
		stolen = true
		// Same connection as the pending update; the pool has only one.
		require.NoError(t, tx.Session(&gorm.Session{NewDB: true}).
			Exec("UPDATE storage_requests SET status = ?, claim_id = ? WHERE id = ?",
				models.StorageRequestProcessing, "other-agent", first.ID).Error)
	}))

	got, kind, err := repo.ClaimNext(context.Background(), time.Now().UTC().Add(-30*time.Minute), "agent")
	require.NoError(t, err)
	assert.True(t, stolen)
	assert.Equal(t, ClaimFresh, kind)
	assert.Equal(t, second.ID, got.ID)
	assert.Equal(t, "agent", got.ClaimID)

	var other models.StorageRequest
	require.NoError(t, db.First(&other, first.ID).Error)
	assert.Equal(t, "other-agent", other.ClaimID)
	assert.Equal(t, 0, other.ClaimAttempts)
}

func TestStorageRequestRepository_GetByID(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	fx := testutil.NewFixture(t, db)
	repo := NewStorageRequestRepository(db)
	ctx := context.Background()

	pi := fx.User("pi")
	project := fx.Project("fc_lab", pi)
	r := fx.Request(project, pi, models.StorageRequestUnderReview, 1000, nil)

	got, err := repo.GetByID(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Project)
	require.NotNil(t, got.PI)
	assert.Equal(t, "fc_lab", got.Project.Name)
	assert.Equal(t, "pi", got.PI.Username)
	assert.Equal(t, models.StagePending, got.StateData().Eligibility.Status)

	_, err = repo.GetByID(ctx, 9999)
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
	assert.Equal(t, "Storage request 9999 not found.", err.Error())
}

func TestStorageRequestRepository_SaveRoundTripsState(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	fx := testutil.NewFixture(t, db)
	repo := NewStorageRequestRepository(db)
	ctx := context.Background()

	pi := fx.User("pi")
	project := fx.Project("fc_lab", pi)
	r := fx.Request(project, pi, models.StorageRequestUnderReview, 1000, nil)

	loaded, err := repo.GetForUpdate(ctx, r.ID)
	require.NoError(t, err)
	state := loaded.StateData()
	state.Eligibility.Status = models.StageApproved
	loaded.SetState(state)
	require.NoError(t, repo.Save(ctx, loaded))

	again, err := repo.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageApproved, again.StateData().Eligibility.Status)
	assert.Equal(t, models.StagePending, again.StateData().IntakeConsistency.Status)
}

func TestStorageRequestRepository_List(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	fx := testutil.NewFixture(t, db)
	repo := NewStorageRequestRepository(db)
	ctx := context.Background()

	pi := fx.User("pi")
	other := fx.User("other_pi")
	lab := fx.Project("fc_lab", pi)
	otherLab := fx.Project("fc_other", other)
	fx.Request(lab, pi, models.StorageRequestUnderReview, 1000, nil)
	fx.Request(lab, pi, models.StorageRequestQueued, 1000, ago(time.Hour))
	fx.Request(otherLab, other, models.StorageRequestQueued, 1000, ago(time.Hour))

	all, total, err := repo.List(ctx, StorageRequestFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, all, 3)

	queued, total, err := repo.List(ctx, StorageRequestFilter{Status: models.StorageRequestQueued})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, queued, 2)

	mine, total, err := repo.List(ctx, StorageRequestFilter{InvolvingUserID: other.ID, Status: models.StorageRequestQueued})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, mine, 1)
	assert.Equal(t, otherLab.ID, mine[0].ProjectID)

	page, total, err := repo.List(ctx, StorageRequestFilter{ProjectID: lab.ID, Limit: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, page, 1)
}

func TestStorageRequestRepository_CountByStatus(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	fx := testutil.NewFixture(t, db)
	repo := NewStorageRequestRepository(db)

	pi := fx.User("pi")
	project := fx.Project("fc_lab", pi)
	fx.Request(project, pi, models.StorageRequestQueued, 1000, ago(time.Hour))
	fx.Request(project, pi, models.StorageRequestQueued, 1000, ago(time.Hour))
	fx.Request(project, pi, models.StorageRequestDenied, 1000, nil)

	counts, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Len(t, counts, len(models.StorageRequestStatuses))
	assert.EqualValues(t, 2, counts[models.StorageRequestQueued])
	assert.EqualValues(t, 1, counts[models.StorageRequestDenied])
	assert.EqualValues(t, 0, counts[models.StorageRequestProcessing])
}

func TestStorageRequestRepository_HasNonDeniedForPI(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	fx := testutil.NewFixture(t, db)
	repo := NewStorageRequestRepository(db)
	ctx := context.Background()

	pi := fx.User("pi")
	project := fx.Project("fc_lab", pi)
	fx.Request(project, pi, models.StorageRequestDenied, 1000, nil)

	has, err := repo.HasNonDeniedForPI(ctx, pi.ID)
	require.NoError(t, err)
	assert.False(t, has)

	fx.Request(project, pi, models.StorageRequestUnderReview, 1000, nil)
	has, err = repo.HasNonDeniedForPI(ctx, pi.ID)
	require.NoError(t, err)
	assert.True(t, has)
}
