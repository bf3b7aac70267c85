package services

import (
	"sync"
	"testing"
	"time"

	"xp-ledger-system/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// seedClosedPool creates a pool whose week ended in the past, plus
// transaction-log entries inside that week giving each user the stated weight.
func seedClosedPool(t *testing.T, db *gorm.DB, totalCredits int64, weights map[string]int64) *models.WeeklyPool {
	t.Helper()

	weekStart := WeekStartOf(time.Now().UTC().AddDate(0, 0, -14))
	pool := &models.WeeklyPool{
		ID:           uuid.NewString(),
		WeekStart:    weekStart,
		WeekEnd:      weekStart.AddDate(0, 0, 7),
		TotalCredits: totalCredits,
	}
	require.NoError(t, db.Create(pool).Error)

	for userID, weight := range weights {
		entry := models.XPTransaction{
			ID:           uuid.NewString(),
			UserID:       userID,
			Amount:       weight,
			ActivityKind: models.ActivityGoalComplete,
			CreatedAt:    weekStart.Add(24 * time.Hour),
		}
		require.NoError(t, db.Create(&entry).Error)
	}
	return pool
}

func TestWeekStartOf(t *testing.T) {
	// 2026-08-26 is a Wednesday; its week starts Monday 2026-08-24
	wed := time.Date(2026, 8, 26, 15, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC), WeekStartOf(wed))

	// A Monday maps to itself
	mon := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, mon, WeekStartOf(mon))

	// Sunday still belongs to the Monday before it
	sun := time.Date(2026, 8, 30, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, mon, WeekStartOf(sun))
}

func TestEnsurePoolForWeek_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	pool := NewWeeklyPoolService(db)

	first, err := pool.EnsurePoolForWeek(time.Now().UTC())
	require.NoError(t, err)
	second, err := pool.EnsurePoolForWeek(time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&models.WeeklyPool{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestEnsurePoolForWeek_ConcurrentCreate(t *testing.T) {
	db := setupTestDB(t)
	svc := NewWeeklyPoolService(db)

	now := time.Now().UTC()
	var wg sync.WaitGroup
	pools := make([]*models.WeeklyPool, 4)
	errs := make([]error, 4)
	for i := range pools {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pools[i], errs[i] = svc.EnsurePoolForWeek(now)
		}(i)
	}
	wg.Wait()

	// Every caller gets the same row; the unique-index losers re-fetch it.
	for i := range pools {
		require.NoError(t, errs[i])
		require.NotNil(t, pools[i])
		assert.Equal(t, pools[0].ID, pools[i].ID)
	}

	var count int64
	require.NoError(t, db.Model(&models.WeeklyPool{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDistribute_PeriodNotClosed(t *testing.T) {
	db := setupTestDB(t)
	pool := NewWeeklyPoolService(db)

	open, err := pool.EnsurePoolForWeek(time.Now().UTC())
	require.NoError(t, err)

	_, err = pool.Distribute(open.ID)
	assert.ErrorIs(t, err, ErrPeriodNotClosed)
}

func TestDistribute_ProportionalSharesConserveTotal(t *testing.T) {
	db := setupTestDB(t)
	svc := NewWeeklyPoolService(db)
	svc.MinWeight = 50

	pool := seedClosedPool(t, db, 1000, map[string]int64{
		"user-a": 600,
		"user-b": 300,
		"user-c": 100,
	})

	result, err := svc.Distribute(pool.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), result.TotalWeight)
	require.Len(t, result.Payouts, 3)

	var paid int64
	byUser := map[string]int64{}
	for _, p := range result.Payouts {
		paid += p.Credits
		byUser[p.UserID] = p.Credits
	}
	assert.Equal(t, int64(1000), paid) // pays out exactly TotalCredits
	assert.Equal(t, int64(600), byUser["user-a"])
	assert.Equal(t, int64(300), byUser["user-b"])
	assert.Equal(t, int64(100), byUser["user-c"])

	var rows int64
	require.NoError(t, db.Model(&models.PoolPayout{}).Where("pool_id = ?", pool.ID).Count(&rows).Error)
	assert.Equal(t, int64(3), rows)
}

func TestDistribute_RemainderGoesToHighestWeight(t *testing.T) {
	db := setupTestDB(t)
	svc := NewWeeklyPoolService(db)
	svc.MinWeight = 0

	pool := seedClosedPool(t, db, 100, map[string]int64{
		"user-a": 70,
		"user-b": 60,
		"user-c": 71,
	})

	result, err := svc.Distribute(pool.ID)
	require.NoError(t, err)

	var paid int64
	byUser := map[string]int64{}
	for _, p := range result.Payouts {
		paid += p.Credits
		byUser[p.UserID] = p.Credits
	}
	// Floors: 70*100/201=34, 60*100/201=29, 71*100/201=35 → 98 paid,
	// remainder 2 goes to user-c (highest weight)
	assert.Equal(t, int64(100), paid)
	assert.Equal(t, int64(34), byUser["user-a"])
	assert.Equal(t, int64(29), byUser["user-b"])
	assert.Equal(t, int64(37), byUser["user-c"])
}

func TestDistribute_MinWeightThresholdExcludes(t *testing.T) {
	db := setupTestDB(t)
	svc := NewWeeklyPoolService(db)
	svc.MinWeight = 50

	pool := seedClosedPool(t, db, 1000, map[string]int64{
		"user-a": 500,
		"user-b": 10, // below threshold: no share, no dilution claim
	})

	result, err := svc.Distribute(pool.ID)
	require.NoError(t, err)
	require.Len(t, result.Payouts, 1)
	assert.Equal(t, "user-a", result.Payouts[0].UserID)
	assert.Equal(t, int64(1000), result.Payouts[0].Credits)
}

func TestDistribute_ExactlyOnce(t *testing.T) {
	db := setupTestDB(t)
	svc := NewWeeklyPoolService(db)
	svc.MinWeight = 0

	pool := seedClosedPool(t, db, 500, map[string]int64{"user-a": 100})

	_, err := svc.Distribute(pool.ID)
	require.NoError(t, err)

	_, err = svc.Distribute(pool.ID)
	assert.ErrorIs(t, err, ErrAlreadyDistributed)

	var paid int64
	require.NoError(t, db.Model(&models.PoolPayout{}).Where("pool_id = ?", pool.ID).
		Select("COALESCE(SUM(credits), 0)").Scan(&paid).Error)
	assert.Equal(t, int64(500), paid)
}

func TestDistribute_ConcurrentCallersSinglePayout(t *testing.T) {
	db := setupTestDB(t)
	svc := NewWeeklyPoolService(db)
	svc.MinWeight = 0

	pool := seedClosedPool(t, db, 500, map[string]int64{"user-a": 100, "user-b": 100})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Distribute(pool.ID)
		}(i)
	}
	wg.Wait()

	var successes int
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			require.ErrorIs(t, err, ErrAlreadyDistributed)
		}
	}
	assert.Equal(t, 1, successes)

	var paid int64
	require.NoError(t, db.Model(&models.PoolPayout{}).Where("pool_id = ?", pool.ID).
		Select("COALESCE(SUM(credits), 0)").Scan(&paid).Error)
	assert.Equal(t, int64(500), paid)
}

func TestDistribute_UnknownPool(t *testing.T) {
	db := setupTestDB(t)
	svc := NewWeeklyPoolService(db)

	_, err := svc.Distribute(uuid.NewString())
	assert.ErrorIs(t, err, ErrValidation)
}

func TestClosedUndistributed(t *testing.T) {
	db := setupTestDB(t)
	svc := NewWeeklyPoolService(db)
	svc.MinWeight = 0

	closed := seedClosedPool(t, db, 500, map[string]int64{"user-a": 100})
	_, err := svc.EnsurePoolForWeek(time.Now().UTC()) // still open
	require.NoError(t, err)

	pools, err := svc.ClosedUndistributed()
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Equal(t, closed.ID, pools[0].ID)

	_, err = svc.Distribute(closed.ID)
	require.NoError(t, err)

	pools, err = svc.ClosedUndistributed()
	require.NoError(t, err)
	assert.Empty(t, pools)
}
