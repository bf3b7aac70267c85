package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"xp-ledger-system/models"
	"xp-ledger-system/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultWeeklyPoolCredits = 1000
	defaultMinPoolWeight     = 50
)

// WeeklyPoolService distributes a fixed credit pool proportionally to each
// participant's XP earned inside the period, exactly once per period.
//
// Flooring remainder policy: the leftover credits after flooring every share
// are assigned to the highest-weight participant (ties broken by the
// lexicographically smallest user id), so the pool always pays out exactly
// TotalCredits.
type WeeklyPoolService struct {
	DB *gorm.DB

	// MinWeight excludes drive-by participants: users must earn at least
	// this much XP inside the period to qualify for a share.
	MinWeight     int64
	WeeklyCredits int64
}

func NewWeeklyPoolService(db *gorm.DB) *WeeklyPoolService {
	s := &WeeklyPoolService{
		DB:            db,
		MinWeight:     defaultMinPoolWeight,
		WeeklyCredits: defaultWeeklyPoolCredits,
	}
	if v := os.Getenv("POOL_MIN_WEIGHT"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed >= 0 {
			s.MinWeight = parsed
		} else {
			log.Printf("⚠️  Invalid POOL_MIN_WEIGHT=%q, using default %d", v, s.MinWeight)
		}
	}
	if v := os.Getenv("WEEKLY_POOL_CREDITS"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
			s.WeeklyCredits = parsed
		} else {
			log.Printf("⚠️  Invalid WEEKLY_POOL_CREDITS=%q, using default %d", v, s.WeeklyCredits)
		}
	}
	return s
}

// WeekStartOf normalizes t to the preceding Monday 00:00 UTC.
func WeekStartOf(t time.Time) time.Time {
	t = t.UTC()
	day := t.Truncate(24 * time.Hour)
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	return day.AddDate(0, 0, -offset)
}

// EnsurePoolForWeek creates the pool row for the week containing t, if it
// does not already exist (idempotent).
func (s *WeeklyPoolService) EnsurePoolForWeek(t time.Time) (*models.WeeklyPool, error) {
	weekStart := WeekStartOf(t)

	var pool models.WeeklyPool
	err := s.DB.Where("week_start = ?", weekStart).First(&pool).Error
	if err == nil {
		return &pool, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storageErr(err)
	}

	pool = models.WeeklyPool{
		ID:           uuid.NewString(),
		WeekStart:    weekStart,
		WeekEnd:      weekStart.AddDate(0, 0, 7),
		TotalCredits: s.WeeklyCredits,
	}
	if err := s.DB.Create(&pool).Error; err != nil {
		// A concurrent caller may have created the row first; the unique
		// index on week_start rejects ours, so return the winner's.
		var existing models.WeeklyPool
		if refetch := s.DB.Where("week_start = ?", weekStart).First(&existing).Error; refetch == nil {
			return &existing, nil
		}
		return nil, storageErr(err)
	}
	log.Printf("🗓️  Weekly pool opened: %s (%d credits, %s → %s)",
		pool.ID, pool.TotalCredits, pool.WeekStart.Format("2006-01-02"), pool.WeekEnd.Format("2006-01-02"))
	return &pool, nil
}

// ClosedUndistributed lists pools whose period has ended but whose payout has
// not run yet.
func (s *WeeklyPoolService) ClosedUndistributed() ([]models.WeeklyPool, error) {
	var pools []models.WeeklyPool
	err := s.DB.Where("distributed = ? AND week_end <= ?", false, time.Now().UTC()).
		Order("week_start ASC").
		Find(&pools).Error
	if err != nil {
		return nil, storageErr(err)
	}
	return pools, nil
}

// DistributionResult summarizes a completed payout.
type DistributionResult struct {
	Pool        models.WeeklyPool   `json:"pool"`
	Payouts     []models.PoolPayout `json:"payouts"`
	TotalWeight int64               `json:"total_weight"`
}

type participantWeight struct {
	UserID string
	Weight int64
}

// Distribute pays out a closed pool. The distributed flag is checked-and-set
// with a conditional UPDATE inside the same transaction as the payout
// computation, so a concurrent second caller cannot double-pay the pool.
func (s *WeeklyPoolService) Distribute(poolID string) (*DistributionResult, error) {
	var result *DistributionResult
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var pool models.WeeklyPool
		if err := tx.First(&pool, "id = ?", poolID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: pool %s not found", ErrValidation, poolID)
			}
			return storageErr(err)
		}

		if time.Now().UTC().Before(pool.WeekEnd) {
			return fmt.Errorf("%w: week ends %s", ErrPeriodNotClosed, pool.WeekEnd.Format(time.RFC3339))
		}

		res := tx.Model(&models.WeeklyPool{}).
			Where("id = ? AND distributed = ?", poolID, false).
			UpdateColumn("distributed", true)
		if res.Error != nil {
			return storageErr(res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyDistributed
		}

		var participants []participantWeight
		if err := tx.Model(&models.XPTransaction{}).
			Select("user_id, SUM(amount) AS weight").
			Where("created_at >= ? AND created_at < ?", pool.WeekStart, pool.WeekEnd).
			Group("user_id").
			Having("SUM(amount) >= ?", s.MinWeight).
			Order("weight DESC, user_id ASC").
			Scan(&participants).Error; err != nil {
			return storageErr(err)
		}

		var totalWeight int64
		for _, p := range participants {
			totalWeight += p.Weight
		}

		now := time.Now().UTC()
		payouts := make([]models.PoolPayout, 0, len(participants))
		if totalWeight > 0 {
			var paid int64
			for _, p := range participants {
				share := pool.TotalCredits * p.Weight / totalWeight
				payouts = append(payouts, models.PoolPayout{
					ID:      uuid.NewString(),
					PoolID:  pool.ID,
					UserID:  p.UserID,
					Weight:  p.Weight,
					Credits: share,
				})
				paid += share
			}
			// Flooring remainder goes to the highest-weight participant
			// (first row, per the query ordering).
			if remainder := pool.TotalCredits - paid; remainder > 0 {
				payouts[0].Credits += remainder
			}
			if err := tx.Create(&payouts).Error; err != nil {
				return storageErr(err)
			}
		}

		pool.Distributed = true
		pool.DistributedAt = &now
		if err := tx.Model(&models.WeeklyPool{}).
			Where("id = ?", poolID).
			UpdateColumn("distributed_at", now).Error; err != nil {
			return storageErr(err)
		}

		result = &DistributionResult{Pool: pool, Payouts: payouts, TotalWeight: totalWeight}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("🏆 Pool distributed: %s → %d credits across %d participants (total weight %d)",
		result.Pool.ID, result.Pool.TotalCredits, len(result.Payouts), result.TotalWeight)
	s.archiveReport(result)
	return result, nil
}

// archiveReport uploads the distribution report to R2 for audit. Best-effort:
// settlement reads the pool_payouts table, not the archive.
func (s *WeeklyPoolService) archiveReport(result *DistributionResult) {
	if !utils.R2Enabled() {
		return
	}
	body, err := json.Marshal(result)
	if err != nil {
		log.Printf("❌ Failed to marshal distribution report: %v", err)
		return
	}
	key := fmt.Sprintf("pool-reports/%s.json", result.Pool.WeekStart.Format("2006-01-02"))
	if url, err := utils.UploadReportToR2(key, body); err != nil {
		log.Printf("❌ Failed to archive distribution report: %v", err)
	} else {
		log.Printf("📦 Distribution report archived: %s", url)
	}
}
