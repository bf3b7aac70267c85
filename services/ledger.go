package services

import (
	"fmt"
	"time"

	"xp-ledger-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LedgerService is the single source of truth for XP balances. All writes go
// through the append-only XPTransaction log plus the cached UserXPRecord row.
type LedgerService struct {
	DB *gorm.DB
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{DB: db}
}

// storageErr tags infra failures so callers can distinguish them from
// business-rule rejections and retry.
func storageErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

// GetOrCreate ensures a ledger row exists for the user (idempotent, lazy).
func (s *LedgerService) GetOrCreate(userID string) (*models.UserXPRecord, error) {
	return s.getOrCreateTx(s.DB, userID)
}

func (s *LedgerService) getOrCreateTx(tx *gorm.DB, userID string) (*models.UserXPRecord, error) {
	var rec models.UserXPRecord
	err := tx.Where("user_id = ?", userID).First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		rec = models.UserXPRecord{
			ID:     uuid.NewString(),
			UserID: userID,
		}
		if err := tx.Create(&rec).Error; err != nil {
			return nil, storageErr(err)
		}
		return &rec, nil
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return &rec, nil
}

// Award appends an XPTransaction and bumps TotalXP/CurrentXP in one
// transaction, recomputing the cached level and LastActivityAt.
func (s *LedgerService) Award(userID string, amount int64, kind models.ActivityKind, metadata string) (*models.UserXPRecord, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: award amount must be positive", ErrValidation)
	}

	var updated *models.UserXPRecord
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		rec, err := s.awardTx(tx, userID, amount, kind, metadata)
		if err != nil {
			return err
		}
		updated = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// awardTx performs the award inside an existing transaction.
func (s *LedgerService) awardTx(tx *gorm.DB, userID string, amount int64, kind models.ActivityKind, metadata string) (*models.UserXPRecord, error) {
	rec, err := s.getOrCreateTx(tx, userID)
	if err != nil {
		return nil, err
	}

	entry := models.XPTransaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Amount:       amount,
		ActivityKind: kind,
		Metadata:     metadata,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, storageErr(err)
	}

	// Increment in the database, not via read-modify-write, so concurrent
	// awards for the same user cannot lose updates.
	if err := tx.Model(&models.UserXPRecord{}).
		Where("user_id = ?", userID).
		UpdateColumns(map[string]interface{}{
			"total_xp":   gorm.Expr("total_xp + ?", amount),
			"current_xp": gorm.Expr("current_xp + ?", amount),
		}).Error; err != nil {
		return nil, storageErr(err)
	}

	if err := tx.Where("user_id = ?", userID).First(rec).Error; err != nil {
		return nil, storageErr(err)
	}

	now := time.Now().UTC()
	rec.Level = LevelForXP(rec.TotalXP)
	rec.LastActivityAt = &now
	if err := tx.Model(&models.UserXPRecord{}).
		Where("user_id = ?", userID).
		UpdateColumns(map[string]interface{}{
			"level":            rec.Level,
			"last_activity_at": now,
		}).Error; err != nil {
		return nil, storageErr(err)
	}

	return rec, nil
}

// TryDeduct subtracts amount from the spendable balance as a single
// conditional UPDATE ("subtract N where balance >= N"). Returns false with
// zero side effects when the balance is insufficient — the primary defense
// against double-spend races. RowsAffected is authoritative.
func (s *LedgerService) TryDeduct(userID string, amount int64) (bool, error) {
	return s.tryDeductTx(s.DB, userID, amount)
}

func (s *LedgerService) tryDeductTx(tx *gorm.DB, userID string, amount int64) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("%w: deduction amount must be positive", ErrValidation)
	}
	res := tx.Model(&models.UserXPRecord{}).
		Where("user_id = ? AND current_xp >= ?", userID, amount).
		UpdateColumn("current_xp", gorm.Expr("current_xp - ?", amount))
	if res.Error != nil {
		return false, storageErr(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// History returns the award log for a user, newest first.
func (s *LedgerService) History(userID string, limit, offset int) ([]models.XPTransaction, int64, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var total int64
	if err := s.DB.Model(&models.XPTransaction{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return nil, 0, storageErr(err)
	}

	var entries []models.XPTransaction
	if err := s.DB.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&entries).Error; err != nil {
		return nil, 0, storageErr(err)
	}
	return entries, total, nil
}

// AggregateWeight sums XP earned by the user inside [periodStart, periodEnd).
func (s *LedgerService) AggregateWeight(userID string, periodStart, periodEnd time.Time) (int64, error) {
	var weight int64
	err := s.DB.Model(&models.XPTransaction{}).
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, periodStart, periodEnd).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&weight).Error
	if err != nil {
		return 0, storageErr(err)
	}
	return weight, nil
}

// Rebuild repairs the cached UserXPRecord by replaying the append-only logs:
// TotalXP = Σ transaction amounts, CurrentXP = TotalXP − Σ redemption XPSpent.
func (s *LedgerService) Rebuild(userID string) (*models.UserXPRecord, error) {
	var rebuilt *models.UserXPRecord
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		rec, err := s.getOrCreateTx(tx, userID)
		if err != nil {
			return err
		}

		var earned int64
		if err := tx.Model(&models.XPTransaction{}).
			Where("user_id = ?", userID).
			Select("COALESCE(SUM(amount), 0)").
			Scan(&earned).Error; err != nil {
			return storageErr(err)
		}

		var spent int64
		if err := tx.Model(&models.Redemption{}).
			Where("user_id = ?", userID).
			Select("COALESCE(SUM(xp_spent), 0)").
			Scan(&spent).Error; err != nil {
			return storageErr(err)
		}

		rec.TotalXP = earned
		rec.CurrentXP = earned - spent
		rec.Level = LevelForXP(earned)
		if err := tx.Model(&models.UserXPRecord{}).
			Where("user_id = ?", userID).
			UpdateColumns(map[string]interface{}{
				"total_xp":   rec.TotalXP,
				"current_xp": rec.CurrentXP,
				"level":      rec.Level,
			}).Error; err != nil {
			return storageErr(err)
		}

		rebuilt = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rebuilt, nil
}
