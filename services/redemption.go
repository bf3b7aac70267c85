package services

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"xp-ledger-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	MinRedemptionXP = 100
	XPPerCredit     = 10

	defaultDailyCreditCap = 250
)

// RedeemResult reports a successful XP→credit conversion.
type RedeemResult struct {
	RedemptionID  string `json:"redemption_id"`
	CreditsIssued int64  `json:"credits_issued"`
	RemainingXP   int64  `json:"remaining_xp"`
	BoostApplied  int    `json:"boost_applied"`
}

// RedemptionService converts spendable XP into credits at a level-boosted
// rate, atomically, under minimum-redemption and daily-cap rules.
type RedemptionService struct {
	DB             *gorm.DB
	Ledger         *LedgerService
	DailyCreditCap int64
}

func NewRedemptionService(db *gorm.DB, ledger *LedgerService) *RedemptionService {
	dailyCap := int64(defaultDailyCreditCap)
	if v := os.Getenv("DAILY_CREDIT_CAP"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed <= 0 {
			log.Printf("⚠️  Invalid DAILY_CREDIT_CAP=%q, using default %d", v, dailyCap)
		} else {
			dailyCap = parsed
		}
	}
	return &RedemptionService{DB: db, Ledger: ledger, DailyCreditCap: dailyCap}
}

// creditsFor floors the conversion: the engine can never issue more value
// than is backed by deducted XP.
func creditsFor(xpSpent int64, boostPercent int) int64 {
	return xpSpent / XPPerCredit * int64(100+boostPercent) / 100
}

func redeemedToday(tx *gorm.DB, userID string, dayStart time.Time) (int64, error) {
	var sum int64
	err := tx.Model(&models.Redemption{}).
		Where("user_id = ? AND created_at >= ?", userID, dayStart).
		Select("COALESCE(SUM(credits_issued), 0)").
		Scan(&sum).Error
	if err != nil {
		return 0, storageErr(err)
	}
	return sum, nil
}

// Redeem converts xpAmount spendable XP into credits. Amounts that are not a
// clean multiple of XPPerCredit are rounded down to one: only the rounded
// amount is deducted and the remainder stays spendable.
//
// The daily-cap check and the balance deduction run inside one transaction.
// The conditional UPDATE in tryDeductTx locks the user row, serializing
// concurrent same-user redemptions, so the cap re-check after the insert sees
// every committed competitor and two racing requests can never both pass
// validation against a stale snapshot.
func (s *RedemptionService) Redeem(userID string, xpAmount int64) (*RedeemResult, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	if xpAmount < MinRedemptionXP {
		return nil, fmt.Errorf("%w: minimum is %d XP", ErrBelowMinimumRedemption, MinRedemptionXP)
	}
	deduct := xpAmount - xpAmount%XPPerCredit

	var result *RedeemResult
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		rec, err := s.Ledger.getOrCreateTx(tx, userID)
		if err != nil {
			return err
		}
		boost := RedemptionBoostPercent(rec.Level)
		credits := creditsFor(deduct, boost)

		dayStart := time.Now().UTC().Truncate(24 * time.Hour)
		already, err := redeemedToday(tx, userID, dayStart)
		if err != nil {
			return err
		}
		if already+credits > s.DailyCreditCap {
			return fmt.Errorf("%w: %d of %d credits already redeemed today", ErrDailyCapExceeded, already, s.DailyCreditCap)
		}

		ok, err := s.Ledger.tryDeductTx(tx, userID, deduct)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInsufficientXP
		}

		redemption := models.Redemption{
			ID:            uuid.NewString(),
			UserID:        userID,
			XPSpent:       deduct,
			CreditsIssued: credits,
			BoostApplied:  boost,
		}
		if err := tx.Create(&redemption).Error; err != nil {
			return storageErr(err)
		}

		// Authoritative cap re-check now that the row lock is held; a
		// concurrent redemption that committed first is visible here.
		total, err := redeemedToday(tx, userID, dayStart)
		if err != nil {
			return err
		}
		if total > s.DailyCreditCap {
			return fmt.Errorf("%w: concurrent redemptions reached the cap", ErrDailyCapExceeded)
		}

		if err := tx.Where("user_id = ?", userID).First(rec).Error; err != nil {
			return storageErr(err)
		}

		result = &RedeemResult{
			RedemptionID:  redemption.ID,
			CreditsIssued: credits,
			RemainingXP:   rec.CurrentXP,
			BoostApplied:  boost,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("💱 Redeemed: %s → %d XP spent, %d credits (boost %d%%)",
		userID, deduct, result.CreditsIssued, result.BoostApplied)
	return result, nil
}

// DailyRedeemed reports how many credits the user has been issued since the
// start of the current UTC day.
func (s *RedemptionService) DailyRedeemed(userID string) (int64, error) {
	return redeemedToday(s.DB, userID, time.Now().UTC().Truncate(24*time.Hour))
}

// AttachExternalRef records the settlement confirmation for a redemption.
// The reference can be set exactly once; it never blocks further redemptions.
func (s *RedemptionService) AttachExternalRef(redemptionID, ref string) error {
	if ref == "" || len(ref) > 128 {
		return fmt.Errorf("%w: external ref must be 1-128 characters", ErrValidation)
	}
	res := s.DB.Model(&models.Redemption{}).
		Where("id = ? AND external_ref IS NULL", redemptionID).
		UpdateColumn("external_ref", ref)
	if res.Error != nil {
		return storageErr(res.Error)
	}
	if res.RowsAffected == 0 {
		var existing models.Redemption
		if err := s.DB.First(&existing, "id = ?", redemptionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: redemption %s not found", ErrValidation, redemptionID)
			}
			return storageErr(err)
		}
		return ErrExternalRefSet
	}
	return nil
}
