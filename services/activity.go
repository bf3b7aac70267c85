package services

import (
	"fmt"
	"time"
	"unicode"

	"xp-ledger-system/models"

	"gorm.io/gorm"
)

// Fixed XP rewards per activity kind. The enumeration is closed; anything
// else is a validation failure.
var activityRewards = map[models.ActivityKind]int64{
	models.ActivityDailyCheckin:     10,
	models.ActivityMoodLog:          5,
	models.ActivityGoalComplete:     25,
	models.ActivityStreak7:          50,
	models.ActivityStreak30:         200,
	models.ActivityBadge:            100,
	models.ActivityAgentInteraction: 2,
}

// Kinds that may be awarded at most once per UTC calendar day. A streak
// completion can only happen once on the day it completes, so streak kinds
// are guarded alongside the daily check-in.
var oncePerDay = map[models.ActivityKind]bool{
	models.ActivityDailyCheckin: true,
	models.ActivityStreak7:      true,
	models.ActivityStreak30:     true,
}

// AwardResult is what the intake reports back for a successful activity event.
type AwardResult struct {
	XPAwarded int64 `json:"xp_awarded"`
	NewLevel  int   `json:"new_level"`
	LeveledUp bool  `json:"leveled_up"`
}

// ActivityService validates activity events and applies their fixed rewards
// through the ledger.
type ActivityService struct {
	DB     *gorm.DB
	Ledger *LedgerService
}

func NewActivityService(db *gorm.DB, ledger *LedgerService) *ActivityService {
	return &ActivityService{DB: db, Ledger: ledger}
}

// ValidateUserID accepts userID as an opaque, already-authenticated string but
// still bounds it defensively (1–128 printable characters, no whitespace).
func ValidateUserID(userID string) error {
	if userID == "" || len(userID) > 128 {
		return fmt.Errorf("%w: user id must be 1-128 characters", ErrValidation)
	}
	for _, r := range userID {
		if !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%w: user id contains invalid characters", ErrValidation)
		}
	}
	return nil
}

func sameDayCount(tx *gorm.DB, userID string, kind models.ActivityKind, dayStart time.Time) (int64, error) {
	var count int64
	err := tx.Model(&models.XPTransaction{}).
		Where("user_id = ? AND activity_kind = ? AND created_at >= ?", userID, kind, dayStart).
		Count(&count).Error
	if err != nil {
		return 0, storageErr(err)
	}
	return count, nil
}

// Award applies the fixed reward for an activity event. For once-per-day
// kinds it checks the transaction log for a same-kind, same-day entry inside
// the award transaction and rejects duplicates — the guard against unlimited
// re-minting of daily rewards.
func (s *ActivityService) Award(userID string, kind models.ActivityKind, metadata string) (*AwardResult, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	reward, ok := activityRewards[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown activity kind %q", ErrValidation, kind)
	}

	var result *AwardResult
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		before, err := s.Ledger.getOrCreateTx(tx, userID)
		if err != nil {
			return err
		}
		oldLevel := before.Level

		dayStart := time.Now().UTC().Truncate(24 * time.Hour)
		if oncePerDay[kind] {
			count, err := sameDayCount(tx, userID, kind, dayStart)
			if err != nil {
				return err
			}
			if count > 0 {
				return ErrAlreadyAwardedToday
			}
		}

		rec, err := s.Ledger.awardTx(tx, userID, reward, kind, metadata)
		if err != nil {
			return err
		}

		// Authoritative dedupe re-check now that awardTx holds the user-row
		// lock. Two racing daily awards both pass the pre-count against their
		// own snapshot; the second one to acquire the lock re-counts here,
		// sees the competitor's committed row plus its own, and rolls back.
		if oncePerDay[kind] {
			count, err := sameDayCount(tx, userID, kind, dayStart)
			if err != nil {
				return err
			}
			if count > 1 {
				return ErrAlreadyAwardedToday
			}
		}

		result = &AwardResult{
			XPAwarded: reward,
			NewLevel:  rec.Level,
			LeveledUp: rec.Level > oldLevel,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
