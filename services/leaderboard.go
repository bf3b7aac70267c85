package services

import (
	"crypto/sha256"
	"encoding/hex"

	"xp-ledger-system/models"

	"gorm.io/gorm"
)

// LeaderboardEntry is the externally visible ranked row. Raw identifiers are
// never exposed; UserIDMasked carries 64 bits of a SHA-256 digest, enough
// entropy that two users cannot visibly collide.
type LeaderboardEntry struct {
	UserIDMasked string `json:"user_id_masked"`
	TotalXP      int64  `json:"total_xp"`
	Level        int    `json:"level"`
	Rank         int    `json:"rank"`
}

// LeaderboardService is a read-only ranked projection over the ledger.
type LeaderboardService struct {
	DB *gorm.DB
}

func NewLeaderboardService(db *gorm.DB) *LeaderboardService {
	return &LeaderboardService{DB: db}
}

// MaskUserID pseudonymizes a user identifier for external exposure.
func MaskUserID(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return "user_" + hex.EncodeToString(sum[:8])
}

// Top returns the n highest-XP users, ties broken by earliest activity.
func (s *LeaderboardService) Top(n int) ([]LeaderboardEntry, error) {
	if n < 1 || n > 100 {
		n = 10
	}

	var records []models.UserXPRecord
	if err := s.DB.Order("total_xp DESC, last_activity_at ASC").
		Limit(n).
		Find(&records).Error; err != nil {
		return nil, storageErr(err)
	}

	entries := make([]LeaderboardEntry, len(records))
	for i, rec := range records {
		entries[i] = LeaderboardEntry{
			UserIDMasked: MaskUserID(rec.UserID),
			TotalXP:      rec.TotalXP,
			Level:        rec.Level,
			Rank:         i + 1,
		}
	}
	return entries, nil
}
