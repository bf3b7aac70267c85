package models

import "time"

// Redemption records an XP→credit conversion. Rows are immutable once written,
// except ExternalRef (filled in by the settlement collaborator's callback) and
// DispatchedAt (set by the settlement worker when the event has been emitted).
type Redemption struct {
	ID            string     `gorm:"primaryKey;type:uuid" json:"id"`
	UserID        string     `gorm:"index;not null" json:"user_id"`
	XPSpent       int64      `gorm:"not null" json:"xp_spent"`
	CreditsIssued int64      `gorm:"not null" json:"credits_issued"`
	BoostApplied  int        `gorm:"not null" json:"boost_applied"` // percent at redemption time
	ExternalRef   *string    `gorm:"type:varchar(128)" json:"external_ref,omitempty"`
	DispatchedAt  *time.Time `json:"dispatched_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}
