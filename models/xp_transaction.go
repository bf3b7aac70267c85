package models

import "time"

// ActivityKind is the closed set of wellness activities that earn XP.
type ActivityKind string

const (
	ActivityDailyCheckin     ActivityKind = "daily_checkin"
	ActivityMoodLog          ActivityKind = "mood_log"
	ActivityGoalComplete     ActivityKind = "goal_complete"
	ActivityStreak7          ActivityKind = "streak_7"
	ActivityStreak30         ActivityKind = "streak_30"
	ActivityBadge            ActivityKind = "badge"
	ActivityAgentInteraction ActivityKind = "agent_interaction"
)

// XPTransaction is the append-only award log. TotalXP on UserXPRecord must at
// all times equal the sum of Amount over this table for the user; the log is
// the recovery source if the cached balance ever diverges.
type XPTransaction struct {
	ID           string       `gorm:"primaryKey;type:uuid" json:"id"`
	UserID       string       `gorm:"index;not null" json:"user_id"`
	Amount       int64        `gorm:"not null" json:"amount"` // always > 0
	ActivityKind ActivityKind `gorm:"type:varchar(32);not null;index" json:"activity_kind"`
	Metadata     string       `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt    time.Time    `gorm:"autoCreateTime;index" json:"created_at"`
}
