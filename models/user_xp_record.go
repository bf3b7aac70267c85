package models

import (
	"time"

	"gorm.io/gorm"
)

// UserXPRecord tracks gamified XP state for each user (denormalized for performance).
// TotalXP only ever grows; CurrentXP is the spendable balance and must stay
// within [0, TotalXP]. Level is derived from TotalXP and cached here.
type UserXPRecord struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"uniqueIndex;not null" json:"user_id"` // opaque, already authenticated upstream

	TotalXP   int64 `json:"total_xp" gorm:"default:0"`
	CurrentXP int64 `json:"current_xp" gorm:"default:0"`
	Level     int   `json:"level" gorm:"default:0"`

	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
