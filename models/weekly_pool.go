package models

import "time"

// WeeklyPool is a fixed credit pot distributed proportionally to per-user XP
// weight once the period closes. Distributed flips false→true exactly once,
// check-and-set in the same transaction as the payout computation.
type WeeklyPool struct {
	ID            string     `gorm:"primaryKey;type:uuid" json:"id"`
	WeekStart     time.Time  `gorm:"uniqueIndex;not null" json:"week_start"`
	WeekEnd       time.Time  `gorm:"not null" json:"week_end"`
	TotalCredits  int64      `gorm:"not null" json:"total_credits"`
	Distributed   bool       `gorm:"default:false" json:"distributed"`
	DistributedAt *time.Time `json:"distributed_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// PoolPayout is a pending-credit entry produced by pool distribution, consumed
// later by the settlement collaborator.
type PoolPayout struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	PoolID    string    `gorm:"index;not null" json:"pool_id"`
	UserID    string    `gorm:"index;not null" json:"user_id"`
	Weight    int64     `gorm:"not null" json:"weight"`
	Credits   int64     `gorm:"not null" json:"credits"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
