package services

import "math"

// Leveling curve: level = floor(sqrt(totalXP / 100)), so each level costs
// quadratically more lifetime XP. Levels gate redemption-rate boosts.
const BaseXPPerLevel = 100

// LevelForXP maps lifetime XP to a level. Below 100 XP the level is 0.
func LevelForXP(totalXP int64) int {
	if totalXP < BaseXPPerLevel {
		return 0
	}
	return int(math.Sqrt(float64(totalXP) / float64(BaseXPPerLevel)))
}

// XPForLevel returns the lifetime XP required to reach level n.
func XPForLevel(n int) int64 {
	if n < 0 {
		return 0
	}
	return int64(n) * int64(n) * BaseXPPerLevel
}

// RedemptionBoostPercent returns the tiered XP→credit conversion bonus.
// Exact thresholds matter: 0% below 5, 10% at 5+, 25% at 10+, 50% at 20+.
func RedemptionBoostPercent(level int) int {
	switch {
	case level >= 20:
		return 50
	case level >= 10:
		return 25
	case level >= 5:
		return 10
	default:
		return 0
	}
}

// ProgressToNextLevel reports the XP needed for the next level and how far
// along the user is, as a 0–100 percentage.
func ProgressToNextLevel(totalXP int64) (nextLevelXP int64, percent float64) {
	level := LevelForXP(totalXP)
	floor := XPForLevel(level)
	nextLevelXP = XPForLevel(level + 1)
	span := nextLevelXP - floor
	if span <= 0 {
		return nextLevelXP, 0
	}
	percent = float64(totalXP-floor) / float64(span) * 100
	if percent > 100 {
		percent = 100
	}
	return nextLevelXP, percent
}
