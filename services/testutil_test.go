package services

import (
	"path/filepath"
	"testing"

	"xp-ledger-system/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB opens a throwaway sqlite database with the full schema.
// _txlock=immediate makes write transactions take their lock up front, so
// concurrent Redeem/Award calls queue on busy_timeout instead of failing.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "ledger.db") + "?_busy_timeout=5000&_txlock=immediate"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.UserXPRecord{},
		&models.XPTransaction{},
		&models.Redemption{},
		&models.WeeklyPool{},
		&models.PoolPayout{},
	))
	return db
}

// grantXP pushes a user to a known balance through the regular award path.
func grantXP(t *testing.T, ledger *LedgerService, userID string, amount int64) {
	t.Helper()
	_, err := ledger.Award(userID, amount, models.ActivityBadge, "")
	require.NoError(t, err)
}
