package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"xp-ledger-system/models"
	"xp-ledger-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestApp(t *testing.T) *fiber.App {
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

	ledger := services.NewLedgerService(db)
	app := fiber.New()
	SetupLedgerRoutes(app,
		services.NewActivityService(db, ledger),
		services.NewRedemptionService(db, ledger),
		ledger,
		services.NewLeaderboardService(db),
		services.NewWeeklyPoolService(db),
	)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, userID string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	var decoded map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

func TestRoutes_AwardAndStatus(t *testing.T) {
	app := setupTestApp(t)

	resp, body := doJSON(t, app, "POST", "/s/activities", "user-a",
		fiber.Map{"activity_kind": "daily_checkin"})
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(10), body["xp_awarded"])

	// Second check-in the same day conflicts
	resp, _ = doJSON(t, app, "POST", "/s/activities", "user-a",
		fiber.Map{"activity_kind": "daily_checkin"})
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	resp, body = doJSON(t, app, "GET", "/s/status", "user-a", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(10), body["total_xp"])
	assert.Equal(t, float64(10), body["current_xp"])
	assert.Equal(t, float64(0), body["level"])
	assert.Equal(t, float64(100), body["next_level_xp"])
}

func TestRoutes_MissingUserContext(t *testing.T) {
	app := setupTestApp(t)

	resp, _ := doJSON(t, app, "GET", "/s/status", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRoutes_UnknownActivityKind(t *testing.T) {
	app := setupTestApp(t)

	resp, _ := doJSON(t, app, "POST", "/s/activities", "user-a",
		fiber.Map{"activity_kind": "pet_the_dog"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestRoutes_RedeemFlow(t *testing.T) {
	app := setupTestApp(t)

	// Build a balance of 1000 XP (10 badges × 100)
	for i := 0; i < 10; i++ {
		resp, _ := doJSON(t, app, "POST", "/s/activities", "user-a",
			fiber.Map{"activity_kind": "badge"})
		require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}

	resp, body := doJSON(t, app, "POST", "/s/redemptions", "user-a",
		fiber.Map{"xp_amount": 1000})
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	// 1000 lifetime XP = level 3, no boost tier yet
	assert.Equal(t, float64(100), body["credits_issued"])
	assert.Equal(t, float64(0), body["remaining_xp"])

	resp, _ = doJSON(t, app, "POST", "/s/redemptions", "user-a",
		fiber.Map{"xp_amount": 100})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode) // insufficient now

	resp, _ = doJSON(t, app, "POST", "/s/redemptions", "user-a",
		fiber.Map{"xp_amount": 50})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode) // below minimum
}

func TestRoutes_HistoryAndLeaderboard(t *testing.T) {
	app := setupTestApp(t)

	for _, user := range []string{"user-a", "user-b"} {
		resp, _ := doJSON(t, app, "POST", "/s/activities", user,
			fiber.Map{"activity_kind": "goal_complete"})
		require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}

	resp, body := doJSON(t, app, "GET", "/s/history?limit=10", "user-a", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["total"])

	resp, body = doJSON(t, app, "GET", "/leaderboard?n=5", "user-a", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	entries := body["entries"].([]interface{})
	assert.Len(t, entries, 2)
	first := entries[0].(map[string]interface{})
	assert.NotContains(t, first["user_id_masked"], "user-a")
}

func TestRoutes_AdminRequiresRole(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest("POST", "/s/admin/pools/ensure", nil)
	req.Header.Set("X-User-ID", "admin-1")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req = httptest.NewRequest("POST", "/s/admin/pools/ensure", nil)
	req.Header.Set("X-User-ID", "admin-1")
	req.Header.Set("X-User-Roles", "admin")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRoutes_SettlementCallback(t *testing.T) {
	app := setupTestApp(t)

	for i := 0; i < 10; i++ {
		resp, _ := doJSON(t, app, "POST", "/s/activities", "user-a",
			fiber.Map{"activity_kind": "badge"})
		require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}
	resp, body := doJSON(t, app, "POST", "/s/redemptions", "user-a",
		fiber.Map{"xp_amount": 1000})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	redemptionID := body["redemption_id"].(string)

	resp, _ = doJSON(t, app, "POST", "/settlement/redemptions/"+redemptionID+"/external-ref", "",
		fiber.Map{"external_ref": "tx-0xabc"})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// Second attach conflicts
	resp, _ = doJSON(t, app, "POST", "/settlement/redemptions/"+redemptionID+"/external-ref", "",
		fiber.Map{"external_ref": "tx-0xdef"})
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}
