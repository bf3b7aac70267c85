// handlers/ledger_routes.go
package handlers

import (
	"errors"
	"strconv"
	"time"

	"xp-ledger-system/middleware"
	"xp-ledger-system/models"
	"xp-ledger-system/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

// statusForError maps the service error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrBelowMinimumRedemption),
		errors.Is(err, services.ErrInsufficientXP):
		return fiber.StatusBadRequest
	case errors.Is(err, services.ErrAlreadyAwardedToday),
		errors.Is(err, services.ErrAlreadyDistributed),
		errors.Is(err, services.ErrPeriodNotClosed),
		errors.Is(err, services.ErrExternalRefSet):
		return fiber.StatusConflict
	case errors.Is(err, services.ErrDailyCapExceeded):
		return fiber.StatusTooManyRequests
	case errors.Is(err, services.ErrStorageUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func errJSON(c *fiber.Ctx, err error) error {
	return c.Status(statusForError(err)).JSON(fiber.Map{"error": err.Error()})
}

func SetupLedgerRoutes(
	app *fiber.App,
	activityService *services.ActivityService,
	redemptionService *services.RedemptionService,
	ledgerService *services.LedgerService,
	leaderboardService *services.LeaderboardService,
	poolService *services.WeeklyPoolService,
) {
	// 🔐 Secured routes — require user context forwarded by the Gateway
	securedGroup := app.Group("/", middleware.UserContextMiddleware())

	securedGroup.Post("/s/activities", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		var req struct {
			ActivityKind string `json:"activity_kind" validate:"required,max=32"`
			Metadata     string `json:"metadata" validate:"omitempty,max=2048"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		if err := validate.Struct(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "validation failed",
				"cause": err.Error(),
			})
		}

		result, err := activityService.Award(userID, models.ActivityKind(req.ActivityKind), req.Metadata)
		if err != nil {
			return errJSON(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(result)
	})

	securedGroup.Post("/s/redemptions", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		var req struct {
			XPAmount int64 `json:"xp_amount" validate:"required,min=1"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		if err := validate.Struct(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "validation failed",
				"cause": err.Error(),
			})
		}

		result, err := redemptionService.Redeem(userID, req.XPAmount)
		if err != nil {
			return errJSON(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(result)
	})

	securedGroup.Get("/s/status", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		rec, err := ledgerService.GetOrCreate(userID)
		if err != nil {
			return errJSON(c, err)
		}

		nextLevelXP, progress := services.ProgressToNextLevel(rec.TotalXP)

		weekStart := services.WeekStartOf(time.Now())
		weekWeight, err := ledgerService.AggregateWeight(userID, weekStart, weekStart.AddDate(0, 0, 7))
		if err != nil {
			return errJSON(c, err)
		}

		redeemedToday, err := redemptionService.DailyRedeemed(userID)
		if err != nil {
			return errJSON(c, err)
		}

		return c.JSON(fiber.Map{
			"total_xp":         rec.TotalXP,
			"current_xp":       rec.CurrentXP,
			"level":            rec.Level,
			"next_level_xp":    nextLevelXP,
			"progress_percent": progress,
			"boost_percent":    services.RedemptionBoostPercent(rec.Level),
			"week_weight":      weekWeight,
			"redeemed_today":   redeemedToday,
			"last_activity_at": rec.LastActivityAt,
		})
	})

	securedGroup.Get("/s/history", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		limit, _ := strconv.Atoi(c.Query("limit", "20"))
		offset, _ := strconv.Atoi(c.Query("offset", "0"))

		entries, total, err := ledgerService.History(userID, limit, offset)
		if err != nil {
			return errJSON(c, err)
		}
		return c.JSON(fiber.Map{
			"transactions": entries,
			"total":        total,
			"limit":        limit,
			"offset":       offset,
		})
	})

	securedGroup.Get("/leaderboard", func(c *fiber.Ctx) error {
		n, _ := strconv.Atoi(c.Query("n", "10"))
		entries, err := leaderboardService.Top(n)
		if err != nil {
			return errJSON(c, err)
		}
		return c.JSON(fiber.Map{"entries": entries})
	})

	// Admin endpoints
	adminGroup := app.Group("/s/admin", middleware.UserContextMiddleware(), middleware.RequireRole("admin"))

	adminGroup.Post("/pools/ensure", func(c *fiber.Ctx) error {
		pool, err := poolService.EnsurePoolForWeek(time.Now().UTC())
		if err != nil {
			return errJSON(c, err)
		}
		return c.JSON(pool)
	})

	adminGroup.Post("/pools/:id/distribute", func(c *fiber.Ctx) error {
		result, err := poolService.Distribute(c.Params("id"))
		if err != nil {
			return errJSON(c, err)
		}
		return c.JSON(result)
	})

	adminGroup.Post("/ledger/:userId/rebuild", func(c *fiber.Ctx) error {
		userID := c.Params("userId")
		if err := services.ValidateUserID(userID); err != nil {
			return errJSON(c, err)
		}
		rec, err := ledgerService.Rebuild(userID)
		if err != nil {
			return errJSON(c, err)
		}
		return c.JSON(fiber.Map{
			"message": "ledger rebuilt from transaction log",
			"record":  rec,
		})
	})

	// Settlement callback — service-to-service, no user context. The global
	// gateway token check already guards it.
	app.Post("/settlement/redemptions/:id/external-ref", func(c *fiber.Ctx) error {
		var req struct {
			ExternalRef string `json:"external_ref" validate:"required,max=128"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		if err := validate.Struct(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "validation failed",
				"cause": err.Error(),
			})
		}

		if err := redemptionService.AttachExternalRef(c.Params("id"), req.ExternalRef); err != nil {
			return errJSON(c, err)
		}
		return c.JSON(fiber.Map{"message": "external reference attached"})
	})
}
