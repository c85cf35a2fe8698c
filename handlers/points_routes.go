// handlers/points_routes.go
package handlers

import (
	"errors"
	"strconv"
	"strings"

	"reward-engine/middleware"
	"reward-engine/models"
	"reward-engine/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

var validate = validator.New()

// TriggerNotification is the body of POST /events/notify. It mirrors the
// message consumed from the queue so producers can use either transport.
type TriggerNotification struct {
	AccountID string                `json:"account_id" validate:"required"`
	Trigger   string                `json:"trigger" validate:"required"`
	Increment int64                 `json:"increment"`
	Context   models.TriggerContext `json:"context"`
}

func SetupPointsRoutes(
	app *fiber.App,
	log *logrus.Logger,
	points *services.PointsService,
	ranks *services.RankService,
	achievements *services.AchievementService,
	leaderboards *services.LeaderboardService,
	sse *services.SSEService,
) {
	// Trigger ingestion. The gateway (or an internal producer) posts one
	// notification per domain event; points and achievement progress both
	// advance from it.
	app.Post("/events/notify", func(c *fiber.Ctx) error {
		var req TriggerNotification
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		if err := validate.Struct(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "validation failed",
				"cause": err.Error(),
			})
		}
		if req.Increment <= 0 {
			req.Increment = 1
		}

		awarded, err := points.Award(req.AccountID, req.Trigger, req.Context)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to process trigger",
				"cause": err.Error(),
			})
		}

		results, err := achievements.ProcessTrigger(req.AccountID, req.Trigger, req.Increment, req.Context)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to advance achievements",
				"cause": err.Error(),
			})
		}

		return c.JSON(fiber.Map{
			"points_awarded": awarded,
			"achievements":   results,
		})
	})

	// Secured account routes. The gateway forwards identity headers.
	securedGroup := app.Group("/s", middleware.AccountContextMiddleware(log))

	securedGroup.Get("/account/balance", func(c *fiber.Ctx) error {
		accountID := c.Locals("account_id").(string)
		category := c.Query("category", models.DefaultCategory)

		bal, err := points.GetBalance(accountID, category)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load balance",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"account_id":   accountID,
			"category":     category,
			"balance":      bal.Balance,
			"total_earned": bal.TotalEarned,
			"total_spent":  bal.TotalSpent,
		})
	})

	securedGroup.Get("/account/rank", func(c *fiber.Ctx) error {
		accountID := c.Locals("account_id").(string)
		category := c.Query("category", models.DefaultCategory)

		status, err := ranks.Resolve(accountID, category)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to resolve rank",
				"cause": err.Error(),
			})
		}
		return c.JSON(status)
	})

	securedGroup.Get("/account/achievements", func(c *fiber.Ctx) error {
		accountID := c.Locals("account_id").(string)
		nextN, _ := strconv.Atoi(c.Query("next", "3"))

		summary, err := achievements.GetProgress(accountID, nextN)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load achievement progress",
				"cause": err.Error(),
			})
		}
		return c.JSON(summary)
	})

	securedGroup.Get("/account/history", func(c *fiber.Ctx) error {
		accountID := c.Locals("account_id").(string)
		category := c.Query("category", models.DefaultCategory)
		limit, _ := strconv.Atoi(c.Query("limit", "50"))

		entries, err := points.History(accountID, category, limit)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load history",
				"cause": err.Error(),
			})
		}
		return c.JSON(entries)
	})

	securedGroup.Get("/account/leaderboard/position", func(c *fiber.Ctx) error {
		accountID := c.Locals("account_id").(string)
		category := c.Query("category", models.DefaultCategory)
		window, err := services.ParseWindow(c.Query("window", "all"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid window",
				"cause": err.Error(),
			})
		}

		rank, score, err := leaderboards.RankOf(category, window, accountID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to compute position",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"account_id": accountID,
			"category":   category,
			"window":     window,
			"rank":       rank,
			"score":      score,
		})
	})

	securedGroup.Get("/account/events/stream", sse.StreamAccountEvents)

	// Public leaderboard.
	app.Get("/leaderboard", func(c *fiber.Ctx) error {
		category := c.Query("category", models.DefaultCategory)
		limit, _ := strconv.Atoi(c.Query("limit", "20"))
		window, err := services.ParseWindow(c.Query("window", "all"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid window",
				"cause": err.Error(),
			})
		}

		var entries []services.LeaderboardEntry
		if accounts := c.Query("accounts"); accounts != "" {
			entries, err = leaderboards.Scoped(category, window, limit, splitCSV(accounts))
		} else {
			entries, err = leaderboards.Global(category, window, limit)
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to build leaderboard",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"category": category,
			"window":   window,
			"entries":  entries,
		})
	})

	// Admin endpoints for manual balance adjustments and audits.
	adminGroup := app.Group("/s/admin", middleware.AccountContextMiddleware(log), middleware.RequireRole(log, "admin"))

	adminGroup.Post("/points/award", func(c *fiber.Ctx) error {
		var req TriggerNotification
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		if err := validate.Struct(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "validation failed",
				"cause": err.Error(),
			})
		}

		awarded, err := points.Award(req.AccountID, req.Trigger, req.Context)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "award failed",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"message": "trigger processed",
			"awarded": awarded,
		})
	})

	adminGroup.Post("/points/deduct", func(c *fiber.Ctx) error {
		type Req struct {
			AccountID string `json:"account_id" validate:"required"`
			Category  string `json:"category"`
			Amount    int64  `json:"amount" validate:"required,min=1"`
			Reason    string `json:"reason" validate:"max=255"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		if err := validate.Struct(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "validation failed",
				"cause": err.Error(),
			})
		}
		if req.Category == "" {
			req.Category = models.DefaultCategory
		}

		applied, err := points.Deduct(req.AccountID, req.Category, req.Amount, req.Reason)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "deduction failed",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"message": "deduction processed",
			"applied": applied,
		})
	})

	adminGroup.Post("/points/set", func(c *fiber.Ctx) error {
		type Req struct {
			AccountID string `json:"account_id" validate:"required"`
			Category  string `json:"category"`
			Amount    int64  `json:"amount" validate:"min=0"`
			Reason    string `json:"reason" validate:"max=255"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		if err := validate.Struct(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "validation failed",
				"cause": err.Error(),
			})
		}
		if req.Category == "" {
			req.Category = models.DefaultCategory
		}

		applied, err := points.Set(req.AccountID, req.Category, req.Amount, req.Reason)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "set failed",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"message": "balance set",
			"applied": applied,
		})
	})

	adminGroup.Get("/points/verify", func(c *fiber.Ctx) error {
		accountID := c.Query("account_id")
		if accountID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "account_id is required",
			})
		}
		category := c.Query("category", models.DefaultCategory)

		if err := points.VerifyBalance(accountID, category); err != nil {
			if errors.Is(err, services.ErrBalanceMismatch) {
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{
					"error": "balance does not match ledger",
					"cause": err.Error(),
				})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "verification failed",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{"message": "balance verified"})
	})

	adminGroup.Post("/points/rebuild", func(c *fiber.Ctx) error {
		type Req struct {
			AccountID string `json:"account_id" validate:"required"`
			Category  string `json:"category"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		if err := validate.Struct(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "validation failed",
				"cause": err.Error(),
			})
		}
		if req.Category == "" {
			req.Category = models.DefaultCategory
		}

		bal, err := points.RebuildBalance(req.AccountID, req.Category)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "rebuild failed",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"message": "balance rebuilt",
			"balance": bal.Balance,
		})
	})
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
