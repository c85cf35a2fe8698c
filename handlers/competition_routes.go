// handlers/competition_routes.go
package handlers

import (
	"errors"
	"time"

	"reward-engine/middleware"
	"reward-engine/models"
	"reward-engine/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

func SetupCompetitionRoutes(app *fiber.App, log *logrus.Logger, competitions *services.CompetitionService) {
	// Public listing and standings.
	app.Get("/competitions", func(c *fiber.Ctx) error {
		status := models.CompetitionStatus(c.Query("status"))
		comps, err := competitions.List(status)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to list competitions",
				"cause": err.Error(),
			})
		}
		return c.JSON(comps)
	})

	app.Get("/competitions/:id", func(c *fiber.Ctx) error {
		comp, err := competitions.Get(c.Params("id"))
		if err != nil {
			return competitionError(c, err)
		}
		return c.JSON(comp)
	})

	app.Get("/competitions/:id/leaderboard", func(c *fiber.Ctx) error {
		comp, scores, err := competitions.Leaderboard(c.Params("id"))
		if err != nil {
			return competitionError(c, err)
		}
		return c.JSON(fiber.Map{
			"competition": comp,
			"standings":   scores,
		})
	})

	// Participant actions require gateway identity.
	securedGroup := app.Group("/s/competitions", middleware.AccountContextMiddleware(log))

	securedGroup.Post("/:id/join", func(c *fiber.Ctx) error {
		accountID := c.Locals("account_id").(string)
		score, err := competitions.Join(c.Params("id"), accountID)
		if err != nil {
			return competitionError(c, err)
		}
		return c.JSON(fiber.Map{
			"message": "joined competition",
			"score":   score,
		})
	})

	securedGroup.Post("/:id/leave", func(c *fiber.Ctx) error {
		accountID := c.Locals("account_id").(string)
		if err := competitions.Leave(c.Params("id"), accountID); err != nil {
			return competitionError(c, err)
		}
		return c.JSON(fiber.Map{"message": "left competition"})
	})

	// Admin lifecycle and scoring endpoints.
	adminGroup := app.Group("/s/admin/competitions", middleware.AccountContextMiddleware(log), middleware.RequireRole(log, "admin"))

	adminGroup.Post("/", func(c *fiber.Ctx) error {
		type Req struct {
			Name        string                   `json:"name" validate:"required,max=255"`
			Description string                   `json:"description"`
			Metric      models.CompetitionMetric `json:"metric"`
			StartTime   time.Time                `json:"start_time" validate:"required"`
			EndTime     time.Time                `json:"end_time" validate:"required"`
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

		comp, err := competitions.Create(req.Name, req.Description, req.Metric, req.StartTime, req.EndTime)
		if err != nil {
			return competitionError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(comp)
	})

	adminGroup.Post("/:id/score", func(c *fiber.Ctx) error {
		type Req struct {
			AccountID string `json:"account_id" validate:"required"`
			Delta     int64  `json:"delta"`
			Value     *int64 `json:"value"`
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

		var score *models.ParticipantScore
		var err error
		if req.Value != nil {
			score, err = competitions.SetScore(c.Params("id"), req.AccountID, *req.Value)
		} else {
			score, err = competitions.IncrementScore(c.Params("id"), req.AccountID, req.Delta)
		}
		if err != nil {
			return competitionError(c, err)
		}
		return c.JSON(score)
	})

	adminGroup.Post("/sweep", func(c *fiber.Ctx) error {
		activated, err := competitions.ActivateDue()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "activation sweep failed",
				"cause": err.Error(),
			})
		}
		ended, err := competitions.EndExpired()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "ending sweep failed",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"activated": activated,
			"ended":     ended,
		})
	})
}

// competitionError maps service errors onto HTTP statuses.
func competitionError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrCompetitionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrCompetitionNotActive),
		errors.Is(err, services.ErrCompetitionEnded),
		errors.Is(err, services.ErrAlreadyJoined),
		errors.Is(err, services.ErrNotJoined),
		errors.Is(err, services.ErrInvalidTimeRange),
		errors.Is(err, services.ErrScoreNotIncreasing):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "competition operation failed",
			"cause": err.Error(),
		})
	}
}
