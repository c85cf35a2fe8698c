package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"reward-engine/handlers"
	"reward-engine/middleware"
	"reward-engine/models"
	"reward-engine/services"
	"reward-engine/utils"
	"reward-engine/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	log := utils.NewLogger()

	if err := godotenv.Load(); err != nil {
		log.Info("no .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024, // 1MB, this service only takes JSON
	})

	// Only gateway requests allowed, no exceptions.
	app.Use(middleware.GatewayAuthMiddleware(log))

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Warn("ALLOWED_ORIGINS not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Account-ID, X-Account-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}

	if err := db.AutoMigrate(
		&models.LedgerEntry{},
		&models.Balance{},
		&models.AchievementProgress{},
		&models.Competition{},
		&models.ParticipantScore{},
	); err != nil {
		log.WithError(err).Fatal("failed to migrate database")
	}

	// Catalogs come from JSON files when configured, built-in defaults
	// otherwise.
	triggers, err := loadTriggerCatalog(os.Getenv("TRIGGER_CATALOG_FILE"))
	if err != nil {
		log.WithError(err).Fatal("failed to load trigger catalog")
	}
	ladder, err := loadRankLadder(os.Getenv("RANK_LADDER_FILE"))
	if err != nil {
		log.WithError(err).Fatal("failed to load rank ladder")
	}
	achievements, err := loadAchievementCatalog(os.Getenv("ACHIEVEMENT_CATALOG_FILE"))
	if err != nil {
		log.WithError(err).Fatal("failed to load achievement catalog")
	}
	log.WithFields(logrus.Fields{
		"triggers":     triggers.Len(),
		"rank_tiers":   len(ladder.Tiers()),
		"achievements": achievements.Len(),
	}).Info("catalogs loaded")

	feed := services.NewEventFeed(1024)
	dispatcher := services.NewDispatcher(feed)

	pointsService := services.NewPointsService(db, log, triggers, ladder, dispatcher)
	rankService := services.NewRankService(db, log, ladder, pointsService)
	achievementService := services.NewAchievementService(db, log, achievements, pointsService, dispatcher)
	leaderboardService := services.NewLeaderboardService(db, log)
	competitionService := services.NewCompetitionService(db, log, dispatcher)
	dispatcher.Subscribe(services.NewCompetitionPointsListener(log, competitionService))
	sseService := services.NewSSEService(log, feed)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := services.NewScheduler(log, competitionService)
	if err := scheduler.Start(); err != nil {
		log.WithError(err).Fatal("failed to start scheduler")
	}
	defer scheduler.Stop()

	// Optional ledger archiving to R2.
	r2, err := utils.NewR2Client()
	if err != nil {
		log.WithError(err).Fatal("failed to initialize R2 client")
	}
	if r2 != nil {
		archiveWorker := workers.NewLedgerArchiveWorker(db, log, r2)
		if err := scheduler.AddDailyJob(2, 0, func() {
			if err := archiveWorker.ArchivePreviousDay(context.Background()); err != nil {
				log.WithError(err).Error("ledger archive failed")
			}
		}); err != nil {
			log.WithError(err).Fatal("failed to schedule ledger archive")
		}
		log.Info("ledger archiving enabled")
	}

	// Optional queue ingestion alongside the HTTP endpoint.
	consumer, err := workers.NewTriggerConsumer(log, pointsService, achievementService)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize trigger consumer")
	}
	if consumer != nil {
		defer consumer.Close()
		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.WithError(err).Error("trigger consumer stopped")
			}
		}()
		log.Info("trigger consumer running")
	}

	handlers.SetupPointsRoutes(app, log, pointsService, rankService, achievementService, leaderboardService, sseService)
	handlers.SetupCompetitionRoutes(app, log, competitionService)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}
	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.WithError(err).Error("server error")
		}
	}()

	log.WithField("port", port).Info("server running")

	<-ctx.Done()
	log.Info("shutting down server")
	_ = app.Shutdown()
}

func loadTriggerCatalog(path string) (*models.TriggerCatalog, error) {
	if path == "" {
		return models.DefaultTriggerCatalog(), nil
	}
	return models.LoadTriggerCatalog(path)
}

func loadRankLadder(path string) (*models.RankLadder, error) {
	if path == "" {
		return models.DefaultRankLadder(), nil
	}
	return models.LoadRankLadder(path)
}

func loadAchievementCatalog(path string) (*models.AchievementCatalog, error) {
	if path == "" {
		return models.DefaultAchievementCatalog(), nil
	}
	return models.LoadAchievementCatalog(path)
}
