package main

import (
	"fmt"
	"os"

	"github.com/yungbote/storychain-backend/internal/clients/fusion"
	"github.com/yungbote/storychain-backend/internal/clients/push"
	redisclient "github.com/yungbote/storychain-backend/internal/clients/redis"
	"github.com/yungbote/storychain-backend/internal/db"
	"github.com/yungbote/storychain-backend/internal/handlers"
	"github.com/yungbote/storychain-backend/internal/logger"
	"github.com/yungbote/storychain-backend/internal/middleware"
	"github.com/yungbote/storychain-backend/internal/repos"
	"github.com/yungbote/storychain-backend/internal/server"
	"github.com/yungbote/storychain-backend/internal/services"
	"github.com/yungbote/storychain-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	userRepo := repos.NewUserRepo(thePG, log)
	chainRepo := repos.NewChainRepo(thePG, log)
	missionRepo := repos.NewMissionRepo(thePG, log)
	entryRepo := repos.NewEntryRepo(thePG, log)
	chapterRepo := repos.NewChapterRepo(thePG, log)
	jobRepo := repos.NewGenerationJobRepo(thePG, log)
	bridgeEventRepo := repos.NewBridgeEventRepo(thePG, log)
	scheduleRepo := repos.NewScheduleRepo(thePG, log)

	// Clients
	log.Info("Setting up Clients from main...")
	fusionClient, err := fusion.NewFromEnv(log)
	if err != nil {
		log.Error("Could not init fusion client", "error", err)
		os.Exit(1)
	}
	pushClient, err := push.NewFromEnv(log)
	if err != nil {
		log.Warn("Could not init push client, notifications disabled", "error", err)
	}
	locker, err := redisclient.NewLocker(log)
	if err != nil {
		log.Warn("Could not init redis locker, relying on postgres guards", "error", err)
	}

	// Services
	log.Info("Setting up Services from main...")
	bucketService, err := services.NewBucketService(log)
	if err != nil {
		log.Error("Could not init BucketService", "error", err)
		os.Exit(1)
	}
	visionService, err := services.NewVisionProviderService(log)
	if err != nil {
		log.Warn("Could not init VisionProviderService, entries stay unanalyzed", "error", err)
	}
	authService, err := services.NewAuthService(thePG, log, userRepo)
	if err != nil {
		log.Error("Could not init AuthService", "error", err)
		os.Exit(1)
	}
	notifierService := services.NewNotifierService(thePG, log, userRepo, pushClient)
	jobTrackerService := services.NewJobTrackerService(thePG, log, jobRepo, fusionClient)
	bridgeService := services.NewBridgeService(thePG, log, missionRepo, entryRepo, chainRepo, bridgeEventRepo, notifierService, locker)
	missionService := services.NewMissionService(
		thePG,
		log,
		missionRepo,
		entryRepo,
		chainRepo,
		chapterRepo,
		jobRepo,
		jobTrackerService,
		notifierService,
		bridgeService,
		visionService,
		bucketService,
	)
	jobTrackerService.SetResolver(missionService)
	chainService := services.NewChainService(thePG, log, chainRepo, chapterRepo, scheduleRepo, userRepo, bucketService)
	schedulerService := services.NewSchedulerService(thePG, log, scheduleRepo, chainRepo, missionRepo, missionService, locker)

	// Handlers
	log.Info("Setting up handlers from main...")
	authHandler := handlers.NewAuthHandler(authService)
	chainHandler := handlers.NewChainHandler(chainService)
	missionHandler := handlers.NewMissionHandler(missionService)
	uploadHandler := handlers.NewUploadHandler(bucketService)
	sweepHandler := handlers.NewSweepHandler(schedulerService, jobTrackerService)

	// Middleware
	log.Info("Setting up middleware from main...")
	authMiddleware := middleware.NewAuthMiddleware(log, authService)
	triggerMiddleware := middleware.NewTriggerMiddleware(log, utils.GetEnv("TRIGGER_SECRET", "", log))

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		AuthHandler:       authHandler,
		ChainHandler:      chainHandler,
		MissionHandler:    missionHandler,
		UploadHandler:     uploadHandler,
		SweepHandler:      sweepHandler,
		AuthMiddleware:    authMiddleware,
		TriggerMiddleware: triggerMiddleware,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
