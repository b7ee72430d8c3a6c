package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yungbote/storychain-backend/internal/handlers"
	"github.com/yungbote/storychain-backend/internal/middleware"
)

type RouterConfig struct {
	AuthHandler       *handlers.AuthHandler
	ChainHandler      *handlers.ChainHandler
	MissionHandler    *handlers.MissionHandler
	UploadHandler     *handlers.UploadHandler
	SweepHandler      *handlers.SweepHandler
	AuthMiddleware    *middleware.AuthMiddleware
	TriggerMiddleware *middleware.TriggerMiddleware
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)
	router.POST("/register", cfg.AuthHandler.Register)
	router.POST("/login", cfg.AuthHandler.Login)

	// ===============
	// || Protected ||
	// ===============
	protected := router.Group("/")
	protected.Use(cfg.AuthMiddleware.RequireAuth())
	// Auth
	protected.GET("/me", cfg.AuthHandler.Me)
	protected.POST("/push-token", cfg.AuthHandler.UpdatePushToken)
	// Uploads
	protected.POST("/uploads/sign", cfg.UploadHandler.SignUpload)
	// Chains
	protected.POST("/chains", cfg.ChainHandler.Create)
	protected.GET("/chains/:chain_id", cfg.ChainHandler.Get)
	protected.POST("/chains/:chain_id/join", cfg.ChainHandler.Join)
	protected.GET("/chains/:chain_id/members", cfg.ChainHandler.ListMembers)
	protected.POST("/chains/:chain_id/links", cfg.ChainHandler.Link)
	protected.GET("/chains/:chain_id/chapters", cfg.ChainHandler.ListChapters)
	protected.PUT("/chains/:chain_id/schedule", cfg.ChainHandler.UpsertSchedule)
	protected.POST("/chains/:chain_id/missions", cfg.MissionHandler.Create)
	// Missions
	protected.GET("/missions/:mission_id", cfg.MissionHandler.Get)
	protected.POST("/missions/:mission_id/join", cfg.MissionHandler.Join)
	protected.POST("/missions/:mission_id/entries", cfg.MissionHandler.SubmitEntry)
	protected.POST("/missions/:mission_id/lock", cfg.MissionHandler.Lock)
	protected.POST("/missions/:mission_id/archive", cfg.MissionHandler.Archive)
	protected.GET("/missions/:mission_id/chapter", cfg.MissionHandler.GetChapter)

	// ===============
	// || Triggers  ||
	// ===============
	triggers := router.Group("/internal/sweeps")
	triggers.Use(cfg.TriggerMiddleware.RequireTriggerSecret())
	triggers.POST("/autostart", cfg.SweepHandler.RunAutoStart)
	triggers.POST("/generation", cfg.SweepHandler.RunGenerationPoll)

	return router
}
