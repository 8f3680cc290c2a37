package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"refermail/internal/api/middleware"
	"refermail/internal/auth"
	"refermail/internal/config"
	"refermail/internal/drafts"
	"refermail/internal/genmail"
	"refermail/internal/llm"
	"refermail/internal/storage"
	"refermail/internal/tasks"
)

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(
	router *gin.Engine,
	db *gorm.DB,
	enqueuer TaskEnqueuer,
	authService *auth.AuthService,
	redisClient *redis.Client,
	logger *slog.Logger,
	storageClient *storage.Client,
	llmClient *llm.Client,
	cfg *config.Config,
) {
	policy := tasks.PolicyFromConfig(cfg.Worker)
	resumeHandler := NewResumeHandler(
		db, enqueuer, storageClient, logger,
		cfg.Clamd.Addr, cfg.Upload.MaxBytes, policy.MaxRetry(),
	)
	generator := genmail.NewGenerator(db, llmClient, logger)
	draftStore := drafts.NewStore(db, logger)
	emailHandler := NewEmailHandler(generator, draftStore, logger)
	threadHandler := NewThreadHandler(db)
	wsHandler := NewWsHandler(redisClient, authService, logger)
	authMiddleware := middleware.AuthMiddleware(authService)

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		resumeGroup := v1.Group("/resume")
		resumeGroup.Use(authMiddleware)
		{
			resumeGroup.POST("/upload", resumeHandler.UploadResume)
			resumeGroup.POST("/link", resumeHandler.SubmitResumeLink)
			resumeGroup.GET("/download", resumeHandler.DownloadResume)
		}

		v1.GET("/profile", authMiddleware, resumeHandler.GetProfile)

		emailGroup := v1.Group("/emails")
		emailGroup.Use(authMiddleware)
		{
			emailGroup.POST("/generate", emailHandler.GenerateEmail)
		}

		threadGroup := v1.Group("/threads")
		threadGroup.Use(authMiddleware)
		{
			threadGroup.GET("", threadHandler.ListThreads)
			threadGroup.GET("/:id", threadHandler.GetThread)
		}

		messageGroup := v1.Group("/messages")
		messageGroup.Use(authMiddleware)
		{
			messageGroup.POST("/:id/sent", emailHandler.MarkMessageSent)
		}
	}
}
