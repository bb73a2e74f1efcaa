package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/medcharts/backend/internal/controllers"
	"github.com/medcharts/backend/internal/middleware"
	"github.com/medcharts/backend/internal/models"
	"github.com/medcharts/backend/internal/queue"
	"github.com/medcharts/backend/internal/realtime"
	"github.com/medcharts/backend/internal/services"
	"github.com/medcharts/backend/internal/storage"
	"gorm.io/gorm"
)

// Services bundles the explicitly-constructed service values the routes
// need; there is no ambient global state.
type Services struct {
	DB              *gorm.DB
	QueueService    *queue.QueueService
	ChartService    *services.ChartService
	DocumentService *services.DocumentService
	LLMService      *services.LLMService
	BlobStore       storage.BlobStore
	Hub             *realtime.Hub
}

// SetupRoutes configures all application routes
func SetupRoutes(r *gin.Engine, svc *Services) {
	// Initialize controllers
	authController := controllers.NewAuthController(svc.DB)
	userController := controllers.NewUserController(svc.DB)
	uploadController := controllers.NewUploadController(svc.ChartService, svc.DocumentService, svc.QueueService, svc.BlobStore)
	chartController := controllers.NewChartController(svc.ChartService, svc.DocumentService, svc.QueueService, svc.BlobStore)
	jobController := controllers.NewJobController(svc.QueueService, svc.LLMService)

	// WebSocket endpoint; the client protocol handles its own auth story
	r.GET("/api/ws", func(c *gin.Context) {
		svc.Hub.HandleWebSocket(c.Writer, c.Request)
	})

	// API routes
	api := r.Group("/api/v1")
	{
		// Auth routes
		auth := api.Group("/auth")
		{
			auth.POST("/login", authController.Login)
			auth.POST("/register", authController.Register)
		}

		// Protected routes
		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware())
		{
			protected.POST("/auth/refresh", authController.RefreshToken)

			// Users
			users := protected.Group("/users")
			{
				users.GET("/me", userController.GetCurrentUser)
				users.PUT("/me", userController.UpdateCurrentUser)
				users.GET("", middleware.RequireRole(), userController.GetUsers)
			}

			// Charts
			charts := protected.Group("/charts")
			{
				charts.POST("/upload", uploadController.UploadDocuments)
				charts.GET("", chartController.GetCharts)
				charts.GET("/:chartNumber", chartController.GetChart)
				charts.GET("/:chartNumber/documents", chartController.GetChartDocuments)
				charts.GET("/:chartNumber/jobs", jobController.GetJobsByChart)
				charts.PUT("/:chartNumber/modifications", middleware.RequireRole(models.RoleCoder), chartController.SaveModifications)
				charts.POST("/:chartNumber/submit", middleware.RequireRole(models.RoleCoder), chartController.SubmitFinalCodes)
				charts.PUT("/:chartNumber/review-status", middleware.RequireRole(models.RoleCoder, models.RoleAuditor), chartController.UpdateReviewStatus)
				charts.POST("/:chartNumber/retry", middleware.RequireRole(), chartController.RetryChart)
				charts.DELETE("/:chartNumber", middleware.RequireRole(), chartController.DeleteChart)
			}

			// Jobs
			jobs := protected.Group("/jobs")
			{
				jobs.GET("/:jobId", jobController.GetJob)
				jobs.POST("/:jobId/retry", middleware.RequireRole(), jobController.RetryJob)
				jobs.GET("/status/:chartNumber", jobController.GetJobStatus)
			}

			// Admin routes
			admin := protected.Group("/admin")
			admin.Use(middleware.RequireRole())
			{
				admin.GET("/queue/stats", jobController.GetQueueStats)
				admin.POST("/queue/cleanup", jobController.CleanupQueue)
				admin.GET("/llm-api-calls", jobController.GetLLMAPICalls)
				admin.DELETE("/llm-api-calls", jobController.ClearLLMAPICalls)
			}
		}
	}
}
