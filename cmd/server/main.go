package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/medcharts/backend/internal/db"
	"github.com/medcharts/backend/internal/logger"
	"github.com/medcharts/backend/internal/middleware"
	"github.com/medcharts/backend/internal/queue"
	"github.com/medcharts/backend/internal/realtime"
	"github.com/medcharts/backend/internal/routes"
	"github.com/medcharts/backend/internal/services"
	"github.com/medcharts/backend/internal/storage"

	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Set CORS headers for all requests
		origin := "http://localhost:5173"
		if os.Getenv("ENV") != "local" && os.Getenv("ENV") != "" {
			if corsOrigin := os.Getenv("CORS_ORIGIN"); corsOrigin != "" {
				origin = corsOrigin
			}
		}

		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		// Handle preflight request
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

func main() {
	// Initialize logger first
	logger.Initialize()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables", nil)
	}

	// Connect to database
	db.Connect()
	db.AutoMigrate()

	// Blob storage
	blobStore, err := storage.NewS3Storage()
	if err != nil {
		logger.Fatal("Failed to initialize blob storage", map[string]interface{}{"error": err.Error()})
	}

	// Build the service graph; shared singletons are explicit values
	queueService := queue.NewQueueService(db.DB)
	chartService := services.NewChartService(db.DB, queueService)
	documentService := services.NewDocumentService(db.DB)
	llmService := services.NewLLMService(
		os.Getenv("LLM_API_URL"),
		os.Getenv("LLM_MODEL"),
		os.Getenv("LLM_API_KEY"),
	)
	ocrService := services.NewOCRService(os.Getenv("OCR_SERVICE_URL"), blobStore)

	// Realtime plane: hub plus the database notification listener
	hub := realtime.NewHub(queueService)
	listener := realtime.NewListener(db.DSN(), hub)
	if err := listener.Start(); err != nil {
		logger.Fatal("Failed to start notification listener", map[string]interface{}{"error": err.Error()})
	}

	// Embedded worker, disabled when a dedicated worker fleet runs
	var worker *services.Worker
	if os.Getenv("EMBED_WORKER") != "false" {
		processor := services.NewProcessor(queueService, chartService, documentService, ocrService, llmService)
		worker = services.NewWorker(queueService, processor)
		worker.Start()
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	// Set Gin mode
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create router without default middleware
	r := gin.New()

	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false

	// Use our custom logging middleware instead of gin.Default()
	r.Use(middleware.CustomLoggerMiddleware())
	r.Use(CORSMiddleware())
	r.Use(gin.Recovery())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		// Check database connectivity
		var dbStatus string
		var dbError error

		if db.DB != nil {
			sqlDB, err := db.DB.DB()
			if err != nil {
				dbStatus = "error"
				dbError = err
			} else {
				err = sqlDB.Ping()
				if err != nil {
					dbStatus = "error"
					dbError = err
				} else {
					dbStatus = "ok"
				}
			}
		} else {
			dbStatus = "error"
			dbError = fmt.Errorf("database connection not initialized")
		}

		// Determine overall health
		overallStatus := "ok"
		statusCode := 200

		if dbStatus != "ok" {
			overallStatus = "error"
			statusCode = 503
		}

		response := gin.H{
			"status":    overallStatus,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"version":   "1.0.0",
			"services": gin.H{
				"database": gin.H{
					"status": dbStatus,
					"error":  dbError,
				},
				"websocket": gin.H{
					"clients": hub.ClientCount(),
				},
			},
		}

		c.JSON(statusCode, response)
	})

	// Setup routes
	routes.SetupRoutes(r, &routes.Services{
		DB:              db.DB,
		QueueService:    queueService,
		ChartService:    chartService,
		DocumentService: documentService,
		LLMService:      llmService,
		BlobStore:       blobStore,
		Hub:             hub,
	})

	// Start server with graceful shutdown
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	logger.Info("Starting MedCharts backend server", map[string]interface{}{
		"port":     port,
		"gin_mode": gin.Mode(),
	})

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	logger.Info("Shutting down server gracefully...", nil)

	// Drain the in-flight job before stopping the HTTP surface
	if worker != nil {
		worker.Stop()
	}
	listener.Stop()

	// Create a context with timeout for graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		logger.Info("Server exited gracefully", nil)
	}
}
