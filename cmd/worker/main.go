package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/medcharts/backend/internal/db"
	"github.com/medcharts/backend/internal/logger"
	"github.com/medcharts/backend/internal/queue"
	"github.com/medcharts/backend/internal/services"
	"github.com/medcharts/backend/internal/storage"
)

func main() {
	logger.Initialize()

	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables", nil)
	}

	db.Connect()

	blobStore, err := storage.NewS3Storage()
	if err != nil {
		logger.Fatal("Failed to initialize blob storage", map[string]interface{}{"error": err.Error()})
	}

	queueService := queue.NewQueueService(db.DB)
	chartService := services.NewChartService(db.DB, queueService)
	documentService := services.NewDocumentService(db.DB)
	llmService := services.NewLLMService(
		os.Getenv("LLM_API_URL"),
		os.Getenv("LLM_MODEL"),
		os.Getenv("LLM_API_KEY"),
	)
	ocrService := services.NewOCRService(os.Getenv("OCR_SERVICE_URL"), blobStore)

	processor := services.NewProcessor(queueService, chartService, documentService, ocrService, llmService)
	worker := services.NewWorker(queueService, processor)
	worker.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	logger.Info("Shutdown signal received, draining current job...", nil)
	worker.Stop()
	logger.Info("Worker exited gracefully", nil)
}
