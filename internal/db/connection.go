package db

import (
	"fmt"
	"log"
	"os"

	"github.com/medcharts/backend/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// DSN builds the postgres connection string from the environment. The
// realtime listener uses the same string through lib/pq.
func DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		os.Getenv("DB_HOST"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_SSLMODE"),
	)
}

// Connect initializes the database connection
func Connect() {
	var err error
	DB, err = gorm.Open(postgres.Open(DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error), // Reduce logging to avoid issues
	})

	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	log.Println("✅ Database connected successfully")
}

// AutoMigrate runs database migrations
func AutoMigrate() {
	err := DB.AutoMigrate(&models.User{})
	if err != nil {
		log.Printf("User migration failed: %v", err)
		return
	}
	log.Println("✅ User table migrated successfully")

	err = DB.AutoMigrate(&models.Chart{})
	if err != nil {
		log.Printf("Chart migration failed: %v", err)
		return
	}
	log.Println("✅ Chart table migrated successfully")

	err = DB.AutoMigrate(&models.Document{})
	if err != nil {
		log.Printf("Document migration failed: %v", err)
		return
	}
	log.Println("✅ Document table migrated successfully")

	err = DB.AutoMigrate(&models.ProcessingJob{})
	if err != nil {
		log.Printf("ProcessingJob migration failed: %v", err)
		return
	}
	log.Println("✅ Processing queue table migrated successfully")

	// Cascade delete for a chart's documents; gorm's constraint tag only
	// covers fresh creates, so enforce it here too.
	if err := DB.Exec(`
		ALTER TABLE documents DROP CONSTRAINT IF EXISTS fk_documents_chart;
		ALTER TABLE documents ADD CONSTRAINT fk_documents_chart
			FOREIGN KEY (chart_id) REFERENCES charts(id) ON DELETE CASCADE
	`).Error; err != nil {
		log.Printf("Document cascade constraint failed: %v", err)
		return
	}

	log.Println("✅ All database migrations completed successfully")
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}
