package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/medcharts/backend/internal/db"
	"github.com/medcharts/backend/internal/models"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	db.Connect()
	db.AutoMigrate()

	email := os.Getenv("SEED_ADMIN_EMAIL")
	if email == "" {
		email = "admin@medcharts.local"
	}
	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if password == "" {
		password = "changeme"
	}

	var existing models.User
	if err := db.DB.Where("email = ?", email).First(&existing).Error; err == nil {
		log.Printf("⚠️  Admin user already exists: %s", email)
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("Error hashing password: %v", err)
	}

	user := models.User{
		Email:    email,
		Password: string(hashed),
		FullName: "Queue Administrator",
		Role:     models.RoleAdmin,
	}
	if err := db.DB.Create(&user).Error; err != nil {
		log.Fatalf("Error creating admin user: %v", err)
	}
	log.Printf("✅ Created admin user: %s", email)
}
