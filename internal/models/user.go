package models

import (
	"time"

	"gorm.io/gorm"
)

type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleCoder   UserRole = "CODER"
	RoleAuditor UserRole = "AUDITOR"
)

// User is a dashboard account. Coders work the review queue, auditors
// check submitted codes, admins operate the processing queue.
type User struct {
	ID       uint     `json:"id" gorm:"primaryKey"`
	Email    string   `json:"email" gorm:"uniqueIndex;not null"`
	Password string   `json:"-" gorm:"not null"`
	FullName string   `json:"fullName" gorm:"not null"`
	Role     UserRole `json:"role" gorm:"not null;default:'CODER'"`

	// Coding credential (CPC, CCS, ...) and the specialty the coder is
	// assigned to; both are informational for the dashboard
	Credential string `json:"credential"`
	Specialty  string `json:"specialty"`

	LastLoginAt *time.Time `json:"lastLoginAt"`

	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (User) TableName() string {
	return "users"
}
