package models

import (
	"time"

	"gorm.io/gorm"
)

type ChartAIStatus string

const (
	AIStatusQueued       ChartAIStatus = "queued"
	AIStatusProcessing   ChartAIStatus = "processing"
	AIStatusReady        ChartAIStatus = "ready"
	AIStatusRetryPending ChartAIStatus = "retry_pending"
	AIStatusFailed       ChartAIStatus = "failed"
	AIStatusSubmitted    ChartAIStatus = "submitted"
)

type ReviewStatus string

const (
	ReviewStatusPending   ReviewStatus = "pending"
	ReviewStatusInReview  ReviewStatus = "in_review"
	ReviewStatusSubmitted ReviewStatus = "submitted"
	ReviewStatusRejected  ReviewStatus = "rejected"
)

// Chart is one patient encounter's worth of documents plus derived codes.
// SessionID is the client-supplied idempotency key for a multi-upload batch.
type Chart struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	SessionID   string `json:"sessionId" gorm:"uniqueIndex;not null"`
	ChartNumber string `json:"chartNumber" gorm:"uniqueIndex;not null"`

	PatientName   string     `json:"patientName"`
	FacilityName  string     `json:"facilityName"`
	Specialty     string     `json:"specialty"`
	ProviderName  string     `json:"providerName"`
	DateOfService *time.Time `json:"dateOfService"`

	DocumentCount int `json:"documentCount" gorm:"default:0"`

	AIStatus     ChartAIStatus `json:"aiStatus" gorm:"not null;default:'queued';index"`
	ReviewStatus ReviewStatus  `json:"reviewStatus" gorm:"not null;default:'pending'"`

	// AIResult holds the latest generated payload; OriginalAICodes is the
	// snapshot taken at the first store of a processing generation and is
	// never mutated afterwards. UserModifications and FinalCodes are the
	// review-side overlays.
	AIResult          JSONB `json:"aiResult" gorm:"type:jsonb"`
	OriginalAICodes   JSONB `json:"originalAiCodes" gorm:"type:jsonb"`
	UserModifications JSONB `json:"userModifications" gorm:"type:jsonb"`
	FinalCodes        JSONB `json:"finalCodes" gorm:"type:jsonb"`
	SLAData           JSONB `json:"slaData" gorm:"type:jsonb"`

	LastError   string     `json:"lastError" gorm:"type:text"`
	LastErrorAt *time.Time `json:"lastErrorAt"`
	RetryCount  int        `json:"retryCount" gorm:"default:0"`

	ProcessingStartedAt   *time.Time `json:"processingStartedAt"`
	ProcessingCompletedAt *time.Time `json:"processingCompletedAt"`
	SubmittedAt           *time.Time `json:"submittedAt"`

	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Documents []Document `json:"documents,omitempty" gorm:"foreignKey:ChartID"`
}

func (Chart) TableName() string {
	return "charts"
}
