package models

import (
	"time"

	"gorm.io/gorm"
)

type OCRStatus string

const (
	OCRStatusPending   OCRStatus = "pending"
	OCRStatusCompleted OCRStatus = "completed"
	OCRStatusFailed    OCRStatus = "failed"
)

// Document is one uploaded file belonging to a chart. TransactionID groups
// files that compose one logical document (e.g. several scanned pages).
type Document struct {
	ID      uint `json:"id" gorm:"primaryKey"`
	ChartID uint `json:"chartId" gorm:"not null;index"`

	FileName    string `json:"fileName" gorm:"not null"`
	ContentType string `json:"contentType" gorm:"not null"`
	Size        int64  `json:"size"`

	// Blob location is immutable once set
	BlobKey    string `json:"blobKey"`
	BlobURL    string `json:"blobUrl"`
	BlobBucket string `json:"blobBucket"`

	OCRStatus OCRStatus `json:"ocrStatus" gorm:"not null;default:'pending'"`
	OCRText   string    `json:"ocrText" gorm:"type:text"`
	OCRTimeMs int64     `json:"ocrTimeMs" gorm:"default:0"`

	AIDocumentSummary string `json:"aiDocumentSummary" gorm:"type:text"`

	TransactionID    string `json:"transactionId" gorm:"index"`
	TransactionLabel string `json:"transactionLabel"`
	IsGroupMember    bool   `json:"isGroupMember" gorm:"default:false"`

	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Chart *Chart `json:"chart,omitempty" gorm:"foreignKey:ChartID;references:ID;constraint:OnDelete:CASCADE"`
}

func (Document) TableName() string {
	return "documents"
}
