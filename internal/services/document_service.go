package services

import (
	"fmt"

	"github.com/medcharts/backend/internal/models"
	"gorm.io/gorm"
)

// DocumentService owns the document rows of a chart.
type DocumentService struct {
	db *gorm.DB
}

func NewDocumentService(db *gorm.DB) *DocumentService {
	return &DocumentService{db: db}
}

// DocumentInput carries the ingress fields for one stored blob.
type DocumentInput struct {
	FileName         string
	ContentType      string
	Size             int64
	BlobKey          string
	BlobURL          string
	BlobBucket       string
	TransactionID    string
	TransactionLabel string
	IsGroupMember    bool
}

// Create inserts a document row for a stored blob. The chart owner and the
// blob location never change after this.
func (ds *DocumentService) Create(chartID uint, input DocumentInput) (*models.Document, error) {
	doc := &models.Document{
		ChartID:          chartID,
		FileName:         input.FileName,
		ContentType:      input.ContentType,
		Size:             input.Size,
		BlobKey:          input.BlobKey,
		BlobURL:          input.BlobURL,
		BlobBucket:       input.BlobBucket,
		OCRStatus:        models.OCRStatusPending,
		TransactionID:    input.TransactionID,
		TransactionLabel: input.TransactionLabel,
		IsGroupMember:    input.IsGroupMember,
	}
	if err := ds.db.Create(doc).Error; err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}
	return doc, nil
}

// ListByChart returns the authoritative document set for a chart, oldest
// first. The worker reads this instead of the job payload so documents
// added between enqueue and claim are included.
func (ds *DocumentService) ListByChart(chartID uint) ([]models.Document, error) {
	var docs []models.Document
	if err := ds.db.Where("chart_id = ?", chartID).Order("created_at ASC").Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

// RecordExtractionSuccess stores the extracted text for a document.
func (ds *DocumentService) RecordExtractionSuccess(documentID uint, text string, elapsedMs int64) error {
	return ds.db.Model(&models.Document{}).Where("id = ?", documentID).Updates(map[string]interface{}{
		"ocr_status":  models.OCRStatusCompleted,
		"ocr_text":    text,
		"ocr_time_ms": elapsedMs,
	}).Error
}

// RecordExtractionFailure marks a document's extraction as failed.
func (ds *DocumentService) RecordExtractionFailure(documentID uint, extractErr error) error {
	text := ""
	if extractErr != nil {
		text = fmt.Sprintf("extraction failed: %v", extractErr)
	}
	return ds.db.Model(&models.Document{}).Where("id = ?", documentID).Updates(map[string]interface{}{
		"ocr_status": models.OCRStatusFailed,
		"ocr_text":   text,
	}).Error
}

// SaveSummary stores the best-effort per-document AI summary.
func (ds *DocumentService) SaveSummary(documentID uint, summary string) error {
	return ds.db.Model(&models.Document{}).Where("id = ?", documentID).
		Update("ai_document_summary", summary).Error
}
