package services

import (
	"fmt"
	"time"

	"github.com/medcharts/backend/internal/logger"
	"github.com/medcharts/backend/internal/models"
	"github.com/medcharts/backend/internal/queue"
	"gorm.io/gorm"
)

// ChartData is the ingress payload for creating or merging a chart.
type ChartData struct {
	SessionID     string
	ChartNumber   string
	PatientName   string
	FacilityName  string
	Specialty     string
	ProviderName  string
	DateOfService *time.Time
	DocumentCount int
}

// ChartService owns the per-chart state machine the UI observes. Chart
// status notifications are emitted on the same transaction as the state
// write.
type ChartService struct {
	db           *gorm.DB
	queueService *queue.QueueService
}

func NewChartService(db *gorm.DB, queueService *queue.QueueService) *ChartService {
	return &ChartService{db: db, queueService: queueService}
}

// CreateQueued upserts a chart by session id. A new row starts queued; an
// existing row gets the new metadata and document count merged in, and its
// ai_status is preserved when it is ready or submitted so a follow-up
// upload never regresses an already-processed chart.
func (cs *ChartService) CreateQueued(data ChartData) (*models.Chart, error) {
	var chart models.Chart

	err := cs.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("session_id = ?", data.SessionID).First(&chart).Error
		if err != nil && err != gorm.ErrRecordNotFound {
			return fmt.Errorf("failed to look up chart: %w", err)
		}

		if err == gorm.ErrRecordNotFound {
			chart = models.Chart{
				SessionID:     data.SessionID,
				ChartNumber:   data.ChartNumber,
				PatientName:   data.PatientName,
				FacilityName:  data.FacilityName,
				Specialty:     data.Specialty,
				ProviderName:  data.ProviderName,
				DateOfService: data.DateOfService,
				DocumentCount: data.DocumentCount,
				AIStatus:      models.AIStatusQueued,
				ReviewStatus:  models.ReviewStatusPending,
			}
			if err := tx.Create(&chart).Error; err != nil {
				return fmt.Errorf("failed to create chart: %w", err)
			}
			return cs.queueService.NotifyChartStatusTx(tx, chart.SessionID, models.AIStatusQueued)
		}

		updates := map[string]interface{}{
			"document_count": chart.DocumentCount + data.DocumentCount,
		}
		if data.PatientName != "" {
			updates["patient_name"] = data.PatientName
		}
		if data.FacilityName != "" {
			updates["facility_name"] = data.FacilityName
		}
		if data.Specialty != "" {
			updates["specialty"] = data.Specialty
		}
		if data.ProviderName != "" {
			updates["provider_name"] = data.ProviderName
		}
		if data.DateOfService != nil {
			updates["date_of_service"] = data.DateOfService
		}

		notify := false
		if chart.AIStatus != models.AIStatusReady && chart.AIStatus != models.AIStatusSubmitted {
			updates["ai_status"] = models.AIStatusQueued
			notify = true
		}

		if err := tx.Model(&models.Chart{}).Where("id = ?", chart.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to merge chart: %w", err)
		}
		if notify {
			if err := cs.queueService.NotifyChartStatusTx(tx, chart.SessionID, models.AIStatusQueued); err != nil {
				return err
			}
		}
		return tx.Where("id = ?", chart.ID).First(&chart).Error
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Chart queued", map[string]interface{}{
		"chartNumber": chart.ChartNumber,
		"sessionID":   chart.SessionID,
		"documents":   chart.DocumentCount,
	})
	return &chart, nil
}

// MarkProcessing transitions a chart into processing.
func (cs *ChartService) MarkProcessing(chartNumber string) error {
	return cs.db.Transaction(func(tx *gorm.DB) error {
		var chart models.Chart
		if err := tx.Where("chart_number = ?", chartNumber).First(&chart).Error; err != nil {
			return fmt.Errorf("chart %s not found: %w", chartNumber, err)
		}
		if err := tx.Model(&models.Chart{}).Where("id = ?", chart.ID).Updates(map[string]interface{}{
			"ai_status":             models.AIStatusProcessing,
			"processing_started_at": time.Now(),
		}).Error; err != nil {
			return fmt.Errorf("failed to mark chart processing: %w", err)
		}
		return cs.queueService.NotifyChartStatusTx(tx, chart.SessionID, models.AIStatusProcessing)
	})
}

// StoreResults writes the generated payload, takes the original-codes
// snapshot on the first successful generation, and moves the chart to
// ready with its error fields cleared. Refused once the chart has been
// submitted for review.
func (cs *ChartService) StoreResults(chartNumber string, aiPayload models.JSONB, slaData models.JSONB) error {
	return cs.db.Transaction(func(tx *gorm.DB) error {
		var chart models.Chart
		if err := tx.Raw(`SELECT * FROM charts WHERE chart_number = ? AND deleted_at IS NULL FOR UPDATE`, chartNumber).Scan(&chart).Error; err != nil {
			return fmt.Errorf("failed to load chart: %w", err)
		}
		if chart.ID == 0 {
			return fmt.Errorf("chart %s not found", chartNumber)
		}
		if chart.ReviewStatus == models.ReviewStatusSubmitted {
			return fmt.Errorf("chart %s has been submitted, AI fields are frozen", chartNumber)
		}

		updates := map[string]interface{}{
			"ai_status":               models.AIStatusReady,
			"ai_result":               aiPayload,
			"processing_completed_at": time.Now(),
			"last_error":              "",
			"last_error_at":           nil,
			"retry_count":             0,
		}
		if slaData != nil {
			updates["sla_data"] = slaData
		}
		// The snapshot is written exactly once per processing generation;
		// a later job for the same chart keeps the first generation's copy.
		if chart.OriginalAICodes == nil {
			updates["original_ai_codes"] = ExtractCodeCategories(aiPayload)
		}

		if err := tx.Model(&models.Chart{}).Where("id = ?", chart.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to store AI results: %w", err)
		}
		return cs.queueService.NotifyChartStatusTx(tx, chart.SessionID, models.AIStatusReady)
	})
}

// ExtractCodeCategories flattens the code category objects of a generated
// payload into the snapshot shape. Unknown payloads are snapshotted whole.
func ExtractCodeCategories(payload models.JSONB) models.JSONB {
	if payload == nil {
		return nil
	}
	categories := []string{"diagnosis_codes", "procedure_codes", "hcpcs_codes", "modifiers"}
	snapshot := models.JSONB{}
	for _, category := range categories {
		if section, ok := payload[category].(map[string]interface{}); ok {
			for k, v := range section {
				snapshot[k] = v
			}
		}
	}
	if len(snapshot) == 0 {
		for k, v := range payload {
			snapshot[k] = v
		}
	}
	return snapshot
}

// RecordError moves a chart to retry_pending or failed depending on the
// queue's retry decision.
func (cs *ChartService) RecordError(chartNumber string, errorMessage string, willRetry bool, attempts int) error {
	status := models.AIStatusFailed
	if willRetry {
		status = models.AIStatusRetryPending
	}

	return cs.db.Transaction(func(tx *gorm.DB) error {
		var chart models.Chart
		if err := tx.Where("chart_number = ?", chartNumber).First(&chart).Error; err != nil {
			return fmt.Errorf("chart %s not found: %w", chartNumber, err)
		}
		if err := tx.Model(&models.Chart{}).Where("id = ?", chart.ID).Updates(map[string]interface{}{
			"ai_status":     status,
			"last_error":    errorMessage,
			"last_error_at": time.Now(),
			"retry_count":   attempts,
		}).Error; err != nil {
			return fmt.Errorf("failed to record chart error: %w", err)
		}
		return cs.queueService.NotifyChartStatusTx(tx, chart.SessionID, status)
	})
}

// ResetForRetry is the admin path back to queued. Only valid from failed or
// retry_pending. Clears the error fields and the original-codes snapshot so
// the reprocess takes a fresh one.
func (cs *ChartService) ResetForRetry(chartNumber string) (*models.Chart, error) {
	var chart models.Chart

	err := cs.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chart_number = ?", chartNumber).First(&chart).Error; err != nil {
			return fmt.Errorf("chart %s not found: %w", chartNumber, err)
		}
		if chart.AIStatus != models.AIStatusFailed && chart.AIStatus != models.AIStatusRetryPending {
			return fmt.Errorf("chart %s cannot be reset from status %s", chartNumber, chart.AIStatus)
		}
		if err := tx.Model(&models.Chart{}).Where("id = ?", chart.ID).Updates(map[string]interface{}{
			"ai_status":         models.AIStatusQueued,
			"last_error":        "",
			"last_error_at":     nil,
			"retry_count":       0,
			"original_ai_codes": nil,
		}).Error; err != nil {
			return fmt.Errorf("failed to reset chart: %w", err)
		}
		if err := cs.queueService.NotifyChartStatusTx(tx, chart.SessionID, models.AIStatusQueued); err != nil {
			return err
		}
		return tx.Where("id = ?", chart.ID).First(&chart).Error
	})
	if err != nil {
		return nil, err
	}
	return &chart, nil
}

// SaveUserModifications stores the reviewer's overlay. Refused after
// submission.
func (cs *ChartService) SaveUserModifications(chartNumber string, modifications models.JSONB) error {
	result := cs.db.Model(&models.Chart{}).
		Where("chart_number = ? AND review_status <> ?", chartNumber, models.ReviewStatusSubmitted).
		Update("user_modifications", modifications)
	if result.Error != nil {
		return fmt.Errorf("failed to save modifications: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("chart %s not found or already submitted", chartNumber)
	}
	return nil
}

// SubmitFinalCodes records the reviewer's final codes and freezes the AI
// payload fields by moving the chart to submitted.
func (cs *ChartService) SubmitFinalCodes(chartNumber string, finalCodes models.JSONB) error {
	if len(finalCodes) == 0 {
		return fmt.Errorf("final codes are required for submission")
	}

	return cs.db.Transaction(func(tx *gorm.DB) error {
		var chart models.Chart
		if err := tx.Where("chart_number = ?", chartNumber).First(&chart).Error; err != nil {
			return fmt.Errorf("chart %s not found: %w", chartNumber, err)
		}
		if chart.ReviewStatus == models.ReviewStatusSubmitted {
			return fmt.Errorf("chart %s has already been submitted", chartNumber)
		}
		if err := tx.Model(&models.Chart{}).Where("id = ?", chart.ID).Updates(map[string]interface{}{
			"final_codes":   finalCodes,
			"review_status": models.ReviewStatusSubmitted,
			"ai_status":     models.AIStatusSubmitted,
			"submitted_at":  time.Now(),
		}).Error; err != nil {
			return fmt.Errorf("failed to submit final codes: %w", err)
		}
		return cs.queueService.NotifyChartStatusTx(tx, chart.SessionID, models.AIStatusSubmitted)
	})
}

// UpdateReviewStatus moves the review-side state. Submission must go
// through SubmitFinalCodes so the final-codes invariant holds.
func (cs *ChartService) UpdateReviewStatus(chartNumber string, status models.ReviewStatus) error {
	switch status {
	case models.ReviewStatusPending, models.ReviewStatusInReview, models.ReviewStatusRejected:
	case models.ReviewStatusSubmitted:
		return fmt.Errorf("use the submit endpoint to move a chart to submitted")
	default:
		return fmt.Errorf("invalid review status %q", status)
	}

	result := cs.db.Model(&models.Chart{}).Where("chart_number = ?", chartNumber).Update("review_status", status)
	if result.Error != nil {
		return fmt.Errorf("failed to update review status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("chart %s not found", chartNumber)
	}
	return nil
}

// GetByChartNumber loads a chart with its documents.
func (cs *ChartService) GetByChartNumber(chartNumber string) (*models.Chart, error) {
	var chart models.Chart
	if err := cs.db.Preload("Documents").Where("chart_number = ?", chartNumber).First(&chart).Error; err != nil {
		return nil, err
	}
	return &chart, nil
}

// GetBySessionID loads a chart by its ingress idempotency key.
func (cs *ChartService) GetBySessionID(sessionID string) (*models.Chart, error) {
	var chart models.Chart
	if err := cs.db.Where("session_id = ?", sessionID).First(&chart).Error; err != nil {
		return nil, err
	}
	return &chart, nil
}

// List returns charts newest first, optionally filtered by ai_status.
func (cs *ChartService) List(aiStatus string, limit, offset int) ([]models.Chart, int64, error) {
	query := cs.db.Model(&models.Chart{})
	if aiStatus != "" {
		query = query.Where("ai_status = ?", aiStatus)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var charts []models.Chart
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&charts).Error; err != nil {
		return nil, 0, err
	}
	return charts, total, nil
}

// Delete removes a chart and its documents together. The chart delete is
// a gorm soft delete, which bypasses the documents' ON DELETE CASCADE, so
// the documents are soft-deleted in the same transaction.
func (cs *ChartService) Delete(chartNumber string) error {
	return cs.db.Transaction(func(tx *gorm.DB) error {
		var chart models.Chart
		if err := tx.Where("chart_number = ?", chartNumber).First(&chart).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return fmt.Errorf("chart %s not found", chartNumber)
			}
			return fmt.Errorf("failed to load chart: %w", err)
		}
		if err := tx.Where("chart_id = ?", chart.ID).Delete(&models.Document{}).Error; err != nil {
			return fmt.Errorf("failed to delete chart documents: %w", err)
		}
		if err := tx.Delete(&chart).Error; err != nil {
			return fmt.Errorf("failed to delete chart: %w", err)
		}
		return nil
	})
}
