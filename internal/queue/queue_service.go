package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/medcharts/backend/internal/logger"
	"github.com/medcharts/backend/internal/models"
	"gorm.io/gorm"
)

const (
	// Notification channels consumed by the realtime listener
	ChannelJobStatus   = "job_status_update"
	ChannelChartStatus = "chart_status_update"
)

// BackoffSchedule holds the retry delays indexed by prior-attempt count.
// With the default max_attempts of 3 the user-visible progression is
// 30s, 60s, then permanent failure.
var BackoffSchedule = []time.Duration{
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
	300 * time.Second,
	600 * time.Second,
}

// BackoffDelay returns the retry delay after priorAttempts completed
// attempts. The index is clamped to the schedule length.
func BackoffDelay(priorAttempts int) time.Duration {
	if priorAttempts < 0 {
		priorAttempts = 0
	}
	if priorAttempts >= len(BackoffSchedule) {
		priorAttempts = len(BackoffSchedule) - 1
	}
	return BackoffSchedule[priorAttempts]
}

// FailureDecision is returned by Fail so the caller can drive the chart
// status update without re-reading the queue row.
type FailureDecision struct {
	Attempts            int        `json:"attempts"`
	MaxAttempts         int        `json:"maxAttempts"`
	WillRetry           bool       `json:"willRetry"`
	RetryAfter          *time.Time `json:"retryAfter"`
	IsPermanentlyFailed bool       `json:"isPermanentlyFailed"`
}

// QueueStats is the observability snapshot over the queue table.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Retryable  int64 `json:"retryable"`
	Total      int64 `json:"total"`
}

// JobStatusView is the operator-facing view of the latest job for a chart.
type JobStatusView struct {
	Job             *models.ProcessingJob  `json:"job"`
	EffectiveStatus models.EffectiveStatus `json:"effectiveStatus,omitempty"`
	RetryInSeconds  int64                  `json:"retryInSeconds,omitempty"`
}

// QueueService is the durable work queue over the processing_queue table.
// All state-changing operations emit their notification with pg_notify on
// the same transaction as the state write, so a successful commit implies
// a delivery attempt.
type QueueService struct {
	db *gorm.DB
}

func NewQueueService(db *gorm.DB) *QueueService {
	return &QueueService{db: db}
}

// claimable is the selection predicate shared by ClaimNext and GetStats.
// Pending rows strictly precede retryable ones; within each class oldest
// created_at first.
const claimableWhere = `status = 'pending' OR (status = 'failed' AND attempts < max_attempts AND (retry_after IS NULL OR retry_after <= NOW()))`

// Enqueue writes a new pending job for a chart and returns its job id.
// Idempotency is the caller's responsibility (the ingress key is the
// chart's session_id, not the job).
func (qs *QueueService) Enqueue(chartID uint, chartNumber string, jobData models.JobData) (string, error) {
	jobID := fmt.Sprintf("job_%s", uuid.NewString())

	job := &models.ProcessingJob{
		JobID:       jobID,
		ChartID:     chartID,
		ChartNumber: chartNumber,
		Status:      models.JobStatusPending,
		JobData:     jobData.Encode(),
		Attempts:    0,
		MaxAttempts: 3,
	}

	err := qs.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return fmt.Errorf("failed to create job: %w", err)
		}
		return qs.notifyJob(tx, jobID, string(models.JobStatusPending), "queued", "Job queued for processing")
	})
	if err != nil {
		return "", err
	}

	logger.Info("Job enqueued", map[string]interface{}{
		"jobID":       jobID,
		"chartID":     chartID,
		"chartNumber": chartNumber,
	})
	return jobID, nil
}

// ClaimNext atomically claims the single highest-priority claimable row for
// workerID. Returns nil when the queue has nothing claimable. The inner
// SELECT uses FOR UPDATE SKIP LOCKED so concurrent workers never select the
// same row.
func (qs *QueueService) ClaimNext(workerID string) (*models.ProcessingJob, error) {
	var job models.ProcessingJob

	err := qs.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Raw(`
			UPDATE processing_queue
			SET status = 'processing',
			    worker_id = ?,
			    locked_at = NOW(),
			    started_at = COALESCE(started_at, NOW()),
			    attempts = attempts + 1,
			    retry_after = NULL,
			    updated_at = NOW()
			WHERE id = (
				SELECT id FROM processing_queue
				WHERE `+claimableWhere+`
				ORDER BY CASE WHEN status = 'pending' THEN 0 ELSE 1 END, created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING *`, workerID).Scan(&job)
		if result.Error != nil {
			return fmt.Errorf("claim query failed: %w", result.Error)
		}
		if result.RowsAffected == 0 || job.ID == 0 {
			job = models.ProcessingJob{}
			return nil
		}
		return qs.notifyJob(tx, job.JobID, string(models.JobStatusProcessing), "claimed",
			fmt.Sprintf("Claimed by %s (attempt %d/%d)", workerID, job.Attempts, job.MaxAttempts))
	})
	if err != nil {
		return nil, err
	}
	if job.ID == 0 {
		return nil, nil
	}

	logger.Info("Job claimed", map[string]interface{}{
		"jobID":    job.JobID,
		"workerID": workerID,
		"attempt":  job.Attempts,
	})
	return &job, nil
}

// Complete marks a job completed and clears its lease and error fields.
// Completing an already-completed job is a no-op success.
func (qs *QueueService) Complete(jobID string) error {
	return qs.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.ProcessingJob{}).
			Where("job_id = ? AND status <> ?", jobID, models.JobStatusCompleted).
			Updates(map[string]interface{}{
				"status":        models.JobStatusCompleted,
				"completed_at":  time.Now(),
				"worker_id":     "",
				"locked_at":     nil,
				"error_message": "",
				"retry_after":   nil,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to complete job: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			// already completed
			return nil
		}
		return qs.notifyJob(tx, jobID, string(models.JobStatusCompleted), "completed", "Processing completed")
	})
}

// Fail records a job failure, schedules the next retry per the backoff
// schedule when attempts remain, and returns the decision metadata the
// worker uses to update the chart.
func (qs *QueueService) Fail(jobID string, errorMessage string) (*FailureDecision, error) {
	decision := &FailureDecision{}

	err := qs.db.Transaction(func(tx *gorm.DB) error {
		var job models.ProcessingJob
		if err := tx.Raw(`SELECT * FROM processing_queue WHERE job_id = ? FOR UPDATE`, jobID).Scan(&job).Error; err != nil {
			return fmt.Errorf("failed to load job for failure: %w", err)
		}
		if job.ID == 0 {
			return fmt.Errorf("job %s not found", jobID)
		}

		decision.Attempts = job.Attempts
		decision.MaxAttempts = job.MaxAttempts
		decision.WillRetry = job.Attempts < job.MaxAttempts
		decision.IsPermanentlyFailed = !decision.WillRetry

		updates := map[string]interface{}{
			"status":        models.JobStatusFailed,
			"error_message": errorMessage,
			"worker_id":     "",
			"locked_at":     nil,
			"retry_after":   nil,
		}
		if decision.WillRetry {
			// attempts was already incremented by the claim, so the
			// prior-attempt index is attempts-1
			retryAfter := time.Now().Add(BackoffDelay(job.Attempts - 1))
			decision.RetryAfter = &retryAfter
			updates["retry_after"] = retryAfter
		}

		if err := tx.Model(&models.ProcessingJob{}).Where("job_id = ?", jobID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to record job failure: %w", err)
		}

		phase := "failed"
		message := errorMessage
		if decision.WillRetry {
			phase = "retry_scheduled"
			message = fmt.Sprintf("Attempt %d/%d failed: %s", job.Attempts, job.MaxAttempts, errorMessage)
		}
		return qs.notifyJob(tx, jobID, string(models.JobStatusFailed), phase, message)
	})
	if err != nil {
		return nil, err
	}

	logger.Warn("Job failed", map[string]interface{}{
		"jobID":     jobID,
		"attempts":  decision.Attempts,
		"willRetry": decision.WillRetry,
		"error":     errorMessage,
	})
	return decision, nil
}

// ReleaseStuck converts processing rows whose lease is older than
// stuckMinutes into failed rows claimable again after 30s. Run at worker
// startup and periodically.
func (qs *QueueService) ReleaseStuck(stuckMinutes int) (int, error) {
	released := 0

	err := qs.db.Transaction(func(tx *gorm.DB) error {
		var stuck []models.ProcessingJob
		cutoff := time.Now().Add(-time.Duration(stuckMinutes) * time.Minute)
		if err := tx.Raw(`SELECT * FROM processing_queue WHERE status = 'processing' AND locked_at < ? FOR UPDATE SKIP LOCKED`, cutoff).Scan(&stuck).Error; err != nil {
			return fmt.Errorf("failed to find stuck jobs: %w", err)
		}

		retryAfter := time.Now().Add(30 * time.Second)
		for _, job := range stuck {
			errMsg := fmt.Sprintf("Job stuck in processing for over %d minutes (worker %s), released", stuckMinutes, job.WorkerID)
			if err := tx.Model(&models.ProcessingJob{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
				"status":        models.JobStatusFailed,
				"error_message": errMsg,
				"worker_id":     "",
				"locked_at":     nil,
				"retry_after":   retryAfter,
			}).Error; err != nil {
				return fmt.Errorf("failed to release stuck job %s: %w", job.JobID, err)
			}
			if err := qs.notifyJob(tx, job.JobID, string(models.JobStatusFailed), "released", errMsg); err != nil {
				return err
			}
			released++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if released > 0 {
		logger.Warn("Released stuck jobs", map[string]interface{}{"count": released, "stuckMinutes": stuckMinutes})
	}
	return released, nil
}

// Retry is the administrative reset of a permanently failed job: back to
// pending with a fresh attempt budget. Only valid from failed.
func (qs *QueueService) Retry(jobID string) error {
	return qs.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.ProcessingJob{}).
			Where("job_id = ? AND status = ?", jobID, models.JobStatusFailed).
			Updates(map[string]interface{}{
				"status":        models.JobStatusPending,
				"attempts":      0,
				"error_message": "",
				"worker_id":     "",
				"locked_at":     nil,
				"retry_after":   nil,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to retry job: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("job %s is not in failed state", jobID)
		}
		return qs.notifyJob(tx, jobID, string(models.JobStatusPending), "retry_requested", "Job manually requeued")
	})
}

// GetStats returns queue counters for the admin dashboard.
func (qs *QueueService) GetStats() (*QueueStats, error) {
	stats := &QueueStats{}

	type row struct {
		Status models.JobStatus
		Count  int64
	}
	var rows []row
	if err := qs.db.Model(&models.ProcessingJob{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	for _, r := range rows {
		switch r.Status {
		case models.JobStatusPending:
			stats.Pending = r.Count
		case models.JobStatusProcessing:
			stats.Processing = r.Count
		case models.JobStatusCompleted:
			stats.Completed = r.Count
		case models.JobStatusFailed:
			stats.Failed = r.Count
		}
		stats.Total += r.Count
	}

	if err := qs.db.Model(&models.ProcessingJob{}).
		Where("status = 'failed' AND attempts < max_attempts").
		Count(&stats.Retryable).Error; err != nil {
		return nil, fmt.Errorf("failed to count retryable jobs: %w", err)
	}
	return stats, nil
}

// GetJob returns a job by its opaque id.
func (qs *QueueService) GetJob(jobID string) (*models.ProcessingJob, error) {
	var job models.ProcessingJob
	if err := qs.db.Where("job_id = ?", jobID).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// JobsByChart returns all jobs for a chart, newest first.
func (qs *QueueService) JobsByChart(chartNumber string) ([]models.ProcessingJob, error) {
	var jobs []models.ProcessingJob
	if err := qs.db.Where("chart_number = ?", chartNumber).Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetJobStatus returns the latest job for a chart together with its
// effective status.
func (qs *QueueService) GetJobStatus(chartNumber string) (*JobStatusView, error) {
	var job models.ProcessingJob
	if err := qs.db.Where("chart_number = ?", chartNumber).Order("created_at DESC").First(&job).Error; err != nil {
		return nil, err
	}

	view := &JobStatusView{Job: &job}
	view.EffectiveStatus, view.RetryInSeconds = DeriveEffectiveStatus(&job, time.Now())
	return view, nil
}

// DeriveEffectiveStatus refines a failed job into permanently_failed,
// waiting_for_retry or ready_to_retry, plus the seconds until the retry
// window opens.
func DeriveEffectiveStatus(job *models.ProcessingJob, now time.Time) (models.EffectiveStatus, int64) {
	if job.Status != models.JobStatusFailed {
		return "", 0
	}
	if job.Attempts >= job.MaxAttempts {
		return models.EffectivePermanentlyFailed, 0
	}
	if job.RetryAfter != nil && job.RetryAfter.After(now) {
		return models.EffectiveWaitingForRetry, int64(job.RetryAfter.Sub(now).Seconds() + 0.5)
	}
	return models.EffectiveReadyToRetry, 0
}

// Cleanup deletes completed jobs older than the retention window. Rows in
// any other status are never touched.
func (qs *QueueService) Cleanup(olderThanDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	result := qs.db.Where("status = ? AND completed_at < ?", models.JobStatusCompleted, cutoff).
		Delete(&models.ProcessingJob{})
	if result.Error != nil {
		return 0, fmt.Errorf("queue cleanup failed: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		logger.Info("Queue cleanup removed completed jobs", map[string]interface{}{
			"removed":       result.RowsAffected,
			"olderThanDays": olderThanDays,
		})
	}
	return result.RowsAffected, nil
}

// NotifyJobStatus emits a structured progress event on the job channel.
// Used by the worker for phase checkpoints between state transitions.
func (qs *QueueService) NotifyJobStatus(jobID, status, phase, message string) error {
	return qs.notifyJob(qs.db, jobID, status, phase, message)
}

// NotifyChartStatus emits a chart-level status event keyed by session id.
func (qs *QueueService) NotifyChartStatus(sessionID string, aiStatus models.ChartAIStatus) error {
	return qs.notifyChart(qs.db, sessionID, aiStatus)
}

// NotifyChartStatusTx is the transactional variant used by services that
// change chart state and must emit on the same commit.
func (qs *QueueService) NotifyChartStatusTx(tx *gorm.DB, sessionID string, aiStatus models.ChartAIStatus) error {
	return qs.notifyChart(tx, sessionID, aiStatus)
}

func (qs *QueueService) notifyJob(tx *gorm.DB, jobID, status, phase, message string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"jobId":     jobID,
		"status":    status,
		"phase":     phase,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal job notification: %w", err)
	}
	if err := tx.Exec(`SELECT pg_notify(?, ?)`, ChannelJobStatus, string(payload)).Error; err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

func (qs *QueueService) notifyChart(tx *gorm.DB, sessionID string, aiStatus models.ChartAIStatus) error {
	if sessionID == "" {
		return nil
	}
	payload, err := json.Marshal(map[string]interface{}{
		"sessionId": sessionID,
		"aiStatus":  string(aiStatus),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal chart notification: %w", err)
	}
	if err := tx.Exec(`SELECT pg_notify(?, ?)`, ChannelChartStatus, string(payload)).Error; err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}
