package models

import (
	"time"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// ProcessingJob is one unit of work on the durable queue. The (WorkerID,
// LockedAt) pair is the lease; only the leaseholder drives the chart while
// the row is in processing.
type ProcessingJob struct {
	ID    uint   `json:"id" gorm:"primaryKey"`
	JobID string `json:"jobId" gorm:"uniqueIndex;not null"`

	ChartID     uint   `json:"chartId" gorm:"not null;index"`
	ChartNumber string `json:"chartNumber" gorm:"not null;index"` // denormalized for observability

	Status  JobStatus `json:"status" gorm:"not null;default:'pending';index"`
	JobData JSONB     `json:"jobData" gorm:"type:jsonb"`

	WorkerID string     `json:"workerId"`
	LockedAt *time.Time `json:"lockedAt"`

	StartedAt   *time.Time `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`

	Attempts     int        `json:"attempts" gorm:"default:0"`
	MaxAttempts  int        `json:"maxAttempts" gorm:"default:3"`
	ErrorMessage string     `json:"errorMessage" gorm:"type:text"`
	RetryAfter   *time.Time `json:"retryAfter" gorm:"index"` // earliest moment a failed job is claimable again

	CreatedAt time.Time `json:"createdAt" gorm:"index"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (ProcessingJob) TableName() string {
	return "processing_queue"
}

// EffectiveStatus refines a failed job for operators.
type EffectiveStatus string

const (
	EffectivePermanentlyFailed EffectiveStatus = "permanently_failed"
	EffectiveWaitingForRetry   EffectiveStatus = "waiting_for_retry"
	EffectiveReadyToRetry      EffectiveStatus = "ready_to_retry"
)

// JobData is the decoded shape of ProcessingJob.JobData.
type JobData struct {
	ChartID     uint                   `json:"chartId"`
	ChartNumber string                 `json:"chartNumber"`
	SessionID   string                 `json:"sessionId,omitempty"`
	ChartInfo   map[string]interface{} `json:"chartInfo,omitempty"`
	DocumentIDs []uint                 `json:"documentIds,omitempty"`
}

// DecodeJobData converts the stored jsonb payload back into JobData.
func DecodeJobData(data JSONB) JobData {
	jd := JobData{}
	if data == nil {
		return jd
	}
	if v, ok := data["chartId"].(float64); ok {
		jd.ChartID = uint(v)
	}
	if v, ok := data["chartNumber"].(string); ok {
		jd.ChartNumber = v
	}
	if v, ok := data["sessionId"].(string); ok {
		jd.SessionID = v
	}
	if v, ok := data["chartInfo"].(map[string]interface{}); ok {
		jd.ChartInfo = v
	}
	if ids, ok := data["documentIds"].([]interface{}); ok {
		for _, id := range ids {
			if n, ok := id.(float64); ok {
				jd.DocumentIDs = append(jd.DocumentIDs, uint(n))
			}
		}
	}
	return jd
}

// Encode returns the jsonb representation stored on the queue row.
func (jd JobData) Encode() JSONB {
	data := JSONB{
		"chartId":     float64(jd.ChartID),
		"chartNumber": jd.ChartNumber,
	}
	if jd.SessionID != "" {
		data["sessionId"] = jd.SessionID
	}
	if jd.ChartInfo != nil {
		data["chartInfo"] = jd.ChartInfo
	}
	if len(jd.DocumentIDs) > 0 {
		ids := make([]interface{}, 0, len(jd.DocumentIDs))
		for _, id := range jd.DocumentIDs {
			ids = append(ids, float64(id))
		}
		data["documentIds"] = ids
	}
	return data
}
