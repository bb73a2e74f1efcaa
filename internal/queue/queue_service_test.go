package queue

import (
	"testing"
	"time"

	"github.com/medcharts/backend/internal/models"
)

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		priorAttempts int
		expected      time.Duration
	}{
		{0, 30 * time.Second},
		{1, 60 * time.Second},
		{2, 120 * time.Second},
		{3, 300 * time.Second},
		{4, 600 * time.Second},
		{5, 600 * time.Second},
		{100, 600 * time.Second},
		{-1, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := BackoffDelay(tt.priorAttempts); got != tt.expected {
			t.Errorf("BackoffDelay(%d) = %v, expected %v", tt.priorAttempts, got, tt.expected)
		}
	}
}

func TestDeriveEffectiveStatusNonFailed(t *testing.T) {
	now := time.Now()
	for _, status := range []models.JobStatus{models.JobStatusPending, models.JobStatusProcessing, models.JobStatusCompleted} {
		job := &models.ProcessingJob{Status: status, Attempts: 3, MaxAttempts: 3}
		effective, retryIn := DeriveEffectiveStatus(job, now)
		if effective != "" || retryIn != 0 {
			t.Errorf("status %s: expected no effective status, got %q with %d", status, effective, retryIn)
		}
	}
}

func TestDeriveEffectiveStatusPermanentlyFailed(t *testing.T) {
	job := &models.ProcessingJob{
		Status:      models.JobStatusFailed,
		Attempts:    3,
		MaxAttempts: 3,
	}
	effective, retryIn := DeriveEffectiveStatus(job, time.Now())
	if effective != models.EffectivePermanentlyFailed {
		t.Errorf("expected permanently_failed, got %q", effective)
	}
	if retryIn != 0 {
		t.Errorf("expected no retry countdown, got %d", retryIn)
	}
}

func TestDeriveEffectiveStatusWaitingForRetry(t *testing.T) {
	now := time.Now()
	retryAfter := now.Add(45 * time.Second)
	job := &models.ProcessingJob{
		Status:      models.JobStatusFailed,
		Attempts:    1,
		MaxAttempts: 3,
		RetryAfter:  &retryAfter,
	}
	effective, retryIn := DeriveEffectiveStatus(job, now)
	if effective != models.EffectiveWaitingForRetry {
		t.Errorf("expected waiting_for_retry, got %q", effective)
	}
	if retryIn < 44 || retryIn > 46 {
		t.Errorf("expected ~45s countdown, got %d", retryIn)
	}
}

func TestDeriveEffectiveStatusReadyToRetry(t *testing.T) {
	now := time.Now()
	retryAfter := now.Add(-5 * time.Second)
	job := &models.ProcessingJob{
		Status:      models.JobStatusFailed,
		Attempts:    1,
		MaxAttempts: 3,
		RetryAfter:  &retryAfter,
	}
	effective, _ := DeriveEffectiveStatus(job, now)
	if effective != models.EffectiveReadyToRetry {
		t.Errorf("expected ready_to_retry, got %q", effective)
	}

	// A failed job with attempts remaining and no retry_after is also
	// immediately claimable
	job.RetryAfter = nil
	effective, _ = DeriveEffectiveStatus(job, now)
	if effective != models.EffectiveReadyToRetry {
		t.Errorf("expected ready_to_retry with nil retry_after, got %q", effective)
	}
}
