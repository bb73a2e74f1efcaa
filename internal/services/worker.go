package services

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/medcharts/backend/internal/logger"
	"github.com/medcharts/backend/internal/queue"
)

const (
	stuckLeaseMinutes   = 30
	stuckSweepInterval  = 10 * time.Minute
	cleanupInterval     = 24 * time.Hour
	defaultPollInterval = 2 * time.Second
	defaultRetention    = 7 // days
)

// Worker claims one job at a time from the durable queue and drives the
// pipeline. Multiple worker processes may run concurrently; correctness
// relies entirely on the atomic claim.
type Worker struct {
	ID            string
	queueService  *queue.QueueService
	processor     *Processor
	pollInterval  time.Duration
	retentionDays int
	stopChan      chan struct{}
	doneChan      chan struct{}
}

func NewWorker(queueService *queue.QueueService, processor *Processor) *Worker {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	pollInterval := defaultPollInterval
	if v := os.Getenv("WORKER_POLL_SECONDS"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil && d > 0 {
			pollInterval = d
		}
	}
	retentionDays := defaultRetention
	if v := os.Getenv("JOB_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			retentionDays = n
		}
	}

	return &Worker{
		ID:            fmt.Sprintf("worker-%s-%d", hostname, os.Getpid()),
		queueService:  queueService,
		processor:     processor,
		pollInterval:  pollInterval,
		retentionDays: retentionDays,
		stopChan:      make(chan struct{}),
		doneChan:      make(chan struct{}),
	}
}

// Start launches the claim loop in the background.
func (w *Worker) Start() {
	go w.run()
}

// Stop signals the loop and blocks until the in-flight job has drained.
func (w *Worker) Stop() {
	close(w.stopChan)
	<-w.doneChan
}

func (w *Worker) run() {
	defer close(w.doneChan)

	logger.Info("Worker starting", map[string]interface{}{
		"workerID":     w.ID,
		"pollInterval": w.pollInterval.String(),
	})

	// Recover leases orphaned by a previous crash before claiming
	if _, err := w.queueService.ReleaseStuck(stuckLeaseMinutes); err != nil {
		logger.Error("Startup stuck-lease sweep failed", map[string]interface{}{"workerID": w.ID, "error": err.Error()})
	}

	lastSweep := time.Now()
	lastCleanup := time.Now()

	for {
		select {
		case <-w.stopChan:
			logger.Info("Worker stopping", map[string]interface{}{"workerID": w.ID})
			return
		default:
		}

		if time.Since(lastSweep) >= stuckSweepInterval {
			if _, err := w.queueService.ReleaseStuck(stuckLeaseMinutes); err != nil {
				logger.Error("Stuck-lease sweep failed", map[string]interface{}{"workerID": w.ID, "error": err.Error()})
			}
			lastSweep = time.Now()
		}
		if time.Since(lastCleanup) >= cleanupInterval {
			if _, err := w.queueService.Cleanup(w.retentionDays); err != nil {
				logger.Error("Queue cleanup failed", map[string]interface{}{"workerID": w.ID, "error": err.Error()})
			}
			lastCleanup = time.Now()
		}

		job, err := w.queueService.ClaimNext(w.ID)
		if err != nil {
			// Fail fast on database trouble and retry after a pause
			logger.Error("Claim failed", map[string]interface{}{"workerID": w.ID, "error": err.Error()})
			w.sleep()
			continue
		}
		if job == nil {
			w.sleep()
			continue
		}

		w.processor.Process(job)
	}
}

func (w *Worker) sleep() {
	select {
	case <-w.stopChan:
	case <-time.After(w.pollInterval):
	}
}
