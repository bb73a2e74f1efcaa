package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/medcharts/backend/internal/queue"
	"github.com/medcharts/backend/internal/services"
	"gorm.io/gorm"
)

// JobController exposes queue observability and the administrative job
// actions.
type JobController struct {
	queueService *queue.QueueService
	llmService   *services.LLMService
}

func NewJobController(queueService *queue.QueueService, llmService *services.LLMService) *JobController {
	return &JobController{queueService: queueService, llmService: llmService}
}

// GetJob returns one job by its opaque id.
func (jc *JobController) GetJob(c *gin.Context) {
	job, err := jc.queueService.GetJob(c.Param("jobId"))
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to load job"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "job": job})
}

// GetJobStatus returns the latest job for a chart with its effective
// status and retry countdown.
func (jc *JobController) GetJobStatus(c *gin.Context) {
	view, err := jc.queueService.GetJobStatus(c.Param("chartNumber"))
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "no jobs for chart"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to load job status"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": view})
}

// GetJobsByChart returns the full job history for a chart.
func (jc *JobController) GetJobsByChart(c *gin.Context) {
	jobs, err := jc.queueService.JobsByChart(c.Param("chartNumber"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to list jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "jobs": jobs})
}

// GetQueueStats returns the queue counters.
func (jc *JobController) GetQueueStats(c *gin.Context) {
	stats, err := jc.queueService.GetStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to read queue stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}

// RetryJob is the administrative reset of a permanently failed job.
func (jc *JobController) RetryJob(c *gin.Context) {
	if err := jc.queueService.Retry(c.Param("jobId")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "job requeued"})
}

// CleanupQueue removes completed jobs older than the given retention.
func (jc *JobController) CleanupQueue(c *gin.Context) {
	days := 7
	if v := c.Query("older_than_days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}
	removed, err := jc.queueService.Cleanup(days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "cleanup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "removed": removed})
}

// GetLLMAPICalls returns the tracked LLM call log.
func (jc *JobController) GetLLMAPICalls(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "calls": jc.llmService.GetAPICalls()})
}

// ClearLLMAPICalls clears the tracked LLM call log.
func (jc *JobController) ClearLLMAPICalls(c *gin.Context) {
	jc.llmService.ClearAPICalls()
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "LLM call log cleared"})
}
