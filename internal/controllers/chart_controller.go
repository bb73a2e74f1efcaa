package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/medcharts/backend/internal/models"
	"github.com/medcharts/backend/internal/queue"
	"github.com/medcharts/backend/internal/services"
	"github.com/medcharts/backend/internal/storage"
	"gorm.io/gorm"
)

// ChartController serves the dashboard read model and the review-side
// writes.
type ChartController struct {
	chartService    *services.ChartService
	documentService *services.DocumentService
	queueService    *queue.QueueService
	blobStore       storage.BlobStore
}

func NewChartController(chartService *services.ChartService, documentService *services.DocumentService, queueService *queue.QueueService, blobStore storage.BlobStore) *ChartController {
	return &ChartController{
		chartService:    chartService,
		documentService: documentService,
		queueService:    queueService,
		blobStore:       blobStore,
	}
}

// GetCharts lists charts with optional ai_status filter and pagination.
func (cc *ChartController) GetCharts(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	offset := 0
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	charts, total, err := cc.chartService.List(c.Query("ai_status"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to list charts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "charts": charts, "total": total})
}

// GetChart returns one chart with its documents.
func (cc *ChartController) GetChart(c *gin.Context) {
	chart, err := cc.chartService.GetByChartNumber(c.Param("chartNumber"))
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "chart not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to load chart"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "chart": chart})
}

// GetChartDocuments returns the chart's documents with presigned URLs for
// viewing.
func (cc *ChartController) GetChartDocuments(c *gin.Context) {
	chart, err := cc.chartService.GetByChartNumber(c.Param("chartNumber"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "chart not found"})
		return
	}

	documents, err := cc.documentService.ListByChart(chart.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to list documents"})
		return
	}

	type documentView struct {
		models.Document
		ViewURL string `json:"viewUrl,omitempty"`
	}
	views := make([]documentView, 0, len(documents))
	for _, doc := range documents {
		view := documentView{Document: doc}
		if doc.BlobKey != "" {
			if url, err := cc.blobStore.PresignedURL(doc.BlobKey, 15*time.Minute); err == nil {
				view.ViewURL = url
			}
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "documents": views})
}

// SaveModifications stores the reviewer's overlay on the AI result.
func (cc *ChartController) SaveModifications(c *gin.Context) {
	var body struct {
		Modifications models.JSONB `json:"modifications" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "modifications payload is required"})
		return
	}
	if err := cc.chartService.SaveUserModifications(c.Param("chartNumber"), body.Modifications); err != nil {
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "modifications saved"})
}

// SubmitFinalCodes completes the review and freezes the AI fields.
func (cc *ChartController) SubmitFinalCodes(c *gin.Context) {
	var body struct {
		FinalCodes models.JSONB `json:"finalCodes" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "finalCodes payload is required"})
		return
	}
	if err := cc.chartService.SubmitFinalCodes(c.Param("chartNumber"), body.FinalCodes); err != nil {
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "final codes submitted"})
}

// UpdateReviewStatus moves the review workflow state.
func (cc *ChartController) UpdateReviewStatus(c *gin.Context) {
	var body struct {
		ReviewStatus string `json:"reviewStatus" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "reviewStatus is required"})
		return
	}
	if err := cc.chartService.UpdateReviewStatus(c.Param("chartNumber"), models.ReviewStatus(body.ReviewStatus)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "review status updated"})
}

// RetryChart is the admin path that resets a failed chart and enqueues a
// fresh job derived from its current document set.
func (cc *ChartController) RetryChart(c *gin.Context) {
	chartNumber := c.Param("chartNumber")

	chart, err := cc.chartService.ResetForRetry(chartNumber)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": err.Error()})
		return
	}

	documents, err := cc.documentService.ListByChart(chart.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to list documents"})
		return
	}
	documentIDs := make([]uint, 0, len(documents))
	for _, doc := range documents {
		documentIDs = append(documentIDs, doc.ID)
	}

	jobID, err := cc.queueService.Enqueue(chart.ID, chart.ChartNumber, models.JobData{
		ChartID:     chart.ID,
		ChartNumber: chart.ChartNumber,
		SessionID:   chart.SessionID,
		ChartInfo: map[string]interface{}{
			"patientName":  chart.PatientName,
			"facilityName": chart.FacilityName,
			"specialty":    chart.Specialty,
			"providerName": chart.ProviderName,
		},
		DocumentIDs: documentIDs,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to enqueue retry job"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "chart requeued for processing", "jobId": jobID, "chart": chart})
}

// DeleteChart removes a chart and its documents.
func (cc *ChartController) DeleteChart(c *gin.Context) {
	if err := cc.chartService.Delete(c.Param("chartNumber")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "chart deleted"})
}
