package controllers

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/medcharts/backend/internal/logger"
	"github.com/medcharts/backend/internal/models"
	"github.com/medcharts/backend/internal/queue"
	"github.com/medcharts/backend/internal/services"
	"github.com/medcharts/backend/internal/storage"
	"gorm.io/gorm"
)

// defaultAllowedMimeTypes is the ingress whitelist when
// ALLOWED_MIME_TYPES is not set.
var defaultAllowedMimeTypes = []string{
	"application/pdf",
	"image/png",
	"image/jpeg",
	"image/tiff",
	"text/plain",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// UploadController is the ingress path: validate, store blobs, upsert the
// chart, create document rows, and enqueue exactly one job per batch.
type UploadController struct {
	chartService    *services.ChartService
	documentService *services.DocumentService
	queueService    *queue.QueueService
	blobStore       storage.BlobStore

	allowedMimeTypes map[string]bool
	maxFileSize      int64
}

func NewUploadController(chartService *services.ChartService, documentService *services.DocumentService, queueService *queue.QueueService, blobStore storage.BlobStore) *UploadController {
	allowed := make(map[string]bool)
	if env := os.Getenv("ALLOWED_MIME_TYPES"); env != "" {
		for _, t := range strings.Split(env, ",") {
			allowed[strings.ToLower(strings.TrimSpace(t))] = true
		}
	} else {
		for _, t := range defaultAllowedMimeTypes {
			allowed[t] = true
		}
	}

	maxMB := int64(50)
	if env := os.Getenv("MAX_FILE_SIZE_MB"); env != "" {
		if n, err := strconv.ParseInt(env, 10, 64); err == nil && n > 0 {
			maxMB = n
		}
	}

	return &UploadController{
		chartService:     chartService,
		documentService:  documentService,
		queueService:     queueService,
		blobStore:        blobStore,
		allowedMimeTypes: allowed,
		maxFileSize:      maxMB * 1024 * 1024,
	}
}

// UploadDocuments handles a multipart upload batch for one chart session.
func (uc *UploadController) UploadDocuments(c *gin.Context) {
	sessionID := strings.TrimSpace(c.PostForm("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "session_id is required"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid multipart form"})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "at least one file is required"})
		return
	}

	// Validate the whole batch before touching storage or the database so
	// a rejected request leaves nothing behind
	for _, file := range files {
		contentType := strings.ToLower(file.Header.Get("Content-Type"))
		if !uc.allowedMimeTypes[contentType] {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"message": fmt.Sprintf("unsupported content type %s for file %s", contentType, file.Filename),
			})
			return
		}
		if file.Size > uc.maxFileSize {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"message": fmt.Sprintf("file %s exceeds the %d MB size limit", file.Filename, uc.maxFileSize/(1024*1024)),
			})
			return
		}
	}

	chartNumber := strings.TrimSpace(c.PostForm("chart_number"))
	if existing, err := uc.chartService.GetBySessionID(sessionID); err == nil {
		chartNumber = existing.ChartNumber
	} else if err != gorm.ErrRecordNotFound {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to look up session"})
		return
	}
	if chartNumber == "" {
		chartNumber = fmt.Sprintf("CH-%s", strings.ToUpper(uuid.NewString()[:8]))
	}

	var dateOfService *time.Time
	if v := c.PostForm("date_of_service"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			dateOfService = &t
		}
	}

	// Store every blob first; the chart row is only written once uploads
	// succeeded
	type storedFile struct {
		input services.DocumentInput
	}
	var stored []storedFile
	for _, file := range files {
		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": fmt.Sprintf("failed to read file %s", file.Filename)})
			return
		}

		key := storage.BuildObjectKey(chartNumber, file.Filename, time.Now())
		contentType := strings.ToLower(file.Header.Get("Content-Type"))
		url, err := uc.blobStore.Upload(c.Request.Context(), key, contentType, src)
		src.Close()
		if err != nil {
			logger.Error("Blob upload failed", map[string]interface{}{"key": key, "error": err.Error()})
			c.JSON(http.StatusBadGateway, gin.H{"success": false, "message": fmt.Sprintf("failed to store file %s", file.Filename)})
			return
		}

		stored = append(stored, storedFile{input: services.DocumentInput{
			FileName:         file.Filename,
			ContentType:      contentType,
			Size:             file.Size,
			BlobKey:          key,
			BlobURL:          url,
			BlobBucket:       uc.blobStore.Bucket(),
			TransactionID:    c.PostForm("transaction_id"),
			TransactionLabel: c.PostForm("transaction_label"),
			IsGroupMember:    len(files) > 1 && c.PostForm("transaction_id") != "",
		}})
	}

	chart, err := uc.chartService.CreateQueued(services.ChartData{
		SessionID:     sessionID,
		ChartNumber:   chartNumber,
		PatientName:   c.PostForm("patient_name"),
		FacilityName:  c.PostForm("facility_name"),
		Specialty:     c.PostForm("specialty"),
		ProviderName:  c.PostForm("provider_name"),
		DateOfService: dateOfService,
		DocumentCount: len(stored),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to create chart"})
		return
	}

	var documentIDs []uint
	for _, sf := range stored {
		doc, err := uc.documentService.Create(chart.ID, sf.input)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to record document"})
			return
		}
		documentIDs = append(documentIDs, doc.ID)
	}

	// An already-submitted chart is not re-enqueued unless explicitly
	// allowed; the documents are still stored against it
	if chart.AIStatus == models.AIStatusSubmitted && os.Getenv("ALLOW_SUBMITTED_REPROCESS") != "true" {
		c.JSON(http.StatusAccepted, gin.H{
			"success":     true,
			"message":     "documents stored; chart already submitted, processing not queued",
			"chart":       chart,
			"documentIds": documentIDs,
			"queued":      false,
		})
		return
	}

	jobID, err := uc.queueService.Enqueue(chart.ID, chart.ChartNumber, models.JobData{
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
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to enqueue processing job"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":     true,
		"message":     "documents uploaded and queued for processing",
		"chart":       chart,
		"documentIds": documentIDs,
		"jobId":       jobID,
		"queued":      true,
	})
}
