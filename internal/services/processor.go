package services

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/medcharts/backend/internal/extract"
	"github.com/medcharts/backend/internal/logger"
	"github.com/medcharts/backend/internal/models"
	"github.com/medcharts/backend/internal/queue"
)

// DocumentKind is the closed set of extraction strategies, keyed by mime
// type.
type DocumentKind int

const (
	KindOCR DocumentKind = iota // pdf and images, via the OCR service
	KindPlainText               // blob content is the text
	KindWord                    // doc/docx via the word extractor
	KindUnsupported
)

// ClassifyDocument dispatches a mime type to its extraction strategy.
func ClassifyDocument(contentType string) DocumentKind {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case contentType == "application/pdf":
		return KindOCR
	case strings.HasPrefix(contentType, "image/"):
		return KindOCR
	case contentType == "text/plain":
		return KindPlainText
	case contentType == "application/msword",
		contentType == "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return KindWord
	default:
		return KindUnsupported
	}
}

// Processor drives the five-phase pipeline for one claimed job and
// converts every outcome into exactly one terminal queue transition and
// one chart-status update.
type Processor struct {
	queueService    *queue.QueueService
	chartService    *ChartService
	documentService *DocumentService
	ocrService      *OCRService
	llmService      *LLMService
}

func NewProcessor(queueService *queue.QueueService, chartService *ChartService, documentService *DocumentService, ocrService *OCRService, llmService *LLMService) *Processor {
	return &Processor{
		queueService:    queueService,
		chartService:    chartService,
		documentService: documentService,
		ocrService:      ocrService,
		llmService:      llmService,
	}
}

// Process runs the pipeline and settles the job. The single catch point
// here decides retry vs permanent failure via the queue's Fail decision.
func (p *Processor) Process(job *models.ProcessingJob) {
	jobData := models.DecodeJobData(job.JobData)
	log := logger.WithJob(job.JobID, job.ChartNumber)

	if err := p.runPipeline(job, jobData); err != nil {
		log.WithField("error", err.Error()).Error("Job pipeline failed")

		decision, failErr := p.queueService.Fail(job.JobID, err.Error())
		if failErr != nil {
			log.WithField("error", failErr.Error()).Error("Failed to record job failure")
			return
		}
		if recErr := p.chartService.RecordError(job.ChartNumber, err.Error(), decision.WillRetry, decision.Attempts); recErr != nil {
			log.WithField("error", recErr.Error()).Error("Failed to record chart error")
		}
		return
	}

	log.Info("Job completed")
}

func (p *Processor) runPipeline(job *models.ProcessingJob, jobData models.JobData) error {
	// Phase 1: enter processing. The document list is re-read from the
	// chart so files added between enqueue and claim are included.
	p.notify(job, "processing", "start", "Processing started")

	chart, err := p.chartService.GetByChartNumber(job.ChartNumber)
	if err != nil {
		return fmt.Errorf("failed to load chart %s: %w", job.ChartNumber, err)
	}
	if err := p.chartService.MarkProcessing(chart.ChartNumber); err != nil {
		return fmt.Errorf("failed to mark chart processing: %w", err)
	}

	documents, err := p.documentService.ListByChart(chart.ID)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}
	if len(documents) == 0 {
		return fmt.Errorf("chart %s has no documents to process", chart.ChartNumber)
	}

	// Phase 2: text extraction, partial-failure tolerant
	p.notify(job, "processing", "extraction", fmt.Sprintf("Extracting text from %d documents", len(documents)))
	extracted, failed := p.extractAll(job, documents)
	if len(extracted) == 0 {
		return fmt.Errorf("text extraction failed for all %d documents (%d failures)", len(documents), failed)
	}

	// Phase 3: coding synthesis
	p.notify(job, "processing", "coding", fmt.Sprintf("Generating codes from %d documents", len(extracted)))
	payload, err := p.llmService.GenerateCoding(chart, extracted)
	if err != nil {
		return err
	}

	// Phase 4: per-document summaries, best effort
	p.notify(job, "processing", "summaries", "Generating document summaries")
	for _, doc := range extracted {
		summary, err := p.llmService.SummarizeDocument(chart, doc)
		if err != nil {
			logger.Warn("Document summary failed", map[string]interface{}{
				"jobID":      job.JobID,
				"documentID": doc.Document.ID,
				"error":      err.Error(),
			})
			continue
		}
		if err := p.documentService.SaveSummary(doc.Document.ID, summary); err != nil {
			logger.Warn("Failed to save document summary", map[string]interface{}{
				"jobID":      job.JobID,
				"documentID": doc.Document.ID,
				"error":      err.Error(),
			})
		}
	}

	// Phase 5: persist and complete
	slaData := models.JSONB{
		"status":      "completed",
		"completedAt": time.Now().UTC().Format(time.RFC3339),
		"documents":   float64(len(documents)),
		"extracted":   float64(len(extracted)),
	}
	if err := p.chartService.StoreResults(chart.ChartNumber, payload, slaData); err != nil {
		return fmt.Errorf("failed to persist AI results: %w", err)
	}
	if err := p.queueService.Complete(job.JobID); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// extractAll runs extraction for each document sequentially, recording
// per-document success or failure, and never aborts on a single failure.
func (p *Processor) extractAll(job *models.ProcessingJob, documents []models.Document) ([]ExtractedDocument, int) {
	var extracted []ExtractedDocument
	failed := 0

	for _, doc := range documents {
		start := time.Now()
		text, err := p.extractOne(doc)
		elapsed := time.Since(start).Milliseconds()

		if err != nil {
			failed++
			logger.Warn("Document extraction failed", map[string]interface{}{
				"jobID":       job.JobID,
				"documentID":  doc.ID,
				"fileName":    doc.FileName,
				"contentType": doc.ContentType,
				"error":       err.Error(),
			})
			if dbErr := p.documentService.RecordExtractionFailure(doc.ID, err); dbErr != nil {
				logger.Error("Failed to record extraction failure", map[string]interface{}{"documentID": doc.ID, "error": dbErr.Error()})
			}
			p.notify(job, "processing", "extraction",
				fmt.Sprintf("Document %s failed extraction: %v", doc.FileName, err))
			continue
		}

		if dbErr := p.documentService.RecordExtractionSuccess(doc.ID, text, elapsed); dbErr != nil {
			logger.Error("Failed to record extraction result", map[string]interface{}{"documentID": doc.ID, "error": dbErr.Error()})
		}
		extracted = append(extracted, ExtractedDocument{Document: doc, Text: text, ElapsedMs: elapsed})
		p.notify(job, "processing", "extraction",
			fmt.Sprintf("Document %s extracted in %dms", doc.FileName, elapsed))
	}

	return extracted, failed
}

func (p *Processor) extractOne(doc models.Document) (string, error) {
	switch ClassifyDocument(doc.ContentType) {
	case KindOCR:
		return p.ocrService.ExtractText(doc.BlobKey, doc.FileName)
	case KindPlainText:
		return p.ocrService.FetchPlainText(doc.BlobKey)
	case KindWord:
		tempPath, err := p.ocrService.DownloadToTemp(doc.BlobKey, doc.FileName)
		if err != nil {
			return "", err
		}
		defer os.Remove(tempPath)
		return extract.WordText(tempPath)
	default:
		return "", fmt.Errorf("unsupported content type %s", doc.ContentType)
	}
}

// notify emits a job phase checkpoint and, when the job carries a session
// id, is complemented by the chart-level events the chart service emits on
// its own transactions.
func (p *Processor) notify(job *models.ProcessingJob, status, phase, message string) {
	if err := p.queueService.NotifyJobStatus(job.JobID, status, phase, message); err != nil {
		logger.Warn("Failed to emit job notification", map[string]interface{}{
			"jobID": job.JobID,
			"phase": phase,
			"error": err.Error(),
		})
	}
}
