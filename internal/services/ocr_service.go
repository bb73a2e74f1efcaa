package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/medcharts/backend/internal/logger"
	"github.com/medcharts/backend/internal/storage"
)

// blobDownloadTimeout bounds each blob fetch
const blobDownloadTimeout = 60 * time.Second

// OCRService posts one document at a time to the external OCR HTTP
// service. The blob is staged through a temp file and removed afterwards.
type OCRService struct {
	serviceURL string
	blobStore  storage.BlobStore
	client     *http.Client
}

type ocrResponse struct {
	Success bool   `json:"success"`
	Text    string `json:"text"`
	Error   string `json:"error,omitempty"`
}

func NewOCRService(serviceURL string, blobStore storage.BlobStore) *OCRService {
	if serviceURL == "" {
		serviceURL = "http://localhost:8081/ocr"
	}

	timeoutStr := os.Getenv("OCR_TIMEOUT_SECONDS")
	timeout := 300 * time.Second
	if timeoutStr != "" {
		if t, err := time.ParseDuration(timeoutStr + "s"); err == nil {
			timeout = t
		}
	}

	return &OCRService{
		serviceURL: serviceURL,
		blobStore:  blobStore,
		client:     &http.Client{Timeout: timeout},
	}
}

// ExtractText downloads the blob, posts it to the OCR service and returns
// the recognized text.
func (s *OCRService) ExtractText(blobKey, fileName string) (string, error) {
	tempPath, err := s.downloadToTemp(blobKey, fileName)
	if err != nil {
		return "", err
	}
	defer func() {
		if rmErr := os.Remove(tempPath); rmErr != nil {
			logger.Warn("Failed to remove OCR temp file", map[string]interface{}{"path": tempPath, "error": rmErr})
		}
	}()

	return s.postFile(tempPath, fileName)
}

// FetchPlainText downloads a text/plain blob and returns its content as
// already-extracted text.
func (s *OCRService) FetchPlainText(blobKey string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), blobDownloadTimeout)
	defer cancel()

	body, err := s.blobStore.Download(ctx, blobKey)
	if err != nil {
		return "", fmt.Errorf("failed to download blob %s: %w", blobKey, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read blob %s: %w", blobKey, err)
	}
	return string(data), nil
}

// DownloadToTemp stages a blob into a temp file for extractors that need a
// file path. The caller removes the file.
func (s *OCRService) DownloadToTemp(blobKey, fileName string) (string, error) {
	return s.downloadToTemp(blobKey, fileName)
}

func (s *OCRService) downloadToTemp(blobKey, fileName string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), blobDownloadTimeout)
	defer cancel()

	body, err := s.blobStore.Download(ctx, blobKey)
	if err != nil {
		return "", fmt.Errorf("failed to download blob %s: %w", blobKey, err)
	}
	defer body.Close()

	tempFile, err := os.CreateTemp("", "medcharts-ocr-*"+filepath.Ext(fileName))
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := io.Copy(tempFile, body); err != nil {
		tempFile.Close()
		os.Remove(tempFile.Name())
		return "", fmt.Errorf("failed to stage blob %s: %w", blobKey, err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempFile.Name())
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return tempFile.Name(), nil
}

func (s *OCRService) postFile(path, fileName string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open staged file: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("pdf", fileName)
	if err != nil {
		return "", fmt.Errorf("failed to create multipart field: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("failed to copy file into request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, s.serviceURL, &body)
	if err != nil {
		return "", fmt.Errorf("failed to build OCR request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("OCR request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read OCR response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("OCR service returned status %d: %s", resp.StatusCode, truncate(string(respBody), 300))
	}

	var result ocrResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to decode OCR response: %w", err)
	}
	if !result.Success {
		if result.Error == "" {
			result.Error = "unknown OCR error"
		}
		return "", fmt.Errorf("OCR failed: %s", result.Error)
	}
	return result.Text, nil
}
