package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/medcharts/backend/internal/logger"
	"github.com/medcharts/backend/internal/models"
)

// LLMService talks to an OpenAI-compatible chat completions endpoint for
// coding synthesis and document summaries.
type LLMService struct {
	baseURL   string
	model     string
	apiKey    string
	client    *http.Client
	apiCalls  []LLMAPICall
	callMutex sync.RWMutex
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model          string                 `json:"model"`
	Messages       []ChatMessage          `json:"messages"`
	Temperature    float64                `json:"temperature"`
	MaxTokens      int                    `json:"max_tokens,omitempty"`
	ResponseFormat map[string]interface{} `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// ExtractedDocument is one successfully extracted document ready for
// synthesis.
type ExtractedDocument struct {
	Document  models.Document
	Text      string
	ElapsedMs int64
}

// LLMAPICall tracking for the admin surface
type LLMAPICall struct {
	ID          string        `json:"id"`
	Timestamp   time.Time     `json:"timestamp"`
	Model       string        `json:"model"`
	ChartNumber string        `json:"chartNumber,omitempty"`
	CallType    string        `json:"callType"` // "coding_synthesis", "document_summary"
	Status      int           `json:"status"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

func NewLLMService(apiURL, model, apiKey string) *LLMService {
	if apiURL == "" {
		apiURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}

	// Get timeout from environment or use default
	timeoutStr := os.Getenv("LLM_TIMEOUT_SECONDS")
	timeout := 300 * time.Second
	if timeoutStr != "" {
		if t, err := time.ParseDuration(timeoutStr + "s"); err == nil {
			timeout = t
		}
	}

	return &LLMService{
		baseURL:  strings.TrimSuffix(apiURL, "/"),
		model:    model,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		apiCalls: make([]LLMAPICall, 0),
	}
}

// GetAPICalls returns a copy of the tracked LLM API calls
func (ls *LLMService) GetAPICalls() []LLMAPICall {
	ls.callMutex.RLock()
	defer ls.callMutex.RUnlock()

	calls := make([]LLMAPICall, len(ls.apiCalls))
	copy(calls, ls.apiCalls)
	return calls
}

// ClearAPICalls clears the API call history
func (ls *LLMService) ClearAPICalls() {
	ls.callMutex.Lock()
	defer ls.callMutex.Unlock()
	ls.apiCalls = make([]LLMAPICall, 0)
}

func (ls *LLMService) trackAPICall(call LLMAPICall) {
	ls.callMutex.Lock()
	defer ls.callMutex.Unlock()

	// Keep only last 100 calls to prevent memory issues
	if len(ls.apiCalls) >= 100 {
		ls.apiCalls = ls.apiCalls[1:]
	}
	ls.apiCalls = append(ls.apiCalls, call)
}

// GenerateCoding synthesizes the medical-coding payload for a chart from
// its successfully extracted documents. The result must be a parseable
// JSON object; an empty or error response fails the whole job.
func (ls *LLMService) GenerateCoding(chart *models.Chart, docs []ExtractedDocument) (models.JSONB, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("no extracted documents to synthesize from")
	}

	response, err := ls.callChat(CodingSystemPrompt, BuildCodingPrompt(chart, docs), 12000, chart.ChartNumber, "coding_synthesis")
	if err != nil {
		return nil, fmt.Errorf("LLM coding synthesis failed: %w", err)
	}

	payload, err := ParseJSONPayload(response)
	if err != nil {
		return nil, fmt.Errorf("failed to parse LLM coding response: %w", err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("LLM returned an empty coding payload")
	}
	return payload, nil
}

// SummarizeDocument produces a short summary for one document. Callers
// treat failures as best-effort.
func (ls *LLMService) SummarizeDocument(chart *models.Chart, doc ExtractedDocument) (string, error) {
	response, err := ls.callChat(SummarySystemPrompt, BuildSummaryPrompt(doc), 1024, chart.ChartNumber, "document_summary")
	if err != nil {
		return "", fmt.Errorf("LLM summary failed: %w", err)
	}
	summary := strings.TrimSpace(response)
	if summary == "" {
		return "", fmt.Errorf("LLM returned an empty summary")
	}
	return summary, nil
}

func (ls *LLMService) callChat(systemPrompt, userPrompt string, maxTokens int, chartNumber, callType string) (string, error) {
	reqBody := chatCompletionRequest{
		Model: ls.model,
		Messages: []ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.1,
		MaxTokens:   maxTokens,
	}
	if callType == "coding_synthesis" {
		reqBody.ResponseFormat = map[string]interface{}{"type": "json_object"}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	start := time.Now()
	call := LLMAPICall{
		ID:          fmt.Sprintf("llm_%d", start.UnixNano()),
		Timestamp:   start,
		Model:       ls.model,
		ChartNumber: chartNumber,
		CallType:    callType,
	}

	req, err := http.NewRequest(http.MethodPost, ls.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ls.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+ls.apiKey)
	}

	resp, err := ls.client.Do(req)
	if err != nil {
		call.Duration = time.Since(start)
		call.Error = err.Error()
		ls.trackAPICall(call)
		return "", fmt.Errorf("LLM request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	call.Duration = time.Since(start)
	call.Status = resp.StatusCode
	if err != nil {
		call.Error = err.Error()
		ls.trackAPICall(call)
		return "", fmt.Errorf("failed to read LLM response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		call.Error = string(respBody)
		ls.trackAPICall(call)
		return "", fmt.Errorf("LLM returned status %d: %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		call.Error = err.Error()
		ls.trackAPICall(call)
		return "", fmt.Errorf("failed to decode LLM response: %w", err)
	}
	if completion.Error != nil {
		call.Error = completion.Error.Message
		ls.trackAPICall(call)
		return "", fmt.Errorf("LLM error: %s", completion.Error.Message)
	}
	if len(completion.Choices) == 0 {
		call.Error = "no choices in response"
		ls.trackAPICall(call)
		return "", fmt.Errorf("LLM returned no choices")
	}

	ls.trackAPICall(call)
	logger.WithLLM(chartNumber, callType).Debug("LLM call completed")
	return completion.Choices[0].Message.Content, nil
}

// ParseJSONPayload parses an LLM response as a JSON object. When the
// response carries explanatory text or markdown fences around the object,
// the first {...} substring is extracted as a last resort.
func ParseJSONPayload(response string) (models.JSONB, error) {
	cleaned := ExtractJSON(response)

	payload := models.JSONB{}
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	return payload, nil
}

// ExtractJSON strips markdown code fences and surrounding prose, keeping
// the first { through the last }.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)

	if strings.Contains(response, "```json") {
		start := strings.Index(response, "```json")
		end := strings.LastIndex(response, "```")
		if start != -1 && end != -1 && end > start {
			response = response[start+7 : end]
		}
	} else if strings.Contains(response, "```") {
		start := strings.Index(response, "```")
		end := strings.LastIndex(response, "```")
		if start != -1 && end != -1 && end > start {
			response = response[start+3 : end]
		}
	}

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start != -1 && end != -1 && end > start {
		response = response[start : end+1]
	}

	return strings.TrimSpace(response)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
