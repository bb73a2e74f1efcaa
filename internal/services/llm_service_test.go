package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/medcharts/backend/internal/models"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain object",
			input:    `{"a": 1}`,
			expected: `{"a": 1}`,
		},
		{
			name:     "markdown json fence",
			input:    "Here you go:\n```json\n{\"a\": 1}\n```\nDone.",
			expected: `{"a": 1}`,
		},
		{
			name:     "bare fence",
			input:    "```\n{\"a\": 1}\n```",
			expected: `{"a": 1}`,
		},
		{
			name:     "surrounding prose",
			input:    "The coding result is {\"a\": 1} as requested.",
			expected: `{"a": 1}`,
		},
		{
			name:     "no object at all",
			input:    "sorry, I cannot help with that",
			expected: "sorry, I cannot help with that",
		},
	}

	for _, tt := range tests {
		if got := ExtractJSON(tt.input); got != tt.expected {
			t.Errorf("%s: ExtractJSON = %q, expected %q", tt.name, got, tt.expected)
		}
	}
}

func TestParseJSONPayload(t *testing.T) {
	payload, err := ParseJSONPayload("```json\n{\"diagnosis_codes\": {\"primary_diagnosis\": []}}\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := payload["diagnosis_codes"]; !ok {
		t.Error("expected diagnosis_codes key in parsed payload")
	}

	if _, err := ParseJSONPayload("not json at all"); err == nil {
		t.Error("expected error for unparseable response")
	}
}

func TestGenerateCoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Temperature != 0.1 {
			t.Errorf("expected temperature 0.1, got %v", req.Temperature)
		}
		if req.MaxTokens != 12000 {
			t.Errorf("expected max_tokens 12000, got %d", req.MaxTokens)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("expected system+user messages, got %+v", req.Messages)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{
					"role":    "assistant",
					"content": `{"diagnosis_codes": {"primary_diagnosis": [{"icd_10_code": "K35.80"}]}}`,
				}},
			},
		})
	}))
	defer server.Close()

	ls := NewLLMService(server.URL, "test-model", "test-key")
	chart := &models.Chart{ChartNumber: "CH-TEST1"}
	docs := []ExtractedDocument{{
		Document: models.Document{FileName: "note.pdf", ContentType: "application/pdf"},
		Text:     "line A\nline B",
	}}

	payload, err := ls.GenerateCoding(chart, docs)
	if err != nil {
		t.Fatalf("GenerateCoding failed: %v", err)
	}
	diag, ok := payload["diagnosis_codes"].(map[string]interface{})
	if !ok {
		t.Fatal("expected diagnosis_codes object in payload")
	}
	primary, ok := diag["primary_diagnosis"].([]interface{})
	if !ok || len(primary) != 1 {
		t.Fatal("expected one primary diagnosis")
	}

	calls := ls.GetAPICalls()
	if len(calls) != 1 || calls[0].CallType != "coding_synthesis" {
		t.Errorf("expected one tracked coding_synthesis call, got %+v", calls)
	}
}

func TestGenerateCodingNoDocuments(t *testing.T) {
	ls := NewLLMService("http://localhost:0", "m", "")
	if _, err := ls.GenerateCoding(&models.Chart{ChartNumber: "CH-1"}, nil); err == nil {
		t.Error("expected error with no extracted documents")
	}
}

func TestGenerateCodingServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "timeout"}}`, http.StatusBadGateway)
	}))
	defer server.Close()

	ls := NewLLMService(server.URL, "test-model", "")
	docs := []ExtractedDocument{{Document: models.Document{FileName: "a.txt"}, Text: "x"}}
	if _, err := ls.GenerateCoding(&models.Chart{ChartNumber: "CH-1"}, docs); err == nil {
		t.Error("expected error on HTTP 502")
	}
}
