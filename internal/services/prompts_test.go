package services

import (
	"strings"
	"testing"

	"github.com/medcharts/backend/internal/models"
)

func TestFormatLineNumbered(t *testing.T) {
	got := FormatLineNumbered("alpha\nbeta")
	if !strings.Contains(got, "1 | alpha") {
		t.Errorf("expected first line numbered, got %q", got)
	}
	if !strings.Contains(got, "2 | beta") {
		t.Errorf("expected second line numbered, got %q", got)
	}
	if strings.HasSuffix(got, "\n") {
		t.Error("expected no trailing newline")
	}
}

func TestBuildCodingPrompt(t *testing.T) {
	chart := &models.Chart{
		ChartNumber:  "CH-42",
		PatientName:  "Jane Doe",
		FacilityName: "General Hospital",
		Specialty:    "General Surgery",
	}
	docs := []ExtractedDocument{
		{Document: models.Document{FileName: "op-note.pdf", ContentType: "application/pdf"}, Text: "appendectomy performed"},
		{Document: models.Document{FileName: "labs.txt", ContentType: "text/plain"}, Text: "WBC elevated"},
	}

	prompt := BuildCodingPrompt(chart, docs)

	for _, want := range []string{"CH-42", "Jane Doe", "General Hospital", "General Surgery", "op-note.pdf", "labs.txt", "2 documents", "1 | appendectomy performed"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildCodingPromptOmitsEmptyMetadata(t *testing.T) {
	chart := &models.Chart{ChartNumber: "CH-9"}
	prompt := BuildCodingPrompt(chart, []ExtractedDocument{{Document: models.Document{FileName: "a.txt"}, Text: "x"}})
	if strings.Contains(prompt, "Patient:") {
		t.Error("expected empty patient name to be omitted")
	}
	if strings.Contains(prompt, "Facility:") {
		t.Error("expected empty facility to be omitted")
	}
}
