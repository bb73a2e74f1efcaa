package services

import (
	"testing"
)

func TestClassifyDocument(t *testing.T) {
	tests := []struct {
		contentType string
		expected    DocumentKind
	}{
		{"application/pdf", KindOCR},
		{"image/png", KindOCR},
		{"image/jpeg", KindOCR},
		{"image/tiff", KindOCR},
		{"text/plain", KindPlainText},
		{"application/msword", KindWord},
		{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", KindWord},
		{"APPLICATION/PDF", KindOCR},
		{" text/plain ", KindPlainText},
		{"application/zip", KindUnsupported},
		{"video/mp4", KindUnsupported},
		{"", KindUnsupported},
	}

	for _, tt := range tests {
		if got := ClassifyDocument(tt.contentType); got != tt.expected {
			t.Errorf("ClassifyDocument(%q) = %d, expected %d", tt.contentType, got, tt.expected)
		}
	}
}
