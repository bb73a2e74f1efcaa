package storage

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestBuildObjectKey(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	key := BuildObjectKey("CH-42", "op note (final).pdf", now)
	expected := fmt.Sprintf("clinical_documents/CH-42/%d_op_note_final_.pdf", now.UnixMilli())
	if key != expected {
		t.Errorf("BuildObjectKey = %q, expected %q", key, expected)
	}
}

func TestBuildObjectKeySanitization(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	tests := []struct {
		fileName string
		contains string
	}{
		{"../../etc/passwd", "passwd"},
		{"weird$chars#here.txt", "weird_chars_here.txt"},
		{"no-extension", "no-extension"},
	}

	for _, tt := range tests {
		key := BuildObjectKey("CH-1", tt.fileName, now)
		if !strings.HasPrefix(key, "clinical_documents/CH-1/") {
			t.Errorf("key %q missing chart prefix", key)
		}
		if !strings.Contains(key, tt.contains) {
			t.Errorf("key %q should contain %q", key, tt.contains)
		}
		if strings.Contains(key, "..") || strings.Contains(strings.TrimPrefix(key, "clinical_documents/CH-1/"), "/") {
			t.Errorf("key %q not fully sanitized", key)
		}
	}
}
