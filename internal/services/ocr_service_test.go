package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// fakeBlobStore serves canned blobs from memory.
type fakeBlobStore struct {
	blobs map[string][]byte
}

func (f *fakeBlobStore) Upload(ctx context.Context, key, contentType string, data io.Reader) (string, error) {
	content, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	f.blobs[key] = content
	return "http://blob/" + key, nil
}

func (f *fakeBlobStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	content, ok := f.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, key string) error {
	delete(f.blobs, key)
	return nil
}

func (f *fakeBlobStore) PresignedURL(key string, expiry time.Duration) (string, error) {
	return "http://blob/presigned/" + key, nil
}

func (f *fakeBlobStore) Bucket() string { return "test-bucket" }

func TestExtractText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("failed to parse multipart form: %v", err)
		}
		file, header, err := r.FormFile("pdf")
		if err != nil {
			t.Fatalf("expected multipart field 'pdf': %v", err)
		}
		defer file.Close()
		if header.Filename != "scan.pdf" {
			t.Errorf("expected filename scan.pdf, got %s", header.Filename)
		}
		content, _ := io.ReadAll(file)
		if string(content) != "%PDF-fake" {
			t.Errorf("unexpected file content %q", content)
		}
		fmt.Fprint(w, `{"success": true, "text": "line A\nline B"}`)
	}))
	defer server.Close()

	blobs := &fakeBlobStore{blobs: map[string][]byte{"k1": []byte("%PDF-fake")}}
	svc := NewOCRService(server.URL, blobs)

	text, err := svc.ExtractText("k1", "scan.pdf")
	if err != nil {
		t.Fatalf("ExtractText failed: %v", err)
	}
	if text != "line A\nline B" {
		t.Errorf("unexpected text %q", text)
	}
}

func TestExtractTextOCRFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success": false, "error": "unreadable scan"}`)
	}))
	defer server.Close()

	blobs := &fakeBlobStore{blobs: map[string][]byte{"k1": []byte("data")}}
	svc := NewOCRService(server.URL, blobs)

	if _, err := svc.ExtractText("k1", "scan.pdf"); err == nil {
		t.Error("expected error for unsuccessful OCR response")
	}
}

func TestExtractTextMissingBlob(t *testing.T) {
	svc := NewOCRService("http://localhost:0", &fakeBlobStore{blobs: map[string][]byte{}})
	if _, err := svc.ExtractText("missing", "a.pdf"); err == nil {
		t.Error("expected error for missing blob")
	}
}

func TestFetchPlainText(t *testing.T) {
	blobs := &fakeBlobStore{blobs: map[string][]byte{"note.txt": []byte("already extracted text")}}
	svc := NewOCRService("http://localhost:0", blobs)

	text, err := svc.FetchPlainText("note.txt")
	if err != nil {
		t.Fatalf("FetchPlainText failed: %v", err)
	}
	if text != "already extracted text" {
		t.Errorf("unexpected text %q", text)
	}
}
