package storage

import (
	"context"
	"io"
	"time"
)

// BlobStore is the object-storage surface the ingress and worker paths use.
type BlobStore interface {
	Upload(ctx context.Context, key, contentType string, data io.Reader) (string, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	PresignedURL(key string, expiry time.Duration) (string, error)
	Bucket() string
}
