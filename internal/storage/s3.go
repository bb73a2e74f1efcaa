package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Storage stores document blobs in an S3-compatible bucket.
type S3Storage struct {
	client *s3.S3
	bucket string
}

// NewS3Storage builds the client from environment configuration. A custom
// endpoint with path-style addressing supports MinIO and other
// S3-compatible stores.
func NewS3Storage() (*S3Storage, error) {
	endpoint := os.Getenv("S3_ENDPOINT")
	region := os.Getenv("S3_REGION")
	if region == "" {
		region = "us-east-1"
	}
	bucket := os.Getenv("S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required")
	}

	s3Config := &aws.Config{
		Region:           aws.String(region),
		S3ForcePathStyle: aws.Bool(true),
	}
	if endpoint != "" {
		s3Config.Endpoint = aws.String(endpoint)
		s3Config.DisableSSL = aws.Bool(os.Getenv("S3_USE_SSL") == "false")
	}
	if accessKey := os.Getenv("S3_ACCESS_KEY"); accessKey != "" {
		s3Config.Credentials = credentials.NewStaticCredentials(accessKey, os.Getenv("S3_SECRET_KEY"), "")
	}

	sess, err := session.NewSession(s3Config)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %w", err)
	}

	return &S3Storage{
		client: s3.New(sess),
		bucket: bucket,
	}, nil
}

func (s *S3Storage) Bucket() string {
	return s.bucket
}

// Upload stores a blob and returns its URL.
func (s *S3Storage) Upload(ctx context.Context, key, contentType string, data io.Reader) (string, error) {
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        aws.ReadSeekCloser(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(s.client.Endpoint, "/"), s.bucket, key), nil
}

func (s *S3Storage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	return result.Body, nil
}

func (s *S3Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// PresignedURL generates a time-limited GET URL for the dashboard.
func (s *S3Storage) PresignedURL(key string, expiry time.Duration) (string, error) {
	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	url, err := req.Presign(expiry)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return url, nil
}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// BuildObjectKey produces the canonical blob key for a chart document:
// clinical_documents/{chart_number}/{unix_ms}_{sanitized_basename}{ext}
func BuildObjectKey(chartNumber, fileName string, now time.Time) string {
	ext := filepath.Ext(fileName)
	base := strings.TrimSuffix(filepath.Base(fileName), ext)
	base = unsafeKeyChars.ReplaceAllString(base, "_")
	ext = unsafeKeyChars.ReplaceAllString(ext, "")
	if ext != "" {
		ext = "." + strings.TrimPrefix(ext, ".")
	}
	return fmt.Sprintf("clinical_documents/%s/%d_%s%s", chartNumber, now.UnixMilli(), base, ext)
}
