package screenshot

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// GCSConfig captures the parameters required to connect to GCS.
type GCSConfig struct {
	Bucket string
}

// GCSStore writes screenshots to a configured GCS bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCS creates a GCS-backed screenshot store.
func NewGCS(client *storage.Client, cfg GCSConfig) (*GCSStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &GCSStore{client: client, bucket: cfg.Bucket}, nil
}

// Put uploads a store's latest screenshot and returns a gs:// URI.
func (s *GCSStore) Put(ctx context.Context, store string, data io.Reader) (string, error) {
	if strings.TrimSpace(store) == "" {
		return "", fmt.Errorf("store is required")
	}
	path := fmt.Sprintf("%s/%s", store, objectName)
	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	writer.ContentType = "image/jpeg"
	if _, err := io.Copy(writer, data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy screenshot: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy screenshot: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}

// Delete removes a store's screenshot object. A missing object is not an
// error.
func (s *GCSStore) Delete(ctx context.Context, store string) error {
	if strings.TrimSpace(store) == "" {
		return fmt.Errorf("store is required")
	}
	path := fmt.Sprintf("%s/%s", store, objectName)
	err := s.client.Bucket(s.bucket).Object(path).Delete(ctx)
	if err != nil && err != storage.ErrObjectNotExist {
		return fmt.Errorf("delete screenshot: %w", err)
	}
	return nil
}
