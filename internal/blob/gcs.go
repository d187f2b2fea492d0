// Package blob stores raw crawl artifacts.
package blob

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// GCS writes objects into a Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS wraps an existing storage client.
func NewGCS(client *storage.Client, bucket string) *GCS {
	return &GCS{client: client, bucket: bucket}
}

// PutObject implements outreach.BlobStore, returning a gs:// URI.
func (g *GCS) PutObject(ctx context.Context, path, contentType string, data []byte) (string, error) {
	w := g.client.Bucket(g.bucket).Object(path).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close() //nolint:errcheck // write error wins
		return "", fmt.Errorf("write gs://%s/%s: %w", g.bucket, path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close gs://%s/%s: %w", g.bucket, path, err)
	}
	return fmt.Sprintf("gs://%s/%s", g.bucket, path), nil
}
