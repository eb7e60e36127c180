// internal/adapters/out/gcs/export_store_gcs.go
package gcs

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"savinggrace/internal/application/query"
)

// ExportStoreGCS stores report export artifacts (CSV/JSON) in GCS.
// Objects live under "exports/" in a private bucket and are handed out
// through short-lived GET signed URLs.
type ExportStoreGCS struct {
	Client *storage.Client
	Bucket string
}

func NewExportStoreGCS(client *storage.Client, bucket string) *ExportStoreGCS {
	return &ExportStoreGCS{
		Client: client,
		Bucket: strings.TrimSpace(bucket),
	}
}

// Compile-time check
var _ query.ExportStore = (*ExportStoreGCS)(nil)

// Put uploads bytes to "bucket/objectPath".
func (r *ExportStoreGCS) Put(ctx context.Context, objectPath, contentType string, data []byte) error {
	if r == nil || r.Client == nil {
		return errors.New("export_store_gcs: storage client is nil")
	}
	b := strings.TrimSpace(r.Bucket)
	if b == "" {
		return errors.New("export_store_gcs: bucket is empty")
	}
	obj := strings.TrimSpace(objectPath)
	if obj == "" {
		return errors.New("export_store_gcs: objectPath is empty")
	}

	w := r.Client.Bucket(b).Object(obj).NewWriter(ctx)
	if ct := strings.TrimSpace(contentType); ct != "" {
		w.ContentType = ct
	}
	// Safety: avoid writer hanging forever.
	w.ChunkSize = 0
	w.Metadata = map[string]string{
		"uploadedAt": time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// IssueSignedDownloadURL issues a GET signed URL for an export artifact.
func (r *ExportStoreGCS) IssueSignedDownloadURL(ctx context.Context, objectPath string, expiresIn time.Duration) (string, error) {
	if r == nil || r.Client == nil {
		return "", errors.New("export_store_gcs: storage client is nil")
	}
	return issueSignedURL(ctx, r.Bucket, objectPath, "GET", "", expiresIn)
}
