// internal/adapters/out/gcs/receipt_store_gcs.go
package gcs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"savinggrace/internal/application/usecase"
)

// ReceiptStoreGCS is the GCS adapter for donation receipt objects.
//
// Layout (single private bucket):
//   - bucket: savinggrace-<env>-receipts
//   - objectPath: receipts/{donationId}/{objectId}_{fileName}
//
// The bucket stays private; clients upload and download only through
// V4 signed URLs issued here.
type ReceiptStoreGCS struct {
	Client *storage.Client
	Bucket string
}

func NewReceiptStoreGCS(client *storage.Client, bucket string) *ReceiptStoreGCS {
	return &ReceiptStoreGCS{
		Client: client,
		Bucket: strings.TrimSpace(bucket),
	}
}

// Compile-time check
var _ usecase.ReceiptStore = (*ReceiptStoreGCS)(nil)

// IssueSignedUploadURL issues a PUT signed URL and returns it with the
// object path the client must upload to.
func (r *ReceiptStoreGCS) IssueSignedUploadURL(ctx context.Context, donationID, fileName, contentType string, expiresIn time.Duration) (string, string, error) {
	if r == nil || r.Client == nil {
		return "", "", errors.New("receipt_store_gcs: storage client is nil")
	}
	id := sanitizePathSegment(donationID)
	if id == "" {
		return "", "", errors.New("receipt_store_gcs: donationID is empty")
	}

	name := sanitizePathSegment(fileName)
	if name == "" {
		name = newObjectID()
	} else {
		name = newObjectID() + "_" + name
	}
	name = ensureExtensionByMIME(name, contentType)

	objectPath := fmt.Sprintf("receipts/%s/%s", id, name)

	u, err := issueSignedURL(ctx, r.Bucket, objectPath, "PUT", contentType, expiresIn)
	if err != nil {
		return "", "", err
	}
	return u, objectPath, nil
}

// IssueSignedDownloadURL issues a GET signed URL for a stored receipt.
func (r *ReceiptStoreGCS) IssueSignedDownloadURL(ctx context.Context, objectPath string, expiresIn time.Duration) (string, error) {
	if r == nil || r.Client == nil {
		return "", errors.New("receipt_store_gcs: storage client is nil")
	}
	return issueSignedURL(ctx, r.Bucket, objectPath, "GET", "", expiresIn)
}
