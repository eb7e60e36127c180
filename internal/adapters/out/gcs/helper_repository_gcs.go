// internal/adapters/out/gcs/helper_repository_gcs.go
package gcs

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iamcredentials/v1"
)

// sanitizePathSegment normalizes a path segment for GCS object paths.
// - removes separators
// - trims dots/spaces
func sanitizePathSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	// prohibit separators
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "/", "_")
	// trim dots/spaces to avoid weird paths
	s = strings.Trim(s, ". ")
	return s
}

// ensureExtensionByMIME appends an extension based on MIME when fileName has no extension.
func ensureExtensionByMIME(fileName string, mime string) string {
	lower := strings.ToLower(strings.TrimSpace(fileName))

	// If already has an extension, keep it
	if strings.Contains(path.Base(lower), ".") {
		return fileName
	}

	ext := ""
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/jpeg", "image/jpg":
		ext = ".jpg"
	case "image/png":
		ext = ".png"
	case "image/webp":
		ext = ".webp"
	case "application/pdf":
		ext = ".pdf"
	default:
		ext = ""
	}

	if ext == "" {
		return fileName
	}
	return fileName + ext
}

// newObjectID generates a random-ish id for object paths.
func newObjectID() string {
	// 12 bytes random => 24 hex chars
	b := make([]byte, 12)
	if _, err := rand.Read(b); err == nil {
		return hex.EncodeToString(b)
	}
	// fallback
	return fmt.Sprintf("%d", time.Now().UTC().UnixNano())
}

func firstNonEmptyEnv(keys ...string) string {
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// signerAccessID returns the service account email used for V4 URL signing.
func signerAccessID() string {
	return strings.TrimSpace(firstNonEmptyEnv(
		"GCS_SIGNER_EMAIL",
		"GOOGLE_SERVICE_ACCOUNT_EMAIL",
		"SERVICE_ACCOUNT_EMAIL",
	))
}

// issueSignedURL issues a V4 signed URL via IAMCredentials SignBlob
// (no JSON private key required).
//
// Required IAM:
//   - The runtime identity must be allowed to call iamcredentials.signBlob for
//     the signer SA (typically the same SA in Cloud Run).
func issueSignedURL(ctx context.Context, bucket, objectPath, method, contentType string, expiresIn time.Duration) (string, error) {
	b := strings.TrimSpace(bucket)
	if b == "" {
		return "", fmt.Errorf("gcs: bucket is empty")
	}
	obj := strings.TrimSpace(objectPath)
	if obj == "" {
		return "", fmt.Errorf("gcs: objectPath is empty")
	}

	// default / clamp
	if expiresIn <= 0 {
		expiresIn = 15 * time.Minute
	}
	if expiresIn > time.Hour {
		expiresIn = time.Hour
	}

	accessID := signerAccessID()
	if accessID == "" {
		return "", fmt.Errorf("gcs: signer email not configured (set GCS_SIGNER_EMAIL)")
	}

	svc, err := iamcredentials.NewService(ctx)
	if err != nil {
		return "", fmt.Errorf("gcs: iamcredentials init failed: %w", err)
	}

	signBytes := func(bts []byte) ([]byte, error) {
		name := fmt.Sprintf("projects/-/serviceAccounts/%s", accessID)
		req := &iamcredentials.SignBlobRequest{
			Payload: base64.StdEncoding.EncodeToString(bts),
		}
		resp, err := svc.Projects.ServiceAccounts.SignBlob(name, req).Do()
		if err != nil {
			return nil, err
		}
		sig, err := base64.StdEncoding.DecodeString(resp.SignedBlob)
		if err != nil {
			return nil, err
		}
		return sig, nil
	}

	opts := &storage.SignedURLOptions{
		Scheme:         storage.SigningSchemeV4,
		Method:         method,
		GoogleAccessID: accessID,
		SignBytes:      signBytes,
		Expires:        time.Now().UTC().Add(expiresIn),
	}
	if ct := strings.TrimSpace(contentType); ct != "" {
		opts.ContentType = ct
	}

	return storage.SignedURL(b, obj, opts)
}
