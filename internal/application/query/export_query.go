// internal/application/query/export_query.go
package query

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"savinggrace/internal/domain/common"
	distdom "savinggrace/internal/domain/distribution"
	donationdom "savinggrace/internal/domain/donation"
	"savinggrace/internal/domain/permission"
)

// ============================================================
// ExportQuery（CSV / JSON エクスポート）
// - 生成物は GCS に置き、署名付き GET URL を返す
// ============================================================

const (
	ExportKindDonations     = "donations"
	ExportKindDistributions = "distributions"

	ExportFormatCSV  = "csv"
	ExportFormatJSON = "json"

	// exportURLExpiry はダウンロード URL の有効期限
	exportURLExpiry = 1 * time.Hour
)

var (
	ErrUnknownExportKind        = errors.New("export: unknown kind")
	ErrUnknownExportFormat      = errors.New("export: unknown format")
	ErrExportStoreNotConfigured = errors.New("export: object store is not configured")
)

// ExportStore はエクスポート成果物の置き場（GCS 実装が満たす）
type ExportStore interface {
	// Put はオブジェクトを書き込みます。
	Put(ctx context.Context, objectPath, contentType string, data []byte) error
	// IssueSignedDownloadURL は GET 用の署名付き URL を発行します。
	IssueSignedDownloadURL(ctx context.Context, objectPath string, expiresIn time.Duration) (string, error)
}

type ExportQuery struct {
	donations donationLister
	dists     distributionLister
	store     ExportStore

	now func() time.Time
}

func NewExportQuery(donations donationLister, dists distributionLister, store ExportStore) *ExportQuery {
	return &ExportQuery{
		donations: donations,
		dists:     dists,
		store:     store,
		now:       time.Now,
	}
}

// WithNow はテスト用に現在時刻を差し替えます。
func (q *ExportQuery) WithNow(now func() time.Time) *ExportQuery {
	if q != nil && now != nil {
		q.now = now
	}
	return q
}

type ExportResult struct {
	Kind        string
	Format      string
	ObjectPath  string
	DownloadURL string
	Rows        int
	GeneratedAt time.Time
}

// Export は期間内のレコードを書き出し、ダウンロード URL を返します。
// kind: donations | distributions / format: csv | json
func (q *ExportQuery) Export(ctx context.Context, kind, format string, from, to time.Time) (ExportResult, error) {
	if q == nil || q.donations == nil || q.dists == nil {
		return ExportResult{}, errors.New("export query repositories are not configured")
	}
	if err := requireReader(ctx, permission.ReportsExport); err != nil {
		return ExportResult{}, err
	}
	if q.store == nil {
		return ExportResult{}, ErrExportStoreNotConfigured
	}

	kind = strings.ToLower(strings.TrimSpace(kind))
	format = strings.ToLower(strings.TrimSpace(format))

	var (
		data        []byte
		rows        int
		contentType string
		err         error
	)

	switch kind {
	case ExportKindDonations:
		data, rows, contentType, err = q.buildDonations(ctx, format, from, to)
	case ExportKindDistributions:
		data, rows, contentType, err = q.buildDistributions(ctx, format, from, to)
	default:
		return ExportResult{}, fmt.Errorf("%w: %q", ErrUnknownExportKind, kind)
	}
	if err != nil {
		return ExportResult{}, err
	}

	now := q.now().UTC()
	objectPath := fmt.Sprintf("exports/%s_%s.%s", kind, now.Format("20060102T150405Z"), format)

	if err := q.store.Put(ctx, objectPath, contentType, data); err != nil {
		return ExportResult{}, fmt.Errorf("export: put object: %w", err)
	}
	url, err := q.store.IssueSignedDownloadURL(ctx, objectPath, exportURLExpiry)
	if err != nil {
		return ExportResult{}, fmt.Errorf("export: sign url: %w", err)
	}

	log.Printf("[export_q] exported kind=%s format=%s rows=%d path=%s", kind, format, rows, objectPath)
	return ExportResult{
		Kind:        kind,
		Format:      format,
		ObjectPath:  objectPath,
		DownloadURL: url,
		Rows:        rows,
		GeneratedAt: now,
	}, nil
}

// ------------------------------------------------------------
// donations
// ------------------------------------------------------------

type donationExportRow struct {
	ID            string `json:"id"`
	DonorID       string `json:"donorId"`
	DonationDate  string `json:"donationDate"`
	Items         int    `json:"items"`
	TotalQuantity int64  `json:"totalQuantity"`
	Status        string `json:"status"`
	CreatedBy     string `json:"createdBy"`
}

func (q *ExportQuery) buildDonations(ctx context.Context, format string, from, to time.Time) ([]byte, int, string, error) {
	ds, err := listAllDonations(ctx, q.donations, donationdom.Filter{
		Donated: common.TimeRange{From: &from, To: &to},
	})
	if err != nil {
		return nil, 0, "", err
	}

	rows := make([]donationExportRow, 0, len(ds))
	for _, d := range ds {
		rows = append(rows, donationExportRow{
			ID:            d.ID,
			DonorID:       d.DonorID,
			DonationDate:  d.DonationDate.UTC().Format(time.RFC3339),
			Items:         len(d.Items),
			TotalQuantity: d.TotalQuantity(),
			Status:        string(d.Status),
			CreatedBy:     d.CreatedBy,
		})
	}

	switch format {
	case ExportFormatJSON:
		data, err := json.Marshal(rows)
		return data, len(rows), "application/json", err
	case ExportFormatCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		_ = w.Write([]string{"id", "donor_id", "donation_date", "items", "total_quantity", "status", "created_by"})
		for _, r := range rows {
			_ = w.Write([]string{
				r.ID, r.DonorID, r.DonationDate,
				strconv.Itoa(r.Items), strconv.FormatInt(r.TotalQuantity, 10),
				r.Status, r.CreatedBy,
			})
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, 0, "", err
		}
		return buf.Bytes(), len(rows), "text/csv", nil
	default:
		return nil, 0, "", fmt.Errorf("%w: %q", ErrUnknownExportFormat, format)
	}
}

// ------------------------------------------------------------
// distributions
// ------------------------------------------------------------

type distributionExportRow struct {
	ID            string `json:"id"`
	RecipientID   string `json:"recipientId"`
	ScheduledDate string `json:"scheduledDate"`
	Status        string `json:"status"`
	Lines         int    `json:"lines"`
	TotalQuantity int64  `json:"totalQuantity"`
	CompletedAt   string `json:"completedAt,omitempty"`
	CancelledAt   string `json:"cancelledAt,omitempty"`
}

func (q *ExportQuery) buildDistributions(ctx context.Context, format string, from, to time.Time) ([]byte, int, string, error) {
	ds, err := listAllDistributions(ctx, q.dists, distdom.Filter{
		Scheduled: common.TimeRange{From: &from, To: &to},
	})
	if err != nil {
		return nil, 0, "", err
	}

	rows := make([]distributionExportRow, 0, len(ds))
	for _, d := range ds {
		row := distributionExportRow{
			ID:            d.ID,
			RecipientID:   d.RecipientID,
			ScheduledDate: d.ScheduledDate.UTC().Format(time.RFC3339),
			Status:        string(d.Status),
			Lines:         len(d.Lines),
			TotalQuantity: d.TotalQuantity(),
		}
		if d.CompletedAt != nil {
			row.CompletedAt = d.CompletedAt.UTC().Format(time.RFC3339)
		}
		if d.CancelledAt != nil {
			row.CancelledAt = d.CancelledAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, row)
	}

	switch format {
	case ExportFormatJSON:
		data, err := json.Marshal(rows)
		return data, len(rows), "application/json", err
	case ExportFormatCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		_ = w.Write([]string{"id", "recipient_id", "scheduled_date", "status", "lines", "total_quantity", "completed_at", "cancelled_at"})
		for _, r := range rows {
			_ = w.Write([]string{
				r.ID, r.RecipientID, r.ScheduledDate, r.Status,
				strconv.Itoa(r.Lines), strconv.FormatInt(r.TotalQuantity, 10),
				r.CompletedAt, r.CancelledAt,
			})
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, 0, "", err
		}
		return buf.Bytes(), len(rows), "text/csv", nil
	default:
		return nil, 0, "", fmt.Errorf("%w: %q", ErrUnknownExportFormat, format)
	}
}
