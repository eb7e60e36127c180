// internal/application/query/report_query.go
package query

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"savinggrace/internal/application/usecase"
	"savinggrace/internal/domain/common"
	distdom "savinggrace/internal/domain/distribution"
	donationdom "savinggrace/internal/domain/donation"
	donordom "savinggrace/internal/domain/donor"
	lotdom "savinggrace/internal/domain/lot"
	"savinggrace/internal/domain/permission"
	recipientdom "savinggrace/internal/domain/recipient"
)

// ============================================================
// Read-model assembler（集計レポート）
// - 書き込みは一切行わない
// - 権限は usecase 層と同じく context の actor で検査する
// ============================================================

// scanPerPage は全件スキャン時の 1 ページ取得件数
const scanPerPage = 500

// requireReader は query 層の入口の権限検査です。
func requireReader(ctx context.Context, c permission.Capability) error {
	u, ok := usecase.ActorFromContext(ctx)
	if !ok {
		return permission.ErrUnauthenticated
	}
	if !u.Active() {
		return &permission.DeniedError{Role: u.Role, Capability: c}
	}
	return permission.Require(u.Role, c)
}

// ============================================================
// Minimal readers (ports)
// ============================================================

type donationLister interface {
	List(ctx context.Context, filter donationdom.Filter, sort common.Sort, page common.Page) (common.PageResult[donationdom.Donation], error)
}

type distributionLister interface {
	List(ctx context.Context, filter distdom.Filter, sort common.Sort, page common.Page) (common.PageResult[distdom.Distribution], error)
}

type lotLister interface {
	List(ctx context.Context, filter lotdom.Filter, sort common.Sort, page common.Page) (common.PageResult[lotdom.Lot], error)
}

type lotGetter interface {
	GetByID(ctx context.Context, id string) (lotdom.Lot, error)
}

type donorGetter interface {
	GetByID(ctx context.Context, id string) (donordom.Donor, error)
}

type recipientGetter interface {
	GetByID(ctx context.Context, id string) (recipientdom.Recipient, error)
}

type donorLister interface {
	List(ctx context.Context, filter donordom.Filter, sort common.Sort, page common.Page) (common.PageResult[donordom.Donor], error)
}

type recipientLister interface {
	List(ctx context.Context, filter recipientdom.Filter, sort common.Sort, page common.Page) (common.PageResult[recipientdom.Recipient], error)
}

// ============================================================
// Scan helpers（ページングを畳んで全件を返す）
// ============================================================

func listAllDonations(ctx context.Context, r donationLister, filter donationdom.Filter) ([]donationdom.Donation, error) {
	var all []donationdom.Donation
	page := 1
	for {
		res, err := r.List(ctx, filter, common.Sort{}, common.Page{Number: page, PerPage: scanPerPage})
		if err != nil {
			return nil, err
		}
		all = append(all, res.Items...)
		if page >= res.TotalPages || len(res.Items) == 0 {
			break
		}
		page++
	}
	return all, nil
}

func listAllDistributions(ctx context.Context, r distributionLister, filter distdom.Filter) ([]distdom.Distribution, error) {
	var all []distdom.Distribution
	page := 1
	for {
		res, err := r.List(ctx, filter, common.Sort{}, common.Page{Number: page, PerPage: scanPerPage})
		if err != nil {
			return nil, err
		}
		all = append(all, res.Items...)
		if page >= res.TotalPages || len(res.Items) == 0 {
			break
		}
		page++
	}
	return all, nil
}

func listAllLots(ctx context.Context, r lotLister, filter lotdom.Filter) ([]lotdom.Lot, error) {
	var all []lotdom.Lot
	page := 1
	for {
		res, err := r.List(ctx, filter, common.Sort{}, common.Page{Number: page, PerPage: scanPerPage})
		if err != nil {
			return nil, err
		}
		all = append(all, res.Items...)
		if page >= res.TotalPages || len(res.Items) == 0 {
			break
		}
		page++
	}
	return all, nil
}

// ============================================================
// ReportQuery
// ============================================================

type ReportQuery struct {
	donations  donationLister
	dists      distributionLister
	lots       lotLister
	donors     donorGetter
	recipients recipientGetter
}

func NewReportQuery(
	donations donationLister,
	dists distributionLister,
	lots lotLister,
	donors donorGetter,
	recipients recipientGetter,
) *ReportQuery {
	return &ReportQuery{
		donations:  donations,
		dists:      dists,
		lots:       lots,
		donors:     donors,
		recipients: recipients,
	}
}

// ------------------------------------------------------------
// Donations report
// ------------------------------------------------------------

type DonorReportRow struct {
	DonorID       string
	DonorName     string
	Donations     int
	TotalQuantity int64
}

type CategoryQuantityRow struct {
	Category string
	Quantity int64
}

type DonationsReport struct {
	From           time.Time
	To             time.Time
	TotalDonations int
	TotalQuantity  int64
	ByDonor        []DonorReportRow
	ByCategory     []CategoryQuantityRow
}

// Donations は期間内の寄付受付を寄付者別・カテゴリ別に集計します。
func (q *ReportQuery) Donations(ctx context.Context, from, to time.Time) (DonationsReport, error) {
	if q == nil || q.donations == nil {
		return DonationsReport{}, errors.New("report query repositories are not configured")
	}
	if err := requireReader(ctx, permission.ReportsRead); err != nil {
		return DonationsReport{}, err
	}

	ds, err := listAllDonations(ctx, q.donations, donationdom.Filter{
		Donated: common.TimeRange{From: &from, To: &to},
	})
	if err != nil {
		return DonationsReport{}, err
	}

	rep := DonationsReport{From: from.UTC(), To: to.UTC(), TotalDonations: len(ds)}

	byDonor := map[string]*DonorReportRow{}
	byCategory := map[string]int64{}
	nameCache := map[string]string{}

	for _, d := range ds {
		qty := d.TotalQuantity()
		rep.TotalQuantity += qty

		row, ok := byDonor[d.DonorID]
		if !ok {
			if _, seen := nameCache[d.DonorID]; !seen {
				nameCache[d.DonorID] = q.resolveDonorName(ctx, d.DonorID)
			}
			row = &DonorReportRow{DonorID: d.DonorID, DonorName: nameCache[d.DonorID]}
			byDonor[d.DonorID] = row
		}
		row.Donations++
		row.TotalQuantity += qty

		for _, it := range d.Items {
			byCategory[string(it.Category)] += it.Quantity
		}
	}

	rep.ByDonor = make([]DonorReportRow, 0, len(byDonor))
	for _, row := range byDonor {
		rep.ByDonor = append(rep.ByDonor, *row)
	}
	sort.Slice(rep.ByDonor, func(i, j int) bool {
		if rep.ByDonor[i].TotalQuantity != rep.ByDonor[j].TotalQuantity {
			return rep.ByDonor[i].TotalQuantity > rep.ByDonor[j].TotalQuantity
		}
		return rep.ByDonor[i].DonorID < rep.ByDonor[j].DonorID
	})

	rep.ByCategory = categoryRows(byCategory)
	return rep, nil
}

// ------------------------------------------------------------
// Distributions report
// ------------------------------------------------------------

type RecipientReportRow struct {
	RecipientID   string
	RecipientName string
	Distributions int
	TotalQuantity int64
}

type DistributionsReport struct {
	From           time.Time
	To             time.Time
	Completed      int
	Cancelled      int
	Planned        int
	TotalQuantity  int64 // completed のみ
	ByRecipient    []RecipientReportRow
	ByStatusCounts map[string]int
}

// Distributions は期間内（予定日ベース）の配布を状態別・受給者別に集計します。
// 数量は completed のみ計上します（planned は未確定、cancelled は戻し済み）。
func (q *ReportQuery) Distributions(ctx context.Context, from, to time.Time) (DistributionsReport, error) {
	if q == nil || q.dists == nil {
		return DistributionsReport{}, errors.New("report query repositories are not configured")
	}
	if err := requireReader(ctx, permission.ReportsRead); err != nil {
		return DistributionsReport{}, err
	}

	ds, err := listAllDistributions(ctx, q.dists, distdom.Filter{
		Scheduled: common.TimeRange{From: &from, To: &to},
	})
	if err != nil {
		return DistributionsReport{}, err
	}

	rep := DistributionsReport{
		From:           from.UTC(),
		To:             to.UTC(),
		ByStatusCounts: map[string]int{},
	}

	byRecipient := map[string]*RecipientReportRow{}
	nameCache := map[string]string{}

	for _, d := range ds {
		rep.ByStatusCounts[string(d.Status)]++
		switch d.Status {
		case distdom.StatusCompleted:
			rep.Completed++
		case distdom.StatusCancelled:
			rep.Cancelled++
		case distdom.StatusPlanned:
			rep.Planned++
		}
		if d.Status != distdom.StatusCompleted {
			continue
		}

		qty := d.TotalQuantity()
		rep.TotalQuantity += qty

		row, ok := byRecipient[d.RecipientID]
		if !ok {
			if _, seen := nameCache[d.RecipientID]; !seen {
				nameCache[d.RecipientID] = q.resolveRecipientName(ctx, d.RecipientID)
			}
			row = &RecipientReportRow{RecipientID: d.RecipientID, RecipientName: nameCache[d.RecipientID]}
			byRecipient[d.RecipientID] = row
		}
		row.Distributions++
		row.TotalQuantity += qty
	}

	rep.ByRecipient = make([]RecipientReportRow, 0, len(byRecipient))
	for _, row := range byRecipient {
		rep.ByRecipient = append(rep.ByRecipient, *row)
	}
	sort.Slice(rep.ByRecipient, func(i, j int) bool {
		if rep.ByRecipient[i].TotalQuantity != rep.ByRecipient[j].TotalQuantity {
			return rep.ByRecipient[i].TotalQuantity > rep.ByRecipient[j].TotalQuantity
		}
		return rep.ByRecipient[i].RecipientID < rep.ByRecipient[j].RecipientID
	})

	return rep, nil
}

// ------------------------------------------------------------
// Recipient history
// ------------------------------------------------------------

type RecipientHistory struct {
	Recipient     recipientdom.Recipient
	Distributions []distdom.Distribution
	TotalReceived int64 // completed のみ
}

// RecipientHistory は受給者 1 件の配布履歴を新しい順で返します。
// 配布の画面から使うため、必要権限は reports:read ではなく distributions:read です。
func (q *ReportQuery) RecipientHistory(ctx context.Context, recipientID string) (RecipientHistory, error) {
	if q == nil || q.dists == nil || q.recipients == nil {
		return RecipientHistory{}, errors.New("report query repositories are not configured")
	}
	if err := requireReader(ctx, permission.DistributionsRead); err != nil {
		return RecipientHistory{}, err
	}

	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return RecipientHistory{}, recipientdom.ErrInvalidID
	}

	r, err := q.recipients.GetByID(ctx, recipientID)
	if err != nil {
		return RecipientHistory{}, err
	}

	ds, err := listAllDistributions(ctx, q.dists, distdom.Filter{RecipientID: recipientID})
	if err != nil {
		return RecipientHistory{}, err
	}
	sort.Slice(ds, func(i, j int) bool {
		return ds[i].ScheduledDate.After(ds[j].ScheduledDate)
	})

	h := RecipientHistory{Recipient: r, Distributions: ds}
	for _, d := range ds {
		if d.Status == distdom.StatusCompleted {
			h.TotalReceived += d.TotalQuantity()
		}
	}
	return h, nil
}

// ------------------------------------------------------------
// Expiring report
// ------------------------------------------------------------

type ExpiringReport struct {
	WithinDays int
	Lots       []lotdom.Lot
	TotalAtRisk int64 // 期限内に掃けないと除却になる Available 合計
}

// Expiring は指定日数以内に期限を迎えるロット（Available > 0）を期限順で返します。
// 在庫運用の画面から使うため、必要権限は reports:read ではなく inventory:read です。
func (q *ReportQuery) Expiring(ctx context.Context, withinDays int) (ExpiringReport, error) {
	if q == nil || q.lots == nil {
		return ExpiringReport{}, errors.New("report query repositories are not configured")
	}
	if err := requireReader(ctx, permission.InventoryRead); err != nil {
		return ExpiringReport{}, err
	}

	if withinDays <= 0 {
		withinDays = lotdom.ExpiringSoonDays
	}
	now := time.Now().UTC()
	deadline := now.AddDate(0, 0, withinDays)

	ls, err := listAllLots(ctx, q.lots, lotdom.Filter{
		ExpiringBefore: &common.TimeRange{To: &deadline},
	})
	if err != nil {
		return ExpiringReport{}, err
	}

	rep := ExpiringReport{WithinDays: withinDays}
	for _, l := range ls {
		if l.Available <= 0 || l.ExpirationDate == nil {
			continue
		}
		rep.Lots = append(rep.Lots, l)
		rep.TotalAtRisk += l.Available
	}
	sort.Slice(rep.Lots, func(i, j int) bool {
		return rep.Lots[i].ExpirationDate.Before(*rep.Lots[j].ExpirationDate)
	})
	return rep, nil
}

// ============================================================
// helpers
// ============================================================

func (q *ReportQuery) resolveDonorName(ctx context.Context, donorID string) string {
	if q == nil || q.donors == nil {
		return ""
	}
	d, err := q.donors.GetByID(ctx, donorID)
	if err != nil {
		return ""
	}
	return d.Name
}

func (q *ReportQuery) resolveRecipientName(ctx context.Context, recipientID string) string {
	if q == nil || q.recipients == nil {
		return ""
	}
	r, err := q.recipients.GetByID(ctx, recipientID)
	if err != nil {
		return ""
	}
	return r.Name
}

func categoryRows(byCategory map[string]int64) []CategoryQuantityRow {
	rows := make([]CategoryQuantityRow, 0, len(byCategory))
	for c, qty := range byCategory {
		rows = append(rows, CategoryQuantityRow{Category: c, Quantity: qty})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Quantity != rows[j].Quantity {
			return rows[i].Quantity > rows[j].Quantity
		}
		return rows[i].Category < rows[j].Category
	})
	return rows
}
