// internal/application/query/dashboard_query.go
package query

import (
	"context"
	"errors"
	"time"

	auditdom "savinggrace/internal/domain/audit"
	"savinggrace/internal/domain/common"
	distdom "savinggrace/internal/domain/distribution"
	donationdom "savinggrace/internal/domain/donation"
	donordom "savinggrace/internal/domain/donor"
	lotdom "savinggrace/internal/domain/lot"
	"savinggrace/internal/domain/permission"
	recipientdom "savinggrace/internal/domain/recipient"
)

// ============================================================
// DashboardQuery（ダッシュボード用の概況集計）
// - 在庫はロット全件スキャン、件数系は TotalCount のみ参照
// ============================================================

// auditReader は直近の操作履歴の読み口です（audit.Service が満たします）。
type auditReader interface {
	Recent(ctx context.Context, limit int) ([]auditdom.Entry, error)
}

type DashboardQuery struct {
	lots       lotLister
	donations  donationLister
	dists      distributionLister
	donors     donorLister
	recipients recipientLister
	activity   auditReader // 任意（nil 可）

	now func() time.Time
}

func NewDashboardQuery(
	lots lotLister,
	donations donationLister,
	dists distributionLister,
	donors donorLister,
	recipients recipientLister,
	activity auditReader,
) *DashboardQuery {
	return &DashboardQuery{
		lots:       lots,
		donations:  donations,
		dists:      dists,
		donors:     donors,
		recipients: recipients,
		activity:   activity,
		now:        time.Now,
	}
}

// WithNow はテスト用に現在時刻を差し替えます。
func (q *DashboardQuery) WithNow(now func() time.Time) *DashboardQuery {
	if q != nil && now != nil {
		q.now = now
	}
	return q
}

type DashboardMetrics struct {
	GeneratedAt time.Time

	// 在庫バケット合計（全ロット、消化済み含む）
	TotalAvailable   int64
	TotalReserved    int64
	TotalDistributed int64
	TotalRemoved     int64

	AvailableByCategory []CategoryQuantityRow

	// アラート系件数（Available > 0 のロットのみ）
	LowStockLots     int
	ExpiringSoonLots int
	ExpiredLots      int

	// 件数系（TotalCount 参照）
	ActiveDonors         int
	ActiveRecipients     int
	PlannedDistributions int

	// 当月（UTC、暦月）
	DonationsThisMonth              int
	DistributionsCompletedThisMonth int

	// 直近の操作（新しい順、最大 recentActivityLimit 件）
	RecentActivity []auditdom.Entry
}

const recentActivityLimit = 20

// Overview はダッシュボードに出す概況を 1 回で組み立てます。
func (q *DashboardQuery) Overview(ctx context.Context) (DashboardMetrics, error) {
	if q == nil || q.lots == nil || q.donations == nil || q.dists == nil || q.donors == nil || q.recipients == nil {
		return DashboardMetrics{}, errors.New("dashboard query repositories are not configured")
	}
	if err := requireReader(ctx, permission.ReportsRead); err != nil {
		return DashboardMetrics{}, err
	}

	now := q.now().UTC()
	m := DashboardMetrics{GeneratedAt: now}

	// --- 在庫 ---
	ls, err := listAllLots(ctx, q.lots, lotdom.Filter{IncludeZero: true})
	if err != nil {
		return DashboardMetrics{}, err
	}
	byCategory := map[string]int64{}
	for _, l := range ls {
		m.TotalAvailable += l.Available
		m.TotalReserved += l.Reserved
		m.TotalDistributed += l.Distributed
		m.TotalRemoved += l.Removed
		if l.Available > 0 {
			byCategory[string(l.Category)] += l.Available
		}
		if l.LowStock() {
			m.LowStockLots++
		}
		if l.Expired(now) {
			m.ExpiredLots++
		} else if l.ExpiringSoon(now, lotdom.ExpiringSoonDays) {
			m.ExpiringSoonLots++
		}
	}
	m.AvailableByCategory = categoryRows(byCategory)

	// --- 件数系（1 件だけ取得して TotalCount を読む） ---
	countPage := common.Page{Number: 1, PerPage: 1}

	donorRes, err := q.donors.List(ctx, donordom.Filter{Status: donordom.StatusActive}, common.Sort{}, countPage)
	if err != nil {
		return DashboardMetrics{}, err
	}
	m.ActiveDonors = donorRes.TotalCount

	recipientRes, err := q.recipients.List(ctx, recipientdom.Filter{Status: recipientdom.StatusActive}, common.Sort{}, countPage)
	if err != nil {
		return DashboardMetrics{}, err
	}
	m.ActiveRecipients = recipientRes.TotalCount

	plannedRes, err := q.dists.List(ctx, distdom.Filter{Status: distdom.StatusPlanned}, common.Sort{}, countPage)
	if err != nil {
		return DashboardMetrics{}, err
	}
	m.PlannedDistributions = plannedRes.TotalCount

	// --- 当月（UTC 暦月） ---
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthRange := common.TimeRange{From: &monthStart, To: &now}

	donationRes, err := q.donations.List(ctx, donationdom.Filter{Donated: monthRange}, common.Sort{}, countPage)
	if err != nil {
		return DashboardMetrics{}, err
	}
	m.DonationsThisMonth = donationRes.TotalCount

	completedRes, err := q.dists.List(ctx, distdom.Filter{Status: distdom.StatusCompleted, Scheduled: monthRange}, common.Sort{}, countPage)
	if err != nil {
		return DashboardMetrics{}, err
	}
	m.DistributionsCompletedThisMonth = completedRes.TotalCount

	// --- 直近の操作（監査ログ、未設定なら空のまま） ---
	if q.activity != nil {
		entries, err := q.activity.Recent(ctx, recentActivityLimit)
		if err != nil {
			return DashboardMetrics{}, err
		}
		m.RecentActivity = entries
	}

	return m, nil
}
