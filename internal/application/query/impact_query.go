// internal/application/query/impact_query.go
package query

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"savinggrace/internal/domain/common"
	distdom "savinggrace/internal/domain/distribution"
	lotdom "savinggrace/internal/domain/lot"
	"savinggrace/internal/domain/permission"
)

// ============================================================
// ImpactQuery（配布実績のインパクト換算）
// - 個数 → 重量（lbs） → 食数 への換算は decimal で行い、
//   浮動小数の丸め誤差を持ち込まない
// ============================================================

// poundsPerUnit はカテゴリ別の 1 個あたり概算重量（lbs）。
// Feeding America 系の換算を丸めた運用値で、レポート表示専用です。
var poundsPerUnit = map[lotdom.Category]decimal.Decimal{
	lotdom.CategoryProduce:   decimal.RequireFromString("0.5"),
	lotdom.CategoryDairy:     decimal.RequireFromString("1.0"),
	lotdom.CategoryProtein:   decimal.RequireFromString("1.5"),
	lotdom.CategoryGrains:    decimal.RequireFromString("2.0"),
	lotdom.CategoryCanned:    decimal.RequireFromString("1.0"),
	lotdom.CategoryFrozen:    decimal.RequireFromString("2.0"),
	lotdom.CategoryBeverages: decimal.RequireFromString("1.5"),
	lotdom.CategoryOther:     decimal.RequireFromString("1.0"),
}

// poundsPerMeal は 1 食あたりの重量（lbs）。meals = pounds / 1.5
var poundsPerMeal = decimal.RequireFromString("1.5")

// UnitWeight はカテゴリの換算重量を返します。未知カテゴリは other 扱い。
func UnitWeight(c lotdom.Category) decimal.Decimal {
	if w, ok := poundsPerUnit[c]; ok {
		return w
	}
	return poundsPerUnit[lotdom.CategoryOther]
}

type ImpactQuery struct {
	dists      distributionLister
	lots       lotGetter
	recipients recipientGetter
}

func NewImpactQuery(dists distributionLister, lots lotGetter, recipients recipientGetter) *ImpactQuery {
	return &ImpactQuery{dists: dists, lots: lots, recipients: recipients}
}

type CategoryImpactRow struct {
	Category string
	Quantity int64
	Pounds   decimal.Decimal
}

type ImpactReport struct {
	From time.Time
	To   time.Time

	Distributions    int   // completed のみ
	ItemsDistributed int64 // 配布個数合計

	PoundsDistributed decimal.Decimal // 重量換算（小数 1 桁）
	MealsServed       decimal.Decimal // pounds / 1.5（小数 1 桁）

	ByCategory []CategoryImpactRow

	HouseholdsReached int // 期間内に配布を受けたユニーク受給者数
	PeopleServed      int // 上記世帯の HouseholdSize 合計
}

// Compute は期間内（予定日ベース）の completed な配布を重量・食数に換算します。
func (q *ImpactQuery) Compute(ctx context.Context, from, to time.Time) (ImpactReport, error) {
	if q == nil || q.dists == nil || q.lots == nil {
		return ImpactReport{}, errors.New("impact query repositories are not configured")
	}
	if err := requireReader(ctx, permission.ReportsRead); err != nil {
		return ImpactReport{}, err
	}

	ds, err := listAllDistributions(ctx, q.dists, distdom.Filter{
		Status:    distdom.StatusCompleted,
		Scheduled: common.TimeRange{From: &from, To: &to},
	})
	if err != nil {
		return ImpactReport{}, err
	}

	rep := ImpactReport{
		From:              from.UTC(),
		To:                to.UTC(),
		PoundsDistributed: decimal.Zero,
		MealsServed:       decimal.Zero,
	}

	categoryCache := map[string]lotdom.Category{}
	qtyByCategory := map[string]int64{}
	recipientsSeen := map[string]bool{}

	for _, d := range ds {
		rep.Distributions++
		recipientsSeen[d.RecipientID] = true

		for _, line := range d.Lines {
			rep.ItemsDistributed += line.Quantity

			cat, ok := categoryCache[line.LotID]
			if !ok {
				cat = q.resolveCategory(ctx, line.LotID)
				categoryCache[line.LotID] = cat
			}
			qtyByCategory[string(cat)] += line.Quantity
		}
	}

	rep.ByCategory = make([]CategoryImpactRow, 0, len(qtyByCategory))
	for c, qty := range qtyByCategory {
		pounds := decimal.NewFromInt(qty).Mul(UnitWeight(lotdom.Category(c)))
		rep.PoundsDistributed = rep.PoundsDistributed.Add(pounds)
		rep.ByCategory = append(rep.ByCategory, CategoryImpactRow{
			Category: c,
			Quantity: qty,
			Pounds:   pounds,
		})
	}
	sort.Slice(rep.ByCategory, func(i, j int) bool {
		if !rep.ByCategory[i].Pounds.Equal(rep.ByCategory[j].Pounds) {
			return rep.ByCategory[i].Pounds.GreaterThan(rep.ByCategory[j].Pounds)
		}
		return rep.ByCategory[i].Category < rep.ByCategory[j].Category
	})

	rep.PoundsDistributed = rep.PoundsDistributed.Round(1)
	rep.MealsServed = rep.PoundsDistributed.DivRound(poundsPerMeal, 1)

	rep.HouseholdsReached = len(recipientsSeen)
	if q.recipients != nil {
		for id := range recipientsSeen {
			r, err := q.recipients.GetByID(ctx, id)
			if err != nil {
				continue // 削除済み受給者は世帯人数に数えない
			}
			rep.PeopleServed += r.HouseholdSize
		}
	}

	return rep, nil
}

// resolveCategory はロットのカテゴリを引きます。取れない場合は other。
func (q *ImpactQuery) resolveCategory(ctx context.Context, lotID string) lotdom.Category {
	l, err := q.lots.GetByID(ctx, lotID)
	if err != nil {
		return lotdom.CategoryOther
	}
	return l.Category
}
