// internal/application/query/report_query_test.go
package query

import (
	"context"
	"testing"
	"time"

	"savinggrace/internal/domain/common"
	distdom "savinggrace/internal/domain/distribution"
	donationdom "savinggrace/internal/domain/donation"
	donordom "savinggrace/internal/domain/donor"
	lotdom "savinggrace/internal/domain/lot"
	"savinggrace/internal/domain/permission"
)

type fakeDonationLister struct {
	items []donationdom.Donation
}

func (f *fakeDonationLister) List(_ context.Context, filter donationdom.Filter, _ common.Sort, page common.Page) (common.PageResult[donationdom.Donation], error) {
	var out []donationdom.Donation
	for _, d := range f.items {
		if filter.DonorID != "" && d.DonorID != filter.DonorID {
			continue
		}
		if !filter.Donated.Contains(d.DonationDate) {
			continue
		}
		out = append(out, d)
	}
	return common.PageResult[donationdom.Donation]{
		Items:      out,
		TotalCount: len(out),
		TotalPages: 1,
		Page:       page.Number,
		PerPage:    page.PerPage,
	}, nil
}

type fakeLotLister struct {
	items []lotdom.Lot
}

func (f *fakeLotLister) List(_ context.Context, filter lotdom.Filter, _ common.Sort, page common.Page) (common.PageResult[lotdom.Lot], error) {
	var out []lotdom.Lot
	for _, l := range f.items {
		if !filter.IncludeZero && l.Exhausted() {
			continue
		}
		if filter.ExpiringBefore != nil {
			if l.ExpirationDate == nil || !filter.ExpiringBefore.Contains(*l.ExpirationDate) {
				continue
			}
		}
		out = append(out, l)
	}
	return common.PageResult[lotdom.Lot]{
		Items:      out,
		TotalCount: len(out),
		TotalPages: 1,
		Page:       page.Number,
		PerPage:    page.PerPage,
	}, nil
}

type fakeDonorGetter struct {
	names map[string]string
}

func (f *fakeDonorGetter) GetByID(_ context.Context, id string) (donordom.Donor, error) {
	name, ok := f.names[id]
	if !ok {
		return donordom.Donor{}, donordom.ErrNotFound
	}
	return donordom.Donor{ID: id, Name: name}, nil
}

func donationOn(id, donorID string, when time.Time, items ...donationdom.Item) donationdom.Donation {
	return donationdom.Donation{
		ID:           id,
		DonorID:      donorID,
		DonationDate: when,
		Items:        items,
		Status:       donationdom.StatusRecorded,
	}
}

func TestDonationsReport_GroupsByDonorAndCategory(t *testing.T) {
	day := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	from, to := day.AddDate(0, 0, -1), day.AddDate(0, 0, 7)

	donations := &fakeDonationLister{items: []donationdom.Donation{
		donationOn("don-1", "donor-a", day,
			donationdom.Item{Name: "Rice", Category: lotdom.CategoryGrains, Quantity: 40, Unit: "bags"},
			donationdom.Item{Name: "Canned Corn", Category: lotdom.CategoryCanned, Quantity: 24, Unit: "cans"},
		),
		donationOn("don-2", "donor-b", day.AddDate(0, 0, 2),
			donationdom.Item{Name: "Apples", Category: lotdom.CategoryProduce, Quantity: 30, Unit: "lbs"},
		),
		donationOn("don-3", "donor-a", day.AddDate(0, 0, 3),
			donationdom.Item{Name: "Oats", Category: lotdom.CategoryGrains, Quantity: 10, Unit: "boxes"},
		),
		// 期間外は集計に入らない
		donationOn("don-4", "donor-a", day.AddDate(0, -2, 0),
			donationdom.Item{Name: "Old", Category: lotdom.CategoryOther, Quantity: 99, Unit: "pcs"},
		),
	}}
	donors := &fakeDonorGetter{names: map[string]string{
		"donor-a": "Fresh Market",
		"donor-b": "Community Bakery",
	}}

	q := NewReportQuery(donations, &fakeDistLister{}, &fakeLotLister{}, donors, &fakeRecipientGetter{})
	rep, err := q.Donations(reportCtx(t, permission.RoleDonorCoordinator), from, to)
	if err != nil {
		t.Fatalf("Donations: %v", err)
	}

	if rep.TotalDonations != 3 {
		t.Fatalf("TotalDonations = %d, want 3", rep.TotalDonations)
	}
	if rep.TotalQuantity != 104 {
		t.Fatalf("TotalQuantity = %d, want 104", rep.TotalQuantity)
	}

	if len(rep.ByDonor) != 2 {
		t.Fatalf("ByDonor rows = %d, want 2", len(rep.ByDonor))
	}
	top := rep.ByDonor[0]
	if top.DonorID != "donor-a" || top.DonorName != "Fresh Market" || top.Donations != 2 || top.TotalQuantity != 74 {
		t.Fatalf("top donor row = %+v", top)
	}

	// 数量降順: grains 50, produce 30, canned 24
	wantCats := []CategoryQuantityRow{
		{Category: "grains", Quantity: 50},
		{Category: "produce", Quantity: 30},
		{Category: "canned", Quantity: 24},
	}
	if len(rep.ByCategory) != len(wantCats) {
		t.Fatalf("ByCategory rows = %d, want %d", len(rep.ByCategory), len(wantCats))
	}
	for i, w := range wantCats {
		if rep.ByCategory[i] != w {
			t.Fatalf("ByCategory[%d] = %+v, want %+v", i, rep.ByCategory[i], w)
		}
	}
}

func TestDistributionsReport_CountsQuantityForCompletedOnly(t *testing.T) {
	day := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	from, to := day.AddDate(0, 0, -1), day.AddDate(0, 0, 1)

	completed := completedDist("dist-1", "rcpt-1", day, distdom.Line{LotID: "lot-a", Quantity: 8})
	planned := completedDist("dist-2", "rcpt-1", day, distdom.Line{LotID: "lot-a", Quantity: 5})
	planned.Status = distdom.StatusPlanned
	cancelled := completedDist("dist-3", "rcpt-2", day, distdom.Line{LotID: "lot-a", Quantity: 3})
	cancelled.Status = distdom.StatusCancelled

	dists := &fakeDistLister{items: []distdom.Distribution{completed, planned, cancelled}}
	recipients := &fakeRecipientGetter{households: map[string]int{"rcpt-1": 2, "rcpt-2": 5}}

	q := NewReportQuery(&fakeDonationLister{}, dists, &fakeLotLister{}, &fakeDonorGetter{}, recipients)
	rep, err := q.Distributions(reportCtx(t, permission.RoleDistributionManager), from, to)
	if err != nil {
		t.Fatalf("Distributions: %v", err)
	}

	if rep.Completed != 1 || rep.Planned != 1 || rep.Cancelled != 1 {
		t.Fatalf("status counts = %d/%d/%d, want 1/1/1", rep.Completed, rep.Planned, rep.Cancelled)
	}
	if rep.TotalQuantity != 8 {
		t.Fatalf("TotalQuantity = %d, want 8 (completed only)", rep.TotalQuantity)
	}
	if len(rep.ByRecipient) != 1 || rep.ByRecipient[0].RecipientID != "rcpt-1" {
		t.Fatalf("ByRecipient = %+v, want only rcpt-1", rep.ByRecipient)
	}
	if rep.ByRecipient[0].RecipientName != "Recipient rcpt-1" {
		t.Fatalf("recipient name = %q", rep.ByRecipient[0].RecipientName)
	}
}

func TestExpiring_OrdersByExpirationAndSkipsEmptyLots(t *testing.T) {
	now := time.Now().UTC()
	in2 := now.AddDate(0, 0, 2)
	in5 := now.AddDate(0, 0, 5)
	in30 := now.AddDate(0, 0, 30)

	lots := &fakeLotLister{items: []lotdom.Lot{
		{ID: "lot-late", Category: lotdom.CategoryCanned, Available: 12, ExpirationDate: &in5},
		{ID: "lot-soon", Category: lotdom.CategoryProduce, Available: 6, ExpirationDate: &in2},
		{ID: "lot-empty", Category: lotdom.CategoryDairy, Available: 0, ExpirationDate: &in2},
		{ID: "lot-far", Category: lotdom.CategoryGrains, Available: 40, ExpirationDate: &in30},
		{ID: "lot-noexp", Category: lotdom.CategoryOther, Available: 9},
	}}

	q := NewReportQuery(&fakeDonationLister{}, &fakeDistLister{}, lots, &fakeDonorGetter{}, &fakeRecipientGetter{})
	rep, err := q.Expiring(reportCtx(t, permission.RoleAdmin), 7)
	if err != nil {
		t.Fatalf("Expiring: %v", err)
	}

	if len(rep.Lots) != 2 {
		t.Fatalf("lots = %d, want 2", len(rep.Lots))
	}
	if rep.Lots[0].ID != "lot-soon" || rep.Lots[1].ID != "lot-late" {
		t.Fatalf("order = [%s %s], want [lot-soon lot-late]", rep.Lots[0].ID, rep.Lots[1].ID)
	}
	if rep.TotalAtRisk != 18 {
		t.Fatalf("TotalAtRisk = %d, want 18", rep.TotalAtRisk)
	}
}
