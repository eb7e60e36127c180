// internal/application/query/impact_query_test.go
package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"savinggrace/internal/application/usecase"
	"savinggrace/internal/domain/common"
	distdom "savinggrace/internal/domain/distribution"
	lotdom "savinggrace/internal/domain/lot"
	"savinggrace/internal/domain/permission"
	recipientdom "savinggrace/internal/domain/recipient"
	userdom "savinggrace/internal/domain/user"
)

// ------------------------------------------------------------
// fakes
// ------------------------------------------------------------

type fakeDistLister struct {
	items []distdom.Distribution
}

func (f *fakeDistLister) List(_ context.Context, filter distdom.Filter, _ common.Sort, page common.Page) (common.PageResult[distdom.Distribution], error) {
	var out []distdom.Distribution
	for _, d := range f.items {
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if filter.RecipientID != "" && d.RecipientID != filter.RecipientID {
			continue
		}
		if !filter.Scheduled.Contains(d.ScheduledDate) {
			continue
		}
		out = append(out, d)
	}
	return common.PageResult[distdom.Distribution]{
		Items:      out,
		TotalCount: len(out),
		TotalPages: 1,
		Page:       page.Number,
		PerPage:    page.PerPage,
	}, nil
}

type fakeLotGetter struct {
	categories map[string]lotdom.Category
}

func (f *fakeLotGetter) GetByID(_ context.Context, id string) (lotdom.Lot, error) {
	c, ok := f.categories[id]
	if !ok {
		return lotdom.Lot{}, lotdom.ErrNotFound
	}
	return lotdom.Lot{ID: id, Category: c}, nil
}

type fakeRecipientGetter struct {
	households map[string]int
}

func (f *fakeRecipientGetter) GetByID(_ context.Context, id string) (recipientdom.Recipient, error) {
	n, ok := f.households[id]
	if !ok {
		return recipientdom.Recipient{}, recipientdom.ErrNotFound
	}
	return recipientdom.Recipient{ID: id, Name: "Recipient " + id, HouseholdSize: n}, nil
}

// ------------------------------------------------------------
// helpers
// ------------------------------------------------------------

func reportCtx(t *testing.T, role permission.Role) context.Context {
	t.Helper()
	return usecase.WithActor(context.Background(), userdom.User{
		ID:     "staff-1",
		Role:   role,
		Status: userdom.StatusActive,
	})
}

func completedDist(id, recipientID string, when time.Time, lines ...distdom.Line) distdom.Distribution {
	return distdom.Distribution{
		ID:            id,
		RecipientID:   recipientID,
		Status:        distdom.StatusCompleted,
		ScheduledDate: when,
		Lines:         lines,
	}
}

// ------------------------------------------------------------
// tests
// ------------------------------------------------------------

func TestCompute_ConvertsQuantitiesToPoundsAndMeals(t *testing.T) {
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	from := day.AddDate(0, 0, -7)
	to := day.AddDate(0, 0, 7)

	dists := &fakeDistLister{items: []distdom.Distribution{
		completedDist("dist-1", "rcpt-1", day,
			distdom.Line{LotID: "lot-canned", Quantity: 10},
			distdom.Line{LotID: "lot-produce", Quantity: 4},
		),
		completedDist("dist-2", "rcpt-2", day.AddDate(0, 0, 1),
			distdom.Line{LotID: "lot-grains", Quantity: 3},
			distdom.Line{LotID: "lot-unknown", Quantity: 2}, // 参照切れは other 換算
		),
	}}
	lots := &fakeLotGetter{categories: map[string]lotdom.Category{
		"lot-canned":  lotdom.CategoryCanned,
		"lot-produce": lotdom.CategoryProduce,
		"lot-grains":  lotdom.CategoryGrains,
	}}
	recipients := &fakeRecipientGetter{households: map[string]int{
		"rcpt-1": 4,
		"rcpt-2": 3,
	}}

	q := NewImpactQuery(dists, lots, recipients)
	rep, err := q.Compute(reportCtx(t, permission.RoleAdmin), from, to)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	if rep.Distributions != 2 {
		t.Fatalf("Distributions = %d, want 2", rep.Distributions)
	}
	if rep.ItemsDistributed != 19 {
		t.Fatalf("ItemsDistributed = %d, want 19", rep.ItemsDistributed)
	}

	// canned 10*1.0 + produce 4*0.5 + grains 3*2.0 + other 2*1.0 = 20 lbs
	if want := decimal.RequireFromString("20"); !rep.PoundsDistributed.Equal(want) {
		t.Fatalf("PoundsDistributed = %s, want %s", rep.PoundsDistributed, want)
	}
	// 20 / 1.5 = 13.33... → 13.3
	if want := decimal.RequireFromString("13.3"); !rep.MealsServed.Equal(want) {
		t.Fatalf("MealsServed = %s, want %s", rep.MealsServed, want)
	}

	if rep.HouseholdsReached != 2 {
		t.Fatalf("HouseholdsReached = %d, want 2", rep.HouseholdsReached)
	}
	if rep.PeopleServed != 7 {
		t.Fatalf("PeopleServed = %d, want 7", rep.PeopleServed)
	}

	// 重量降順、同率はカテゴリ名昇順
	wantOrder := []string{"canned", "grains", "other", "produce"}
	if len(rep.ByCategory) != len(wantOrder) {
		t.Fatalf("ByCategory rows = %d, want %d", len(rep.ByCategory), len(wantOrder))
	}
	for i, w := range wantOrder {
		if rep.ByCategory[i].Category != w {
			t.Fatalf("ByCategory[%d] = %s, want %s", i, rep.ByCategory[i].Category, w)
		}
	}
	if want := decimal.RequireFromString("10"); !rep.ByCategory[0].Pounds.Equal(want) {
		t.Fatalf("canned pounds = %s, want %s", rep.ByCategory[0].Pounds, want)
	}
}

func TestCompute_OnlyCompletedInRangeCounted(t *testing.T) {
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	from := day.AddDate(0, 0, -1)
	to := day.AddDate(0, 0, 1)

	planned := completedDist("dist-p", "rcpt-1", day, distdom.Line{LotID: "lot-canned", Quantity: 5})
	planned.Status = distdom.StatusPlanned
	cancelled := completedDist("dist-c", "rcpt-1", day, distdom.Line{LotID: "lot-canned", Quantity: 5})
	cancelled.Status = distdom.StatusCancelled
	outOfRange := completedDist("dist-o", "rcpt-1", day.AddDate(0, 1, 0), distdom.Line{LotID: "lot-canned", Quantity: 5})

	dists := &fakeDistLister{items: []distdom.Distribution{planned, cancelled, outOfRange}}
	lots := &fakeLotGetter{categories: map[string]lotdom.Category{"lot-canned": lotdom.CategoryCanned}}

	q := NewImpactQuery(dists, lots, &fakeRecipientGetter{})
	rep, err := q.Compute(reportCtx(t, permission.RoleAdmin), from, to)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	if rep.Distributions != 0 || rep.ItemsDistributed != 0 {
		t.Fatalf("got %d distributions / %d items, want zero", rep.Distributions, rep.ItemsDistributed)
	}
	if !rep.PoundsDistributed.IsZero() || !rep.MealsServed.IsZero() {
		t.Fatalf("pounds=%s meals=%s, want zero", rep.PoundsDistributed, rep.MealsServed)
	}
}

func TestCompute_Authorization(t *testing.T) {
	q := NewImpactQuery(&fakeDistLister{}, &fakeLotGetter{}, &fakeRecipientGetter{})
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	if _, err := q.Compute(context.Background(), from, to); !errors.Is(err, permission.ErrUnauthenticated) {
		t.Fatalf("no actor: err = %v, want ErrUnauthenticated", err)
	}
	if _, err := q.Compute(reportCtx(t, permission.RoleVolunteer), from, to); !errors.Is(err, permission.ErrDenied) {
		t.Fatalf("volunteer: err = %v, want ErrDenied", err)
	}
	if _, err := q.Compute(reportCtx(t, permission.RoleReadOnly), from, to); err != nil {
		t.Fatalf("read_only should be able to read reports: %v", err)
	}
}

func TestUnitWeight_FallsBackToOther(t *testing.T) {
	if w := UnitWeight(lotdom.Category("mystery")); !w.Equal(decimal.RequireFromString("1.0")) {
		t.Fatalf("unknown category weight = %s, want 1.0", w)
	}
	if w := UnitWeight(lotdom.CategoryGrains); !w.Equal(decimal.RequireFromString("2.0")) {
		t.Fatalf("grains weight = %s, want 2.0", w)
	}
}
