// internal/domain/lot/entity_test.go
package lot

import (
	"errors"
	"testing"
	"time"
)

func mustNew(t *testing.T, total int64) Lot {
	t.Helper()
	l, err := New("lot-1", "don-1", "Canned beans", CategoryCanned, "cans", total, nil, "Shelf A", time.Now().UTC())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func assertInvariant(t *testing.T, l Lot) {
	t.Helper()
	if err := l.CheckInvariant(); err != nil {
		t.Fatalf("invariant broken: %v", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	l := mustNew(t, 10)
	if l.Available != 10 || l.Reserved != 0 || l.Distributed != 0 || l.Removed != 0 {
		t.Fatalf("unexpected buckets: %+v", l)
	}
	if l.Version != 1 {
		t.Fatalf("version = %d, want 1", l.Version)
	}
	assertInvariant(t, l)
}

func TestNew_Validation(t *testing.T) {
	now := time.Now().UTC()
	cases := []struct {
		name     string
		donation string
		item     string
		category Category
		unit     string
		total    int64
		wantErr  error
	}{
		{"empty donation", "", "Beans", CategoryCanned, "cans", 5, ErrInvalidDonationID},
		{"empty item", "don-1", "  ", CategoryCanned, "cans", 5, ErrInvalidItemName},
		{"bad category", "don-1", "Beans", Category("junk"), "cans", 5, ErrInvalidCategory},
		{"empty unit", "don-1", "Beans", CategoryCanned, "", 5, ErrInvalidUnit},
		{"zero total", "don-1", "Beans", CategoryCanned, "cans", 0, ErrInvalidQuantity},
		{"negative total", "don-1", "Beans", CategoryCanned, "cans", -3, ErrInvalidQuantity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New("", tc.donation, tc.item, tc.category, tc.unit, tc.total, nil, "", now)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestReserve(t *testing.T) {
	l := mustNew(t, 10)
	now := time.Now().UTC()

	if err := l.Reserve(4, now); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if l.Available != 6 || l.Reserved != 4 {
		t.Fatalf("buckets after reserve: %+v", l)
	}
	if l.Version != 2 {
		t.Fatalf("version = %d, want 2", l.Version)
	}
	assertInvariant(t, l)

	// 不足分は詳細付きエラーで拒否し、状態は変わらない
	err := l.Reserve(7, now)
	if !errors.Is(err, ErrInsufficient) {
		t.Fatalf("err = %v, want ErrInsufficient", err)
	}
	var ie *InsufficientError
	if !errors.As(err, &ie) {
		t.Fatalf("err %T is not *InsufficientError", err)
	}
	if ie.Requested != 7 || ie.Available != 6 || ie.Shortfall() != 1 {
		t.Fatalf("detail = %+v", ie)
	}
	if l.Available != 6 || l.Reserved != 4 || l.Version != 2 {
		t.Fatalf("lot mutated on failed reserve: %+v", l)
	}

	if err := l.Reserve(0, now); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("zero qty err = %v", err)
	}
}

func TestCommitAndRelease(t *testing.T) {
	l := mustNew(t, 10)
	now := time.Now().UTC()
	if err := l.Reserve(10, now); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	if err := l.Commit(6, now); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if l.Reserved != 4 || l.Distributed != 6 {
		t.Fatalf("buckets after commit: %+v", l)
	}
	assertInvariant(t, l)

	if err := l.Release(4, now); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if l.Available != 4 || l.Reserved != 0 {
		t.Fatalf("buckets after release: %+v", l)
	}
	assertInvariant(t, l)

	// Reserved 不足は致命系の不整合として通知
	err := l.Commit(1, now)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("commit err = %v, want ErrInvalidState", err)
	}
	var sm *StateMismatchError
	if !errors.As(err, &sm) {
		t.Fatalf("err %T is not *StateMismatchError", err)
	}
	if sm.Requested != 1 || sm.Reserved != 0 {
		t.Fatalf("detail = %+v", sm)
	}
}

func TestRemove(t *testing.T) {
	l := mustNew(t, 10)
	now := time.Now().UTC()

	if err := l.Remove(3, RemovalExpired, now); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if l.Available != 7 || l.Removed != 3 {
		t.Fatalf("buckets after remove: %+v", l)
	}
	assertInvariant(t, l)

	if err := l.Remove(2, RemovalReason("poof"), now); !errors.Is(err, ErrInvalidReason) {
		t.Fatalf("bad reason err = %v", err)
	}
	if err := l.Remove(8, RemovalDamaged, now); !errors.Is(err, ErrInsufficient) {
		t.Fatalf("over-remove err = %v", err)
	}
}

func TestAlertHelpers(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	l := mustNew(t, 5)
	if !l.LowStock() {
		t.Fatalf("available=5 should be low stock")
	}

	big := mustNew(t, 100)
	if big.LowStock() {
		t.Fatalf("available=100 should not be low stock")
	}

	soon := now.AddDate(0, 0, 3)
	le, err := New("", "don-1", "Milk", CategoryDairy, "gal", 10, &soon, "", now)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !le.ExpiringSoon(now, ExpiringSoonDays) {
		t.Fatalf("expiration in 3 days should be expiring soon")
	}
	if le.Expired(now) {
		t.Fatalf("not yet expired")
	}

	past := now.AddDate(0, 0, -2)
	lp, err := New("", "don-1", "Milk", CategoryDairy, "gal", 10, &past, "", now)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !lp.Expired(now) {
		t.Fatalf("expiration 2 days ago should be expired")
	}
	if lp.ExpiringSoon(now, ExpiringSoonDays) {
		t.Fatalf("already expired should not count as expiring soon")
	}
}

func TestUntouchedAndExhausted(t *testing.T) {
	l := mustNew(t, 2)
	if !l.Untouched() {
		t.Fatalf("fresh lot should be untouched")
	}
	now := time.Now().UTC()
	if err := l.Reserve(2, now); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if l.Untouched() {
		t.Fatalf("reserved lot is not untouched")
	}
	if err := l.Commit(2, now); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !l.Exhausted() {
		t.Fatalf("fully distributed lot should be exhausted")
	}
	assertInvariant(t, l)
}
