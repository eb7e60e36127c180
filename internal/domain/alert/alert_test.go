// internal/domain/alert/alert_test.go
package alert

import (
	"testing"
	"time"

	"savinggrace/internal/domain/lot"
)

func makeLot(t *testing.T, total int64, exp *time.Time, now time.Time) lot.Lot {
	t.Helper()
	l, err := lot.New("lot-1", "don-1", "Apples", lot.CategoryProduce, "lbs", total, exp, "", now)
	if err != nil {
		t.Fatalf("lot.New: %v", err)
	}
	return l
}

func TestForLot(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	t.Run("healthy lot has no alerts", func(t *testing.T) {
		l := makeLot(t, 50, nil, now)
		if got := ForLot(l, now); len(got) != 0 {
			t.Fatalf("alerts = %+v", got)
		}
	})

	t.Run("low stock", func(t *testing.T) {
		l := makeLot(t, 4, nil, now)
		got := ForLot(l, now)
		if len(got) != 1 || got[0].Kind != KindLowStock {
			t.Fatalf("alerts = %+v", got)
		}
	})

	t.Run("expiring soon and low stock together", func(t *testing.T) {
		exp := now.AddDate(0, 0, 2)
		l := makeLot(t, 3, &exp, now)
		got := ForLot(l, now)
		if len(got) != 2 {
			t.Fatalf("alerts = %+v", got)
		}
		if got[0].Kind != KindExpiringSoon || got[1].Kind != KindLowStock {
			t.Fatalf("kinds = %s, %s", got[0].Kind, got[1].Kind)
		}
	})

	t.Run("expired wins over expiring soon", func(t *testing.T) {
		exp := now.AddDate(0, 0, -1)
		l := makeLot(t, 20, &exp, now)
		got := ForLot(l, now)
		if len(got) != 1 || got[0].Kind != KindExpired {
			t.Fatalf("alerts = %+v", got)
		}
	})

	t.Run("dedup key is lot and kind", func(t *testing.T) {
		l := makeLot(t, 4, nil, now)
		got := ForLot(l, now)
		if got[0].DedupKey() != "lot-1:low_stock" {
			t.Fatalf("key = %s", got[0].DedupKey())
		}
	})
}
