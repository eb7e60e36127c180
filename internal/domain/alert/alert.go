// internal/domain/alert/alert.go
package alert

import (
	"fmt"
	"time"

	"savinggrace/internal/domain/lot"
)

// Alert は在庫ロット 1 件に対する警告です。GET /inventory/alerts と
// メール配信（dispatch）の両方がこの型を使います。
type Alert struct {
	Kind           Kind
	LotID          string
	ItemName       string
	Category       lot.Category
	Available      int64
	ExpirationDate *time.Time
	Message        string
}

// Kind は警告種別
type Kind string

const (
	KindLowStock     Kind = "low_stock"
	KindExpiringSoon Kind = "expiring_soon"
	KindExpired      Kind = "expired"
)

// DedupKey はメール重複抑止（Redis SET NX）に使うキー断片です。
// 同じロット×同じ種別は TTL 内に 1 回しか配信しません。
func (a Alert) DedupKey() string {
	return a.LotID + ":" + string(a.Kind)
}

// ForLot は 1 ロットに対する警告を列挙します（該当なしなら空）。
// expired と expiring_soon は排他、low_stock は併発し得ます。
func ForLot(l lot.Lot, now time.Time) []Alert {
	var out []Alert

	if l.Expired(now) {
		out = append(out, Alert{
			Kind:           KindExpired,
			LotID:          l.ID,
			ItemName:       l.ItemName,
			Category:       l.Category,
			Available:      l.Available,
			ExpirationDate: l.ExpirationDate,
			Message:        fmt.Sprintf("%s: expired on %s with %d %s still available", l.ItemName, l.ExpirationDate.Format("2006-01-02"), l.Available, l.Unit),
		})
	} else if l.ExpiringSoon(now, lot.ExpiringSoonDays) {
		out = append(out, Alert{
			Kind:           KindExpiringSoon,
			LotID:          l.ID,
			ItemName:       l.ItemName,
			Category:       l.Category,
			Available:      l.Available,
			ExpirationDate: l.ExpirationDate,
			Message:        fmt.Sprintf("%s: expires %s (%d %s available)", l.ItemName, l.ExpirationDate.Format("2006-01-02"), l.Available, l.Unit),
		})
	}

	if l.LowStock() {
		out = append(out, Alert{
			Kind:      KindLowStock,
			LotID:     l.ID,
			ItemName:  l.ItemName,
			Category:  l.Category,
			Available: l.Available,
			Message:   fmt.Sprintf("%s: only %d %s left", l.ItemName, l.Available, l.Unit),
		})
	}

	return out
}

// ForLots は複数ロットの警告をまとめて列挙します。
func ForLots(lots []lot.Lot, now time.Time) []Alert {
	var out []Alert
	for _, l := range lots {
		out = append(out, ForLot(l, now)...)
	}
	return out
}
