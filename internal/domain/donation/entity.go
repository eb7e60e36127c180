// internal/domain/donation/entity.go
package donation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"savinggrace/internal/domain/lot"
)

// Donation は donations コレクションの 1 ドキュメント（= 寄付 1 件）を表します。
// 受付時に Items の各行から在庫ロットが 1 つずつ作られ、その ID が LotIDs に入ります。
// 在庫数量そのものはロット側（inventory_lots）が唯一の正であり、
// Donation は受付記録と領収書の置き場です。
type Donation struct {
	ID           string
	DonorID      string
	DonationDate time.Time
	Items        []Item
	LotIDs       []string
	// ReceiptPath は GCS 上の領収書オブジェクトパス（アップロード後に設定）
	ReceiptPath string
	Notes       string
	Status      Status
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Item は寄付品目 1 行。ロット作成の入力になります。
type Item struct {
	Name            string
	Category        lot.Category
	Quantity        int64
	Unit            string
	ExpirationDate  *time.Time
	StorageLocation string
}

type Status string

const (
	// StatusRecorded: 受付済み（ロット作成済み）
	StatusRecorded Status = "recorded"
)

const (
	maxItemNameLen = 200
	maxUnitLen     = 50
	maxNotesLen    = 2000
)

// Domain errors
var (
	ErrNotFound         = errors.New("donation: not found")
	ErrInvalidID        = errors.New("donation: invalid id")
	ErrInvalidDonorID   = errors.New("donation: invalid donorId")
	ErrInvalidDate      = errors.New("donation: invalid donation date")
	ErrNoItems          = errors.New("donation: at least one item is required")
	ErrInvalidItemName  = errors.New("donation: invalid item name")
	ErrInvalidCategory  = errors.New("donation: invalid item category")
	ErrInvalidQuantity  = errors.New("donation: item quantity must be at least 1")
	ErrInvalidUnit      = errors.New("donation: invalid item unit")
	ErrNotesTooLong     = errors.New("donation: notes too long")
	ErrReceiptPathLong  = errors.New("donation: receipt path too long")
	// ErrHasActivity は「ロットに動きがある寄付は削除できない」ことを表します。
	ErrHasActivity = errors.New("donation: lots already have activity")
)

// New は新規 Donation を作るコンストラクタです。id は repo 側採番のため空でも可。
// LotIDs はロット作成後に repo/usecase 側で設定します。
func New(
	id, donorID string,
	donationDate time.Time,
	items []Item,
	notes, createdBy string,
	now time.Time,
) (Donation, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	d := Donation{
		ID:           strings.TrimSpace(id),
		DonorID:      strings.TrimSpace(donorID),
		DonationDate: donationDate.UTC(),
		Items:        normalizeItems(items),
		Notes:        strings.TrimSpace(notes),
		Status:       StatusRecorded,
		CreatedBy:    strings.TrimSpace(createdBy),
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}
	if err := d.validate(); err != nil {
		return Donation{}, err
	}
	return d, nil
}

// SetLotIDs はロット作成後に対応を記録します（Items と同順・同数）。
func (d *Donation) SetLotIDs(ids []string, now time.Time) error {
	if len(ids) != len(d.Items) {
		return fmt.Errorf("donation %s: lot ids (%d) do not match items (%d)", d.ID, len(ids), len(d.Items))
	}
	d.LotIDs = append([]string(nil), ids...)
	if now.IsZero() {
		now = time.Now().UTC()
	}
	d.UpdatedAt = now.UTC()
	return nil
}

// SetReceiptPath は領収書オブジェクトのパスを記録します。
func (d *Donation) SetReceiptPath(path string, now time.Time) error {
	path = strings.TrimSpace(path)
	if len(path) > 500 {
		return ErrReceiptPathLong
	}
	d.ReceiptPath = path
	if now.IsZero() {
		now = time.Now().UTC()
	}
	d.UpdatedAt = now.UTC()
	return nil
}

// UpdateNotes はメモのみ更新します（品目は受付後に変更しない）。
func (d *Donation) UpdateNotes(notes string, now time.Time) error {
	notes = strings.TrimSpace(notes)
	if len(notes) > maxNotesLen {
		return ErrNotesTooLong
	}
	d.Notes = notes
	if now.IsZero() {
		now = time.Now().UTC()
	}
	d.UpdatedAt = now.UTC()
	return nil
}

// TotalQuantity は全品目の数量合計を返します。
func (d Donation) TotalQuantity() int64 {
	var sum int64
	for _, it := range d.Items {
		sum += it.Quantity
	}
	return sum
}

// Validation

func (d Donation) validate() error {
	if d.DonorID == "" {
		return ErrInvalidDonorID
	}
	if d.DonationDate.IsZero() {
		return ErrInvalidDate
	}
	if len(d.Items) == 0 {
		return ErrNoItems
	}
	for i, it := range d.Items {
		if it.Name == "" || len(it.Name) > maxItemNameLen {
			return fmt.Errorf("%w: item %d", ErrInvalidItemName, i)
		}
		if !lot.IsValidCategory(it.Category) {
			return fmt.Errorf("%w: item %d (%s)", ErrInvalidCategory, i, it.Category)
		}
		if it.Quantity < 1 {
			return fmt.Errorf("%w: item %d", ErrInvalidQuantity, i)
		}
		if it.Unit == "" || len(it.Unit) > maxUnitLen {
			return fmt.Errorf("%w: item %d", ErrInvalidUnit, i)
		}
	}
	if len(d.Notes) > maxNotesLen {
		return ErrNotesTooLong
	}
	return nil
}

func normalizeItems(items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		out = append(out, Item{
			Name:            strings.TrimSpace(it.Name),
			Category:        it.Category,
			Quantity:        it.Quantity,
			Unit:            strings.TrimSpace(it.Unit),
			ExpirationDate:  it.ExpirationDate,
			StorageLocation: strings.TrimSpace(it.StorageLocation),
		})
	}
	return out
}
