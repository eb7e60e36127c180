// internal/domain/lot/entity.go
package lot

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Lot は inventory_lots コレクションの 1 ドキュメント（= 在庫ロット）を表します。
// 寄付 1 件の品目 1 行がそのまま 1 ロットになります。
//
// 数量は 4 つのバケットで管理します:
// - Available:   引当可能
// - Reserved:    planned な配布に予約済み
// - Distributed: 配布済み（確定、戻せない）
// - Removed:     廃棄・期限切れ等で除却
//
// 期待値：
// - Available + Reserved + Distributed + Removed == Total が常に成立
// - 各バケットは非負
// - Version は楽観ロック用の単調増加カウンタ。数量の更新は必ず
//   「version 一致を条件とする条件付き更新」で行います（repository_port.go 参照）
type Lot struct {
	ID         string
	DonationID string
	ItemName   string
	Category   Category
	Unit       string

	Total       int64
	Available   int64
	Reserved    int64
	Distributed int64
	Removed     int64

	ExpirationDate  *time.Time
	StorageLocation string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Category は品目区分
type Category string

const (
	CategoryProduce   Category = "produce"
	CategoryDairy     Category = "dairy"
	CategoryProtein   Category = "protein"
	CategoryGrains    Category = "grains"
	CategoryCanned    Category = "canned"
	CategoryFrozen    Category = "frozen"
	CategoryBeverages Category = "beverages"
	CategoryOther     Category = "other"
)

// AllCategories は定義済みカテゴリの一覧（表示順）
func AllCategories() []Category {
	return []Category{
		CategoryProduce,
		CategoryDairy,
		CategoryProtein,
		CategoryGrains,
		CategoryCanned,
		CategoryFrozen,
		CategoryBeverages,
		CategoryOther,
	}
}

func IsValidCategory(c Category) bool {
	switch c {
	case CategoryProduce, CategoryDairy, CategoryProtein, CategoryGrains,
		CategoryCanned, CategoryFrozen, CategoryBeverages, CategoryOther:
		return true
	}
	return false
}

// RemovalReason は Available→Removed の除却理由
type RemovalReason string

const (
	RemovalExpired         RemovalReason = "expired"
	RemovalDamaged         RemovalReason = "damaged"
	RemovalDonationDeleted RemovalReason = "donation_deleted"
	RemovalOther           RemovalReason = "other"
)

func IsValidRemovalReason(r RemovalReason) bool {
	switch r {
	case RemovalExpired, RemovalDamaged, RemovalDonationDeleted, RemovalOther:
		return true
	}
	return false
}

// アラート閾値（inventory usecase / report query が参照）
const (
	LowStockThreshold = 10 // Available がこの値未満（かつ 0 より大）で low_stock
	ExpiringSoonDays  = 7  // 期限までこの日数以内で expiring_soon
)

// Domain errors
var (
	ErrNotFound          = errors.New("lot: not found")
	ErrInvalidID         = errors.New("lot: invalid id")
	ErrInvalidDonationID = errors.New("lot: invalid donationId")
	ErrInvalidItemName   = errors.New("lot: invalid itemName")
	ErrInvalidCategory   = errors.New("lot: invalid category")
	ErrInvalidUnit       = errors.New("lot: invalid unit")
	ErrInvalidQuantity   = errors.New("lot: quantity must be at least 1")
	ErrInvalidReason     = errors.New("lot: invalid removal reason")
	ErrBrokenInvariant   = errors.New("lot: quantity buckets do not sum to total")

	// ErrVersionConflict は条件付き更新時の version 不一致（= 他プロセスが先に更新）
	ErrVersionConflict = errors.New("lot: version conflict")
	// ErrInsufficient は Available 不足
	ErrInsufficient = errors.New("lot: insufficient quantity available")
	// ErrInvalidState は Reserved 不足（予約確定/解放時の不整合）
	ErrInvalidState = errors.New("lot: reserved quantity mismatch")
)

// InsufficientError は「どのロットで・いくつ要求して・いくつ残っていたか」を
// 呼び出し元へ返すための詳細付きエラーです。errors.Is(err, ErrInsufficient) が成立します。
type InsufficientError struct {
	LotID     string
	Requested int64
	Available int64
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("lot %s: requested %d, available %d", e.LotID, e.Requested, e.Available)
}

func (e *InsufficientError) Unwrap() error { return ErrInsufficient }

// Shortfall は不足数（要求 - 残）を返します。
func (e *InsufficientError) Shortfall() int64 { return e.Requested - e.Available }

// StateMismatchError は Reserved が要求数量に満たないことを表します。
// 通常フローでは起き得ないため、呼び出し側では致命扱いになります。
type StateMismatchError struct {
	LotID     string
	Requested int64
	Reserved  int64
}

func (e *StateMismatchError) Error() string {
	return fmt.Sprintf("lot %s: requested %d, reserved %d", e.LotID, e.Requested, e.Reserved)
}

func (e *StateMismatchError) Unwrap() error { return ErrInvalidState }

// New は寄付品目 1 行からロットを作るコンストラクタです。
// Available = Total、他バケットは 0、Version = 1 で始まります。
// id は repo 側で採番する想定のため空でも可。
func New(
	id string,
	donationID string,
	itemName string,
	category Category,
	unit string,
	total int64,
	expirationDate *time.Time,
	storageLocation string,
	now time.Time,
) (Lot, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	l := Lot{
		ID:              strings.TrimSpace(id),
		DonationID:      strings.TrimSpace(donationID),
		ItemName:        strings.TrimSpace(itemName),
		Category:        category,
		Unit:            strings.TrimSpace(unit),
		Total:           total,
		Available:       total,
		ExpirationDate:  normalizeDate(expirationDate),
		StorageLocation: strings.TrimSpace(storageLocation),
		Version:         1,
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}
	if err := l.validate(); err != nil {
		return Lot{}, err
	}
	return l, nil
}

// ========================================
// Behavior（数量移動）
// ========================================
//
// 各メソッドは 1 回の条件付き更新に対応する純粋な状態遷移で、
// 成功時に Version を 1 進め UpdatedAt を更新します。
// 永続化側（adapters/out/firestore）はトランザクション内で
// これらを呼び出して結果を書き戻します。

// Reserve は Available→Reserved へ qty を移します。
func (l *Lot) Reserve(qty int64, now time.Time) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	if l.Available < qty {
		return &InsufficientError{LotID: l.ID, Requested: qty, Available: l.Available}
	}
	l.Available -= qty
	l.Reserved += qty
	l.bump(now)
	return nil
}

// Commit は Reserved→Distributed へ qty を移します（配布確定）。
func (l *Lot) Commit(qty int64, now time.Time) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	if l.Reserved < qty {
		return &StateMismatchError{LotID: l.ID, Requested: qty, Reserved: l.Reserved}
	}
	l.Reserved -= qty
	l.Distributed += qty
	l.bump(now)
	return nil
}

// Release は Reserved→Available へ qty を戻します（取消・補償解放）。
func (l *Lot) Release(qty int64, now time.Time) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	if l.Reserved < qty {
		return &StateMismatchError{LotID: l.ID, Requested: qty, Reserved: l.Reserved}
	}
	l.Reserved -= qty
	l.Available += qty
	l.bump(now)
	return nil
}

// Remove は Available→Removed へ qty を移します（除却）。
func (l *Lot) Remove(qty int64, reason RemovalReason, now time.Time) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	if !IsValidRemovalReason(reason) {
		return ErrInvalidReason
	}
	if l.Available < qty {
		return &InsufficientError{LotID: l.ID, Requested: qty, Available: l.Available}
	}
	l.Available -= qty
	l.Removed += qty
	l.bump(now)
	return nil
}

func (l *Lot) bump(now time.Time) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	l.Version++
	l.UpdatedAt = now.UTC()
}

// ========================================
// 参照系ヘルパ
// ========================================

// Untouched は作成後に一度も数量が動いていないこと（Available == Total）を返します。
func (l Lot) Untouched() bool {
	return l.Available == l.Total && l.Reserved == 0 && l.Distributed == 0 && l.Removed == 0
}

// Exhausted は引当可能・予約中の数量が尽きたことを返します（レコードは監査用に残る）。
func (l Lot) Exhausted() bool {
	return l.Available == 0 && l.Reserved == 0
}

// LowStock は Available が閾値未満（かつ 0 より大）かどうかを返します。
func (l Lot) LowStock() bool {
	return l.Available > 0 && l.Available < LowStockThreshold
}

// Expired は期限切れ在庫が残っているかどうかを返します。
func (l Lot) Expired(now time.Time) bool {
	if l.ExpirationDate == nil || l.Available <= 0 {
		return false
	}
	return l.ExpirationDate.Before(now.UTC())
}

// ExpiringSoon は days 日以内に期限が来る在庫が残っているかどうかを返します。
func (l Lot) ExpiringSoon(now time.Time, days int) bool {
	if l.ExpirationDate == nil || l.Available <= 0 {
		return false
	}
	if days <= 0 {
		days = ExpiringSoonDays
	}
	limit := now.UTC().AddDate(0, 0, days)
	return !l.ExpirationDate.Before(now.UTC()) && !l.ExpirationDate.After(limit)
}

// CheckInvariant はバケット合計と非負制約を検証します。
// 永続化層がデコード直後の検証にも使います。
func (l Lot) CheckInvariant() error {
	if l.Available < 0 || l.Reserved < 0 || l.Distributed < 0 || l.Removed < 0 {
		return fmt.Errorf("%w: negative bucket (available=%d reserved=%d distributed=%d removed=%d)",
			ErrBrokenInvariant, l.Available, l.Reserved, l.Distributed, l.Removed)
	}
	if l.Available+l.Reserved+l.Distributed+l.Removed != l.Total {
		return fmt.Errorf("%w: %d+%d+%d+%d != %d",
			ErrBrokenInvariant, l.Available, l.Reserved, l.Distributed, l.Removed, l.Total)
	}
	return nil
}

// Validation

func (l Lot) validate() error {
	if strings.TrimSpace(l.DonationID) == "" {
		return ErrInvalidDonationID
	}
	if strings.TrimSpace(l.ItemName) == "" || len(l.ItemName) > 200 {
		return ErrInvalidItemName
	}
	if !IsValidCategory(l.Category) {
		return ErrInvalidCategory
	}
	if strings.TrimSpace(l.Unit) == "" || len(l.Unit) > 50 {
		return ErrInvalidUnit
	}
	if l.Total < 1 {
		return ErrInvalidQuantity
	}
	return l.CheckInvariant()
}

// normalizeDate は日付を UTC の日単位に丸めます（期限は日付粒度で扱う）。
func normalizeDate(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC().Truncate(24 * time.Hour)
	return &u
}
