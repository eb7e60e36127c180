// internal/domain/lot/repository_port.go
package lot

import (
	"context"

	"savinggrace/internal/domain/common"
)

// ------------------------------------------------------
// Repository Port for Lot (inventory_lots コレクション)
// ------------------------------------------------------
//
// Hexagonal Architecture における「出力ポート」。
// Firestore などの具体実装は adapters/out 側で実装し、
// ドメイン層からはこのインターフェースのみを参照します。
//
// 数量を動かす操作（Reserve/Commit/Release/Remove）は必ず
// 「expectedVersion 一致」を条件とする単一ドキュメントの条件付き更新です。
// read-then-write を呼び出し側に見せないことで check-then-act 競合を排除します。

// Filter は一覧取得の絞り込み条件
type Filter struct {
	DonationID     string
	Category       Category
	LowStockOnly   bool
	ExpiringBefore *common.TimeRange // ExpirationDate がこの範囲にあるもの
	IncludeZero    bool              // true なら Exhausted なロットも含める
	SearchQuery    string            // ItemName 部分一致
}

type RepositoryPort interface {
	// Create:
	// - 新しいロットを保存します。l.ID が空の場合、実装側で採番して返却します。
	Create(ctx context.Context, l Lot) (Lot, error)

	// GetByID:
	// - id で 1 件取得します。存在しなければ ErrNotFound。
	GetByID(ctx context.Context, id string) (Lot, error)

	// List:
	// - フィルタ + ソート + ページングで一覧取得します。
	List(ctx context.Context, filter Filter, sort common.Sort, page common.Page) (common.PageResult[Lot], error)

	// ListByDonationID:
	// - 寄付 1 件に属するロットを全件取得します。
	ListByDonationID(ctx context.Context, donationID string) ([]Lot, error)

	// Reserve:
	// - version 一致かつ Available >= qty のときだけ Available→Reserved へ移し、
	//   新しい version を返します。
	// - 不一致なら ErrVersionConflict、不足なら *InsufficientError（部分適用なし）。
	Reserve(ctx context.Context, lotID string, qty int64, expectedVersion int64) (int64, error)

	// Commit:
	// - Reserved→Distributed。Reserved < qty なら *StateMismatchError。
	Commit(ctx context.Context, lotID string, qty int64, expectedVersion int64) (int64, error)

	// Release:
	// - Reserved→Available（取消・補償解放）。
	Release(ctx context.Context, lotID string, qty int64, expectedVersion int64) (int64, error)

	// Remove:
	// - Available→Removed（除却）。理由つき。
	Remove(ctx context.Context, lotID string, qty int64, reason RemovalReason, expectedVersion int64) (int64, error)
}
