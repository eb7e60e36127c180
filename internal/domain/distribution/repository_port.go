// internal/domain/distribution/repository_port.go
package distribution

import (
	"context"
	"time"

	"savinggrace/internal/domain/common"
)

// ------------------------------------------------------
// Repository Port for Distribution (distributions コレクション)
// ------------------------------------------------------

// Filter は一覧取得の絞り込み条件
type Filter struct {
	RecipientID string
	Status      Status
	Scheduled   common.TimeRange
	CreatedBy   string
}

type RepositoryPort interface {
	// Create:
	// - planned な Distribution を保存します。d.ID が空の場合、実装側で採番して返却します。
	Create(ctx context.Context, d Distribution) (Distribution, error)

	// GetByID:
	// - id で 1 件取得します。存在しなければ ErrNotFound。
	GetByID(ctx context.Context, id string) (Distribution, error)

	// List:
	// - フィルタ + ソート + ページングで一覧取得します。
	List(ctx context.Context, filter Filter, sort common.Sort, page common.Page) (common.PageResult[Distribution], error)

	// UpdateSchedule:
	// - planned の間だけ日付・メモを更新します。終端なら *TransitionError。
	UpdateSchedule(ctx context.Context, id string, date *time.Time, notes *string, now time.Time) (Distribution, error)

	// ClaimTransition:
	// - planned→to（completed | cancelled）を version 一致の条件付き更新で claim します。
	// - すでに終端なら現在のレコードを (claimed=false) で返します（冪等リトライ用）。
	// - claim 成功時は更新後のレコードを (claimed=true) で返します。
	//   by / notes は遷移に応じて CompletedBy/CompletionNotes または CancelledBy に入ります。
	ClaimTransition(ctx context.Context, id string, to Status, by string, notes string, now time.Time) (Distribution, bool, error)

	// RecordFinalizeError:
	// - claim 後の台帳確定/解放が失敗した際、オペレーター向けの記録を書き込みます。
	RecordFinalizeError(ctx context.Context, id string, detail string, now time.Time) error
}
