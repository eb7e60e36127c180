// internal/domain/donation/repository_port.go
package donation

import (
	"context"
	"time"

	"savinggrace/internal/domain/common"
)

// Filter は一覧取得の絞り込み条件
type Filter struct {
	DonorID string
	Donated common.TimeRange
}

type RepositoryPort interface {
	Create(ctx context.Context, d Donation) (Donation, error)
	GetByID(ctx context.Context, id string) (Donation, error)
	Update(ctx context.Context, d Donation) (Donation, error)

	// Delete:
	// - 受付記録を物理削除します。ロット側の除却（write-off）は usecase が先に行います。
	Delete(ctx context.Context, id string) error

	List(ctx context.Context, filter Filter, sort common.Sort, page common.Page) (common.PageResult[Donation], error)
	ListByDonorID(ctx context.Context, donorID string) ([]Donation, error)

	// SetReceiptPath:
	// - 領収書オブジェクトのパスを記録します。
	SetReceiptPath(ctx context.Context, id string, path string, now time.Time) (Donation, error)
}
