// internal/domain/recipient/repository_port.go
package recipient

import (
	"context"

	"savinggrace/internal/domain/common"
)

// Filter は一覧取得の絞り込み条件
type Filter struct {
	Status      Status
	SearchQuery string // Name / Email 部分一致
}

type RepositoryPort interface {
	Create(ctx context.Context, r Recipient) (Recipient, error)
	GetByID(ctx context.Context, id string) (Recipient, error)
	Update(ctx context.Context, r Recipient) (Recipient, error)
	List(ctx context.Context, filter Filter, sort common.Sort, page common.Page) (common.PageResult[Recipient], error)

	// Exists:
	// - 配布作成時の存在チェック用（status は問わず、ドキュメントの有無のみ）。
	Exists(ctx context.Context, id string) (bool, error)
}
