// internal/domain/donor/repository_port.go
package donor

import (
	"context"

	"savinggrace/internal/domain/common"
)

// Filter は一覧取得の絞り込み条件
type Filter struct {
	Status      Status
	SearchQuery string // Name / ContactName / Email 部分一致
}

type RepositoryPort interface {
	Create(ctx context.Context, d Donor) (Donor, error)
	GetByID(ctx context.Context, id string) (Donor, error)
	Update(ctx context.Context, d Donor) (Donor, error)
	List(ctx context.Context, filter Filter, sort common.Sort, page common.Page) (common.PageResult[Donor], error)
}
