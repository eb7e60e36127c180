// internal/domain/user/repository_port.go
package user

import (
	"context"

	"savinggrace/internal/domain/common"
)

// Filter は一覧取得の絞り込み条件
type Filter struct {
	Status      Status
	SearchQuery string // Email / DisplayName 部分一致
}

type RepositoryPort interface {
	// Create:
	// - u.ID（= Firebase UID）を doc ID として保存します。
	Create(ctx context.Context, u User) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	Update(ctx context.Context, u User) (User, error)
	List(ctx context.Context, filter Filter, sort common.Sort, page common.Page) (common.PageResult[User], error)
}
