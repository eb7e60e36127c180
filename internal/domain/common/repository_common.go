// internal/domain/common/repository_common.go
package common

import "time"

// TimeRange は期間フィルタのための共通構造体
type TimeRange struct {
	From *time.Time
	To   *time.Time
}

// Contains は t が範囲内（両端含む）かどうかを返します。
func (r TimeRange) Contains(t time.Time) bool {
	if r.From != nil && t.Before(*r.From) {
		return false
	}
	if r.To != nil && t.After(*r.To) {
		return false
	}
	return true
}

// Sort はソート指定の共通表現
type Sort struct {
	Column string    // カラム名（各ドメイン側で許可カラムをバリデート）
	Order  SortOrder // 昇順/降順
}

// SortOrder はソート順
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Page はオフセットページング指定
type Page struct {
	Number  int // 1-based
	PerPage int // 0 以下は実装側デフォルト
}

// PageResult はページング結果（ジェネリクスでアイテム型を受け取る）
type PageResult[T any] struct {
	Items      []T
	TotalCount int
	TotalPages int
	Page       int
	PerPage    int
}
