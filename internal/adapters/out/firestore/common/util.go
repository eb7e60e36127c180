// internal/adapters/out/firestore/common/util.go
package common

import (
	"strings"
	"time"
)

// NormalizePage はページ番号/件数を正規化し、limit/offset を返します。
func NormalizePage(number, perPage, defaultPerPage, maxPerPage int) (page int, limit int, offset int) {
	page = number
	if page <= 0 {
		page = 1
	}
	limit = perPage
	if limit <= 0 {
		limit = defaultPerPage
	}
	if maxPerPage > 0 && limit > maxPerPage {
		limit = maxPerPage
	}
	offset = (page - 1) * limit
	return
}

// ComputeTotalPages は合計件数と1ページあたり件数から総ページ数を計算します。
func ComputeTotalPages(total, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}

// ToLowerString は string ベース型(~string)を安全に小文字化します。
func ToLowerString[T ~string](v T) string {
	return strings.ToLower(string(v))
}

// Ptr は値からポインタを生成する汎用ヘルパー。
func Ptr[T any](v T) *T { return &v }

// TrimPtr returns a trimmed *string, or nil if the pointer is nil or empty.
func TrimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return nil
	}
	return &s
}

// NormalizeTimePtr は nil/Zero の *time.Time を nil にし、
// 非 Zero の場合は UTC に変換した新しい *time.Time を返します。
func NormalizeTimePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	if p.IsZero() {
		return nil
	}
	utc := p.UTC()
	return &utc
}
