// internal/domain/audit/repository_port.go
package audit

import "context"

// RepositoryPort は監査ログの正本（Firestore）への出力ポート
type RepositoryPort interface {
	// Append:
	// - 監査エントリを追記します。e.ID が空の場合、実装側で採番して返却します。
	Append(ctx context.Context, e Entry) (Entry, error)

	// ListByEntity:
	// - 対象エンティティの履歴を新しい順に最大 limit 件返します。
	ListByEntity(ctx context.Context, entityKind, entityID string, limit int) ([]Entry, error)

	// ListRecent:
	// - 全エンティティ横断の直近の操作を新しい順に最大 limit 件返します。
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
}

// MirrorPort はレポーティング用 DWH（Postgres）への任意ミラー。
// 設定が無い環境では DI が nil のまま組み立てます。
type MirrorPort interface {
	Mirror(ctx context.Context, e Entry) error
}
