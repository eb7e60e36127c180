// internal/domain/audit/service.go
package audit

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service は監査ログの書き込み窓口です。
// - 正本（Firestore）へ追記し、設定があれば DWH（Postgres）へベストエフォートでミラー
// - 監査の書き込み失敗で業務操作を失敗させない（ログに残して続行）
type Service struct {
	repo   RepositoryPort
	mirror MirrorPort // 任意（nil 可）
}

func NewService(repo RepositoryPort, mirror MirrorPort) *Service {
	return &Service{repo: repo, mirror: mirror}
}

// Record は ID / CreatedAt を補完して追記します。
func (s *Service) Record(ctx context.Context, e Entry) {
	if s == nil || s.repo == nil {
		return
	}
	if err := e.validate(); err != nil {
		log.Printf("[audit] WARN: dropped invalid entry (%v): action=%s entity=%s/%s", err, e.Action, e.EntityKind, e.EntityID)
		return
	}
	if strings.TrimSpace(e.ID) == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	saved, err := s.repo.Append(ctx, e)
	if err != nil {
		log.Printf("[audit] WARN: append failed: %v (action=%s entity=%s/%s actor=%s)", err, e.Action, e.EntityKind, e.EntityID, e.ActorID)
		return
	}

	if s.mirror != nil {
		if err := s.mirror.Mirror(ctx, saved); err != nil {
			log.Printf("[audit] WARN: mirror failed: %v (id=%s)", err, saved.ID)
		}
	}
}

// History は対象エンティティの履歴を返します。
func (s *Service) History(ctx context.Context, entityKind, entityID string, limit int) ([]Entry, error) {
	if s == nil || s.repo == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListByEntity(ctx, entityKind, entityID, limit)
}

// Recent は全エンティティ横断の直近の操作を返します（ダッシュボード用）。
func (s *Service) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if s == nil || s.repo == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListRecent(ctx, limit)
}
