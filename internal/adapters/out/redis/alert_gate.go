// internal/adapters/out/redis/alert_gate.go
package redis

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"savinggrace/internal/application/usecase"
)

// AlertGate は Redis 上の SET NX EX による通知の重複抑止ゲートです。
// - FirstSend: キーが未登録なら登録して true（= このアラートは初回）
// - Clear: 送信失敗時の払い戻し
// キーは alert.DedupKey()（lot ID + 種別）単位。TTL が切れると同じアラートでも再通知されます。
const (
	alertKeyPrefix = "alert:sent:"
	alertSentTTL   = 6 * 24 * time.Hour
)

type AlertGate struct {
	client *redis.Client
}

func NewAlertGate(client *redis.Client) *AlertGate {
	return &AlertGate{client: client}
}

// Compile-time check
var _ usecase.AlertGate = (*AlertGate)(nil)

func (g *AlertGate) FirstSend(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, nil
	}
	ok, err := g.client.SetNX(ctx, alertKeyPrefix+key, 1, alertSentTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (g *AlertGate) Clear(ctx context.Context, keys ...string) error {
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		full = append(full, alertKeyPrefix+k)
	}
	if len(full) == 0 {
		return nil
	}
	return g.client.Del(ctx, full...).Err()
}
