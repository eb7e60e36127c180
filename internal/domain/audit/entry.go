// internal/domain/audit/entry.go
package audit

import (
	"errors"
	"strings"
	"time"
)

// Entry は audit_entries コレクションの 1 ドキュメント（= 監査ログ 1 行）を表します。
// 在庫の除却や配布の作成/確定/取消など、数量が動く操作の痕跡を残します。
type Entry struct {
	ID         string
	ActorID    string // 操作したスタッフの UID
	Action     Action
	EntityKind string // "lot" | "distribution" | "donation"
	EntityID   string
	Quantity   int64  // 動いた数量（対象外の操作は 0）
	Reason     string // 除却理由など
	Note       string
	CreatedAt  time.Time
}

// Action は監査対象の操作種別
type Action string

const (
	ActionLotAdjust            Action = "lot.adjust"
	ActionDistributionCreate   Action = "distribution.create"
	ActionDistributionComplete Action = "distribution.complete"
	ActionDistributionCancel   Action = "distribution.cancel"
	ActionDonationDelete       Action = "donation.delete"
	ActionUserRoleChange       Action = "user.role_change"
)

// Errors
var (
	ErrInvalidAction = errors.New("audit: invalid action")
	ErrInvalidEntity = errors.New("audit: invalid entity reference")
)

func (e Entry) validate() error {
	if strings.TrimSpace(string(e.Action)) == "" {
		return ErrInvalidAction
	}
	if strings.TrimSpace(e.EntityKind) == "" || strings.TrimSpace(e.EntityID) == "" {
		return ErrInvalidEntity
	}
	return nil
}
