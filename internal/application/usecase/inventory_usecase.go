// internal/application/usecase/inventory_usecase.go
package usecase

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"savinggrace/internal/domain/alert"
	"savinggrace/internal/domain/audit"
	"savinggrace/internal/domain/common"
	lotdom "savinggrace/internal/domain/lot"
	"savinggrace/internal/domain/permission"
)

// AlertGate はアラート通知の重複抑止ゲート（Redis SET NX EX 相当）。
// FirstSend はキーが未登録のときだけ true を返して登録します。
// Clear は送信失敗時の払い戻し用です。
type AlertGate interface {
	FirstSend(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context, keys ...string) error
}

// AlertMailer はアラートダイジェストの送信ポート。SendGrid 実装は adapters/out/mail 側。
type AlertMailer interface {
	SendDigest(ctx context.Context, alerts []alert.Alert) error
}

var ErrAlertMailerNotConfigured = errors.New("inventory usecase: alert mailer not configured")

// alertScanPerPage は通知スキャン時の 1 ページ取得件数
const alertScanPerPage = 500

type InventoryUsecase struct {
	lots   lotdom.RepositoryPort
	audit  *audit.Service
	gate   AlertGate   // nil なら毎回「初回」扱い
	mailer AlertMailer // nil でも一覧系は動く
	now    func() time.Time
}

func NewInventoryUsecase(lots lotdom.RepositoryPort, auditSvc *audit.Service, gate AlertGate, mailer AlertMailer) *InventoryUsecase {
	return &InventoryUsecase{
		lots:   lots,
		audit:  auditSvc,
		gate:   gate,
		mailer: mailer,
		now:    time.Now,
	}
}

func (uc *InventoryUsecase) WithNow(now func() time.Time) *InventoryUsecase {
	uc.now = now
	return uc
}

// ========================================
// Queries
// ========================================

func (uc *InventoryUsecase) GetByID(ctx context.Context, id string) (lotdom.Lot, error) {
	if uc == nil || uc.lots == nil {
		return lotdom.Lot{}, errors.New("inventory usecase/repo is nil")
	}
	if _, err := requireActor(ctx, permission.InventoryRead); err != nil {
		return lotdom.Lot{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return lotdom.Lot{}, lotdom.ErrInvalidID
	}
	return uc.lots.GetByID(ctx, id)
}

func (uc *InventoryUsecase) List(ctx context.Context, filter lotdom.Filter, sort common.Sort, page common.Page) (common.PageResult[lotdom.Lot], error) {
	if uc == nil || uc.lots == nil {
		return common.PageResult[lotdom.Lot]{}, errors.New("inventory usecase/repo is nil")
	}
	if _, err := requireActor(ctx, permission.InventoryRead); err != nil {
		return common.PageResult[lotdom.Lot]{}, err
	}
	return uc.lots.List(ctx, filter, sort, page)
}

func (uc *InventoryUsecase) ListByDonationID(ctx context.Context, donationID string) ([]lotdom.Lot, error) {
	if uc == nil || uc.lots == nil {
		return nil, errors.New("inventory usecase/repo is nil")
	}
	if _, err := requireActor(ctx, permission.InventoryRead); err != nil {
		return nil, err
	}
	donationID = strings.TrimSpace(donationID)
	if donationID == "" {
		return nil, lotdom.ErrInvalidDonationID
	}
	return uc.lots.ListByDonationID(ctx, donationID)
}

// ========================================
// Adjust (write-off)
// ========================================

// AdjustInput は手動除却の入力。ExpectedVersion はクライアントが
// 直前に表示していたロットの version で、他の操作が割り込んでいた場合は
// ErrVersionConflict になります（読み直してやり直し）。
type AdjustInput struct {
	LotID           string
	Quantity        int64
	Reason          string
	Note            string
	ExpectedVersion int64
}

// Adjust は Available→Removed の除却（期限切れ・破損などの在庫訂正）です。
// 成功時は更新後のロットを返し、監査ログを 1 行残します。
func (uc *InventoryUsecase) Adjust(ctx context.Context, in AdjustInput) (lotdom.Lot, error) {
	if uc == nil || uc.lots == nil {
		return lotdom.Lot{}, errors.New("inventory usecase/repo is nil")
	}
	actor, err := requireActor(ctx, permission.InventoryAdjust)
	if err != nil {
		return lotdom.Lot{}, err
	}

	lotID := strings.TrimSpace(in.LotID)
	if lotID == "" {
		return lotdom.Lot{}, lotdom.ErrInvalidID
	}
	reason := lotdom.RemovalReason(strings.TrimSpace(strings.ToLower(in.Reason)))
	if !lotdom.IsValidRemovalReason(reason) {
		return lotdom.Lot{}, lotdom.ErrInvalidReason
	}

	newVersion, err := uc.lots.Remove(ctx, lotID, in.Quantity, reason, in.ExpectedVersion)
	if err != nil {
		log.Printf("[inv_uc] adjust rejected lotId=%s qty=%d reason=%s: %v", lotID, in.Quantity, reason, err)
		return lotdom.Lot{}, err
	}

	uc.audit.Record(ctx, audit.Entry{
		ActorID:    actor.ID,
		Action:     audit.ActionLotAdjust,
		EntityKind: "lot",
		EntityID:   lotID,
		Quantity:   in.Quantity,
		Reason:     string(reason),
		Note:       strings.TrimSpace(in.Note),
	})
	log.Printf("[inv_uc] adjusted lotId=%s qty=%d reason=%s newVersion=%d by=%s", lotID, in.Quantity, reason, newVersion, actor.ID)

	return uc.lots.GetByID(ctx, lotID)
}

// ========================================
// Alerts
// ========================================

// Alerts は現在のアラート（低在庫・期限間近・期限切れ）を計算して返します。
// 計算のみで、重複抑止ゲートには触れません。
func (uc *InventoryUsecase) Alerts(ctx context.Context) ([]alert.Alert, error) {
	if uc == nil || uc.lots == nil {
		return nil, errors.New("inventory usecase/repo is nil")
	}
	if _, err := requireActor(ctx, permission.InventoryRead); err != nil {
		return nil, err
	}
	return uc.computeAlerts(ctx)
}

func (uc *InventoryUsecase) computeAlerts(ctx context.Context) ([]alert.Alert, error) {
	now := uc.now().UTC()

	var all []lotdom.Lot
	page := 1
	for {
		res, err := uc.lots.List(ctx, lotdom.Filter{}, common.Sort{}, common.Page{Number: page, PerPage: alertScanPerPage})
		if err != nil {
			return nil, err
		}
		all = append(all, res.Items...)
		if page >= res.TotalPages || len(res.Items) == 0 {
			break
		}
		page++
	}

	return alert.ForLots(all, now), nil
}

// DispatchAlertsResult は通知ディスパッチの内訳
type DispatchAlertsResult struct {
	Active     int // 現時点のアラート総数
	Sent       int // 今回ダイジェストに載せた件数
	Suppressed int // 重複抑止で据え置いた件数
}

// DispatchAlerts はアラートを計算し、未通知分だけをダイジェストメールで送ります。
// 同じロット×種別は TTL の間 1 回しか送りません（ゲートが SET NX で保証）。
// 送信に失敗した場合はゲートを払い戻し、次回のディスパッチで再送されます。
func (uc *InventoryUsecase) DispatchAlerts(ctx context.Context) (DispatchAlertsResult, error) {
	if uc == nil || uc.lots == nil {
		return DispatchAlertsResult{}, errors.New("inventory usecase/repo is nil")
	}
	if _, err := requireActor(ctx, permission.InventoryAdjust); err != nil {
		return DispatchAlertsResult{}, err
	}

	alerts, err := uc.computeAlerts(ctx)
	if err != nil {
		return DispatchAlertsResult{}, err
	}
	res := DispatchAlertsResult{Active: len(alerts)}
	if len(alerts) == 0 {
		return res, nil
	}

	fresh := make([]alert.Alert, 0, len(alerts))
	keys := make([]string, 0, len(alerts))
	for _, a := range alerts {
		if uc.gate == nil {
			fresh = append(fresh, a)
			continue
		}
		first, err := uc.gate.FirstSend(ctx, a.DedupKey())
		if err != nil {
			// ゲート障害時は通知を落とすより重複を許す
			log.Printf("[inv_uc] WARN: alert gate failed key=%s: %v (sending anyway)", a.DedupKey(), err)
			fresh = append(fresh, a)
			continue
		}
		if first {
			fresh = append(fresh, a)
			keys = append(keys, a.DedupKey())
		}
	}
	res.Suppressed = len(alerts) - len(fresh)

	if len(fresh) == 0 {
		log.Printf("[inv_uc] alerts suppressed active=%d (all sent recently)", res.Active)
		return res, nil
	}
	if uc.mailer == nil {
		if uc.gate != nil && len(keys) > 0 {
			if cerr := uc.gate.Clear(ctx, keys...); cerr != nil {
				log.Printf("[inv_uc] WARN: gate clear failed: %v", cerr)
			}
		}
		return res, ErrAlertMailerNotConfigured
	}

	if err := uc.mailer.SendDigest(ctx, fresh); err != nil {
		// 払い戻して次回再送できるようにする
		if uc.gate != nil && len(keys) > 0 {
			if cerr := uc.gate.Clear(ctx, keys...); cerr != nil {
				log.Printf("[inv_uc] WARN: gate clear failed after send error: %v", cerr)
			}
		}
		return res, err
	}

	res.Sent = len(fresh)
	log.Printf("[inv_uc] alert digest sent active=%d sent=%d suppressed=%d", res.Active, res.Sent, res.Suppressed)
	return res, nil
}
