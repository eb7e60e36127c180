// internal/application/usecase/distribution_usecase.go
package usecase

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"savinggrace/internal/application/allocation"
	"savinggrace/internal/domain/audit"
	"savinggrace/internal/domain/common"
	distdom "savinggrace/internal/domain/distribution"
	"savinggrace/internal/domain/permission"
	recipientdom "savinggrace/internal/domain/recipient"
)

// DistributionUsecase は配布のライフサイクル（plan → complete | cancel）を司ります。
//
// 予約（Available→Reserved）は allocation.Engine に委譲し、終端遷移は
// 「状態 claim → 台帳確定」の順で行います。claim が version 一致の条件付き
// 更新なので、同じ配布への並行 Complete/Cancel はどちらか一方しか台帳に
// 触れません（負けた側は現状をそのまま受け取ります）。
type DistributionUsecase struct {
	dists      distdom.RepositoryPort
	recipients recipientdom.RepositoryPort
	engine     *allocation.Engine
	audit      *audit.Service
	now        func() time.Time
}

func NewDistributionUsecase(
	dists distdom.RepositoryPort,
	recipients recipientdom.RepositoryPort,
	engine *allocation.Engine,
	auditSvc *audit.Service,
) *DistributionUsecase {
	return &DistributionUsecase{
		dists:      dists,
		recipients: recipients,
		engine:     engine,
		audit:      auditSvc,
		now:        time.Now,
	}
}

func (uc *DistributionUsecase) WithNow(now func() time.Time) *DistributionUsecase {
	uc.now = now
	return uc
}

// DistributionLineInput は配布 1 行の要求（lotId と数量）
type DistributionLineInput struct {
	LotID    string
	Quantity int64
}

type PlanDistributionInput struct {
	RecipientID   string
	ScheduledDate time.Time
	Lines         []DistributionLineInput
	Notes         string
}

// Plan は配布計画を作ります。
// 全行の予約が取れたときだけ planned な Distribution が保存されます。
// 1 行でも確保できなければ在庫には何も残りません（エンジン側で補償解放）。
// 予約後の保存に失敗した場合も予約を解放してから失敗を返します。
func (uc *DistributionUsecase) Plan(ctx context.Context, in PlanDistributionInput) (distdom.Distribution, error) {
	if uc == nil || uc.dists == nil || uc.recipients == nil || uc.engine == nil {
		return distdom.Distribution{}, errors.New("distribution usecase/repo is nil")
	}
	actor, err := requireActor(ctx, permission.DistributionsCreate)
	if err != nil {
		return distdom.Distribution{}, err
	}

	recipientID := strings.TrimSpace(in.RecipientID)
	if recipientID == "" {
		return distdom.Distribution{}, distdom.ErrInvalidRecipientID
	}
	if in.ScheduledDate.IsZero() {
		return distdom.Distribution{}, distdom.ErrInvalidDate
	}

	ok, err := uc.recipients.Exists(ctx, recipientID)
	if err != nil {
		return distdom.Distribution{}, err
	}
	if !ok {
		return distdom.Distribution{}, recipientdom.ErrNotFound
	}

	lines := make([]distdom.Line, 0, len(in.Lines))
	for _, ln := range in.Lines {
		lines = append(lines, distdom.Line{LotID: ln.LotID, Quantity: ln.Quantity})
	}

	set, err := uc.engine.Allocate(ctx, lines)
	if err != nil {
		return distdom.Distribution{}, err
	}

	now := uc.now().UTC()
	d, err := distdom.New("", recipientID, set.Lines, set.ID, in.ScheduledDate, in.Notes, actor.ID, now)
	if err != nil {
		uc.releaseAfterFailure(ctx, set, "entity build")
		return distdom.Distribution{}, err
	}

	created, err := uc.dists.Create(ctx, d)
	if err != nil {
		uc.releaseAfterFailure(ctx, set, "create")
		return distdom.Distribution{}, err
	}

	uc.audit.Record(ctx, audit.Entry{
		ActorID:    actor.ID,
		Action:     audit.ActionDistributionCreate,
		EntityKind: "distribution",
		EntityID:   created.ID,
		Quantity:   created.TotalQuantity(),
		Note:       "recipient=" + created.RecipientID,
	})
	log.Printf("[dist_uc] planned distributionId=%s recipientId=%s lines=%d totalQty=%d by=%s",
		created.ID, created.RecipientID, len(created.Lines), created.TotalQuantity(), actor.ID)
	return created, nil
}

// releaseAfterFailure は「予約は取れたがその後の工程で失敗した」ときの補償解放。
// ここで解放しきれないと予約が宙に浮くので、失敗は FATAL として記録します。
func (uc *DistributionUsecase) releaseAfterFailure(ctx context.Context, set allocation.ReservationSet, stage string) {
	if _, failed, err := uc.engine.ReleaseLines(ctx, set.Lines); err != nil {
		log.Printf("[dist_uc] FATAL: release after %s failure failed reservationSet=%s lotId=%s: %v (manual reconciliation required)",
			stage, set.ID, failed.LotID, err)
	}
}

// Complete は配布を確定します（Reserved→Distributed）。
//
// 1. planned→completed を version 一致で claim する
// 2. claim できた呼び出しだけが台帳確定（CommitLines）を行う
//
// すでに終端（completed / cancelled）の場合は現状をそのまま返します。
// 再送や先行した cancel と交錯しても台帳には触れず、呼び出し側は
// 返ってきた status で結果を判断できます。
// claim 後の確定が途中で失敗した場合は *CompletionFailedError を返し、
// 配布に finalizeError を記録します（要オペレーター照合）。
func (uc *DistributionUsecase) Complete(ctx context.Context, id string, completionNotes string) (distdom.Distribution, error) {
	if uc == nil || uc.dists == nil || uc.engine == nil {
		return distdom.Distribution{}, errors.New("distribution usecase/repo is nil")
	}
	actor, err := requireActor(ctx, permission.DistributionsComplete)
	if err != nil {
		return distdom.Distribution{}, err
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return distdom.Distribution{}, distdom.ErrInvalidID
	}

	now := uc.now().UTC()
	claimed, won, err := uc.dists.ClaimTransition(ctx, id, distdom.StatusCompleted, actor.ID, completionNotes, now)
	if err != nil {
		return distdom.Distribution{}, err
	}
	if !won {
		log.Printf("[dist_uc] complete no-op distributionId=%s status=%s", id, claimed.Status)
		return claimed, nil
	}

	applied, failed, err := uc.engine.CommitLines(ctx, claimed.Lines)
	if err != nil {
		ferr := &distdom.CompletionFailedError{
			ID:        claimed.ID,
			Op:        "complete",
			Committed: applied,
			Failed:    failed,
			Cause:     err,
		}
		log.Printf("[dist_uc] FATAL: ledger commit failed distributionId=%s: %v (manual reconciliation required)", claimed.ID, ferr)
		if rerr := uc.dists.RecordFinalizeError(ctx, claimed.ID, ferr.Error(), uc.now().UTC()); rerr != nil {
			log.Printf("[dist_uc] WARN: finalize error not recorded distributionId=%s: %v", claimed.ID, rerr)
		}
		return distdom.Distribution{}, ferr
	}

	uc.audit.Record(ctx, audit.Entry{
		ActorID:    actor.ID,
		Action:     audit.ActionDistributionComplete,
		EntityKind: "distribution",
		EntityID:   claimed.ID,
		Quantity:   claimed.TotalQuantity(),
	})
	log.Printf("[dist_uc] completed distributionId=%s lines=%d totalQty=%d by=%s",
		claimed.ID, len(claimed.Lines), claimed.TotalQuantity(), actor.ID)
	return claimed, nil
}

// Cancel は配布を取り消します（Reserved→Available）。
// Complete と同じ claim-first で、すでに終端なら現状を返すだけです
// （completed 済みへの cancel も既存レコードを返し、台帳には触れません）。
func (uc *DistributionUsecase) Cancel(ctx context.Context, id string) (distdom.Distribution, error) {
	if uc == nil || uc.dists == nil || uc.engine == nil {
		return distdom.Distribution{}, errors.New("distribution usecase/repo is nil")
	}
	actor, err := requireActor(ctx, permission.DistributionsCancel)
	if err != nil {
		return distdom.Distribution{}, err
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return distdom.Distribution{}, distdom.ErrInvalidID
	}

	now := uc.now().UTC()
	claimed, won, err := uc.dists.ClaimTransition(ctx, id, distdom.StatusCancelled, actor.ID, "", now)
	if err != nil {
		return distdom.Distribution{}, err
	}
	if !won {
		log.Printf("[dist_uc] cancel no-op distributionId=%s status=%s", id, claimed.Status)
		return claimed, nil
	}

	applied, failed, err := uc.engine.ReleaseLines(ctx, claimed.Lines)
	if err != nil {
		ferr := &distdom.CompletionFailedError{
			ID:        claimed.ID,
			Op:        "cancel",
			Committed: applied,
			Failed:    failed,
			Cause:     err,
		}
		log.Printf("[dist_uc] FATAL: ledger release failed distributionId=%s: %v (manual reconciliation required)", claimed.ID, ferr)
		if rerr := uc.dists.RecordFinalizeError(ctx, claimed.ID, ferr.Error(), uc.now().UTC()); rerr != nil {
			log.Printf("[dist_uc] WARN: finalize error not recorded distributionId=%s: %v", claimed.ID, rerr)
		}
		return distdom.Distribution{}, ferr
	}

	uc.audit.Record(ctx, audit.Entry{
		ActorID:    actor.ID,
		Action:     audit.ActionDistributionCancel,
		EntityKind: "distribution",
		EntityID:   claimed.ID,
		Quantity:   claimed.TotalQuantity(),
	})
	log.Printf("[dist_uc] cancelled distributionId=%s lines=%d by=%s", claimed.ID, len(claimed.Lines), actor.ID)
	return claimed, nil
}

// Reschedule は planned の間だけ予定日・メモを更新します。
// 行（lotId / 数量）の変更は不可で、その場合は cancel → 新規 plan の運用です。
func (uc *DistributionUsecase) Reschedule(ctx context.Context, id string, date *time.Time, notes *string) (distdom.Distribution, error) {
	if uc == nil || uc.dists == nil {
		return distdom.Distribution{}, errors.New("distribution usecase/repo is nil")
	}
	if _, err := requireActor(ctx, permission.DistributionsUpdate); err != nil {
		return distdom.Distribution{}, err
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return distdom.Distribution{}, distdom.ErrInvalidID
	}
	return uc.dists.UpdateSchedule(ctx, id, date, notes, uc.now().UTC())
}

// ========================================
// Queries
// ========================================

func (uc *DistributionUsecase) GetByID(ctx context.Context, id string) (distdom.Distribution, error) {
	if uc == nil || uc.dists == nil {
		return distdom.Distribution{}, errors.New("distribution usecase/repo is nil")
	}
	if _, err := requireActor(ctx, permission.DistributionsRead); err != nil {
		return distdom.Distribution{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return distdom.Distribution{}, distdom.ErrInvalidID
	}
	return uc.dists.GetByID(ctx, id)
}

func (uc *DistributionUsecase) List(ctx context.Context, filter distdom.Filter, sort common.Sort, page common.Page) (common.PageResult[distdom.Distribution], error) {
	if uc == nil || uc.dists == nil {
		return common.PageResult[distdom.Distribution]{}, errors.New("distribution usecase/repo is nil")
	}
	if _, err := requireActor(ctx, permission.DistributionsRead); err != nil {
		return common.PageResult[distdom.Distribution]{}, err
	}
	return uc.dists.List(ctx, filter, sort, page)
}
