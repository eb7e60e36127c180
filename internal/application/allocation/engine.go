// internal/application/allocation/engine.go
package allocation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/LerianStudio/lib-uncommons/v2/uncommons/backoff"
	"github.com/google/uuid"

	dist "savinggrace/internal/domain/distribution"
	"savinggrace/internal/domain/lot"
)

// Engine は 1 件の配布要求に対する「全ロット確保 or 全部なし」の引当を担います。
//
// 台帳（lot.RepositoryPort）の条件付き更新だけを同期プリミティブとして使い、
// プロセス間のロックは持ちません:
// - 行はロット ID 順に試行（同時リクエスト間で試行順を固定し、
//   重なり合うロット集合での取り合いを防ぐ）
// - ErrVersionConflict は新しい version を読み直して最大 maxAttempts 回まで再試行
//   （間にジッタ付き指数バックオフを挟む）
// - ErrInsufficient は即中断
// - 途中失敗時は、この試行で確保済みの予約をすべて補償解放してからエラーを返す。
//   解放は呼び出し元 ctx の取り消し後でも完了まで実行する（部分適用を残さない）
type Engine struct {
	lots        lot.RepositoryPort
	maxAttempts int
	retryBase   time.Duration
}

const (
	defaultMaxAttempts = 5
	defaultRetryBase   = 20 * time.Millisecond

	// finalizeTimeout は補償解放・確定パスの上限。呼び出し元 ctx から
	// 切り離した後の暴走を防ぐためのものです。
	finalizeTimeout = 10 * time.Second
)

// Errors
var (
	// ErrContention は再試行上限まで version 競合が続いたことを表します。
	// 呼び出し側にはそのまま再実行してもらう前提（HTTP では 409）。
	ErrContention = errors.New("allocation: concurrent updates kept interrupting the request, try again")
)

// ReservationSet は成功した引当のまとまりです。
// ID は将来作られる Distribution と予約を突き合わせるための相関キー。
type ReservationSet struct {
	ID    string
	Lines []dist.Line
}

func NewEngine(lots lot.RepositoryPort, maxAttempts int) *Engine {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Engine{
		lots:        lots,
		maxAttempts: maxAttempts,
		retryBase:   defaultRetryBase,
	}
}

// Allocate は要求行を検証し、全行の Available→Reserved 移動を行います。
// 戻り値の Lines は要求順のまま、各行に予約時に観測した LotVersion が入ります。
// 1 行でも確保できなければ、確保済み分を解放してから最初の失敗を返します。
func (e *Engine) Allocate(ctx context.Context, lines []dist.Line) (ReservationSet, error) {
	if e == nil || e.lots == nil {
		return ReservationSet{}, errors.New("allocation: engine is not initialized")
	}

	norm, err := dist.NormalizeLines(lines)
	if err != nil {
		return ReservationSet{}, err
	}

	// ロット ID 順の試行順（結果の並びは要求順を維持する）
	order := make([]int, len(norm))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return norm[order[i]].LotID < norm[order[j]].LotID
	})

	reserved := make([]dist.Line, 0, len(norm))
	for _, idx := range order {
		observed, err := e.reserveLine(ctx, norm[idx].LotID, norm[idx].Quantity)
		if err != nil {
			e.rollback(ctx, reserved)
			return ReservationSet{}, err
		}
		norm[idx].LotVersion = observed
		reserved = append(reserved, norm[idx])
	}

	return ReservationSet{ID: uuid.NewString(), Lines: norm}, nil
}

// reserveLine は 1 行分の条件付き Reserve を再試行付きで行い、
// 成功時に観測した version を返します。
func (e *Engine) reserveLine(ctx context.Context, lotID string, qty int64) (int64, error) {
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := backoff.SleepWithContext(ctx, backoff.ExponentialWithJitter(e.retryBase, attempt-1)); err != nil {
				return 0, err
			}
		}

		snap, err := e.lots.GetByID(ctx, lotID)
		if err != nil {
			return 0, err
		}

		if _, err := e.lots.Reserve(ctx, lotID, qty, snap.Version); err != nil {
			if errors.Is(err, lot.ErrVersionConflict) {
				// 数量が減ったとは限らないので、読み直して再試行する
				continue
			}
			return 0, err
		}
		return snap.Version, nil
	}
	return 0, fmt.Errorf("%w: lot %s (%d attempts)", ErrContention, lotID, e.maxAttempts)
}

// rollback はこの試行で確保済みの予約を解放します。
// 解放しきれなかった場合は照合用にログへ残します（エラーは握りつぶさず記録）。
func (e *Engine) rollback(ctx context.Context, reserved []dist.Line) {
	if len(reserved) == 0 {
		return
	}
	if _, failed, err := e.ReleaseLines(ctx, reserved); err != nil {
		log.Printf("[alloc] FATAL: compensating release failed at lot %s qty=%d: %v (manual reconciliation required)",
			failed.LotID, failed.Quantity, err)
	}
}

// CommitLines は予約済み数量を Reserved→Distributed へ確定します。
// 行順に処理し、失敗したらそれ以降には触れず適用済みの行と失敗行を返します。
// claim 済みの確定処理を途中で放棄しないよう、呼び出し元 ctx から切り離して実行します。
func (e *Engine) CommitLines(ctx context.Context, lines []dist.Line) (applied []dist.Line, failed dist.Line, err error) {
	return e.applyLines(ctx, lines, e.lots.Commit)
}

// ReleaseLines は予約済み数量を Reserved→Available へ戻します（取消・補償解放）。
// CommitLines と同じく呼び出し元 ctx から切り離して完了まで実行します。
func (e *Engine) ReleaseLines(ctx context.Context, lines []dist.Line) (applied []dist.Line, failed dist.Line, err error) {
	return e.applyLines(ctx, lines, e.lots.Release)
}

func (e *Engine) applyLines(
	ctx context.Context,
	lines []dist.Line,
	op func(ctx context.Context, lotID string, qty int64, expectedVersion int64) (int64, error),
) (applied []dist.Line, failed dist.Line, err error) {
	if e == nil || e.lots == nil {
		return nil, dist.Line{}, errors.New("allocation: engine is not initialized")
	}

	// 呼び出し元が中断・タイムアウトしても最後まで流す
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	applied = make([]dist.Line, 0, len(lines))
	for _, ln := range lines {
		if err := e.applyLine(dctx, ln, op); err != nil {
			return applied, ln, err
		}
		applied = append(applied, ln)
	}
	return applied, dist.Line{}, nil
}

// applyLine は 1 行分の条件付き更新を再試行付きで適用します。
// version 競合だけが再試行対象で、Reserved 不足（ErrInvalidState）等はそのまま返します。
func (e *Engine) applyLine(
	ctx context.Context,
	ln dist.Line,
	op func(ctx context.Context, lotID string, qty int64, expectedVersion int64) (int64, error),
) error {
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := backoff.SleepWithContext(ctx, backoff.ExponentialWithJitter(e.retryBase, attempt-1)); err != nil {
				return err
			}
		}

		snap, err := e.lots.GetByID(ctx, ln.LotID)
		if err != nil {
			return err
		}
		if _, err := op(ctx, ln.LotID, ln.Quantity, snap.Version); err != nil {
			if errors.Is(err, lot.ErrVersionConflict) {
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("%w: lot %s (%d attempts)", ErrContention, ln.LotID, e.maxAttempts)
}
