// internal/application/allocation/engine_test.go
package allocation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"savinggrace/internal/domain/common"
	dist "savinggrace/internal/domain/distribution"
	"savinggrace/internal/domain/lot"
)

// fakeLotRepo は lot.RepositoryPort のインメモリ実装です。
// 本物と同じく「version 一致の条件付き更新」として振る舞い、
// mutex で直列化した上で並行テストに使います。
type fakeLotRepo struct {
	mu   sync.Mutex
	lots map[string]*lot.Lot

	// conflictsLeft[lotID] > 0 の間、条件付き更新を強制的に version 競合にする
	conflictsLeft map[string]int

	// afterReserve は Reserve 成功直後に呼ばれるフック（ctx 取り消しの差し込み用）
	afterReserve func(lotID string)
}

func newFakeLotRepo(ls ...lot.Lot) *fakeLotRepo {
	f := &fakeLotRepo{
		lots:          map[string]*lot.Lot{},
		conflictsLeft: map[string]int{},
	}
	for _, l := range ls {
		cp := l
		f.lots[l.ID] = &cp
	}
	return f
}

func (f *fakeLotRepo) get(id string) (*lot.Lot, error) {
	l, ok := f.lots[id]
	if !ok {
		return nil, lot.ErrNotFound
	}
	return l, nil
}

func (f *fakeLotRepo) Create(ctx context.Context, l lot.Lot) (lot.Lot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := l
	f.lots[l.ID] = &cp
	return l, nil
}

func (f *fakeLotRepo) GetByID(ctx context.Context, id string) (lot.Lot, error) {
	if err := ctx.Err(); err != nil {
		return lot.Lot{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	l, err := f.get(id)
	if err != nil {
		return lot.Lot{}, err
	}
	return *l, nil
}

func (f *fakeLotRepo) List(ctx context.Context, filter lot.Filter, sort common.Sort, page common.Page) (common.PageResult[lot.Lot], error) {
	return common.PageResult[lot.Lot]{}, nil
}

func (f *fakeLotRepo) ListByDonationID(ctx context.Context, donationID string) ([]lot.Lot, error) {
	return nil, nil
}

func (f *fakeLotRepo) Reserve(ctx context.Context, lotID string, qty int64, expectedVersion int64) (int64, error) {
	return f.apply(ctx, lotID, expectedVersion, func(l *lot.Lot) error {
		return l.Reserve(qty, time.Now().UTC())
	}, func() {
		if f.afterReserve != nil {
			f.afterReserve(lotID)
		}
	})
}

func (f *fakeLotRepo) Commit(ctx context.Context, lotID string, qty int64, expectedVersion int64) (int64, error) {
	return f.apply(ctx, lotID, expectedVersion, func(l *lot.Lot) error {
		return l.Commit(qty, time.Now().UTC())
	}, nil)
}

func (f *fakeLotRepo) Release(ctx context.Context, lotID string, qty int64, expectedVersion int64) (int64, error) {
	return f.apply(ctx, lotID, expectedVersion, func(l *lot.Lot) error {
		return l.Release(qty, time.Now().UTC())
	}, nil)
}

func (f *fakeLotRepo) Remove(ctx context.Context, lotID string, qty int64, reason lot.RemovalReason, expectedVersion int64) (int64, error) {
	return f.apply(ctx, lotID, expectedVersion, func(l *lot.Lot) error {
		return l.Remove(qty, reason, time.Now().UTC())
	}, nil)
}

func (f *fakeLotRepo) apply(ctx context.Context, lotID string, expectedVersion int64, mutate func(*lot.Lot) error, after func()) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	l, err := f.get(lotID)
	if err != nil {
		f.mu.Unlock()
		return 0, err
	}
	if f.conflictsLeft[lotID] > 0 {
		f.conflictsLeft[lotID]--
		f.mu.Unlock()
		return 0, lot.ErrVersionConflict
	}
	if l.Version != expectedVersion {
		f.mu.Unlock()
		return 0, lot.ErrVersionConflict
	}
	cp := *l
	if err := mutate(&cp); err != nil {
		f.mu.Unlock()
		return 0, err
	}
	*l = cp
	ver := l.Version
	f.mu.Unlock()

	if after != nil {
		after()
	}
	return ver, nil
}

// snapshot は検証用にロットの複製を返します。
func (f *fakeLotRepo) snapshot(t *testing.T, id string) lot.Lot {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	l, err := f.get(id)
	if err != nil {
		t.Fatalf("snapshot %s: %v", id, err)
	}
	if err := l.CheckInvariant(); err != nil {
		t.Fatalf("invariant broken for %s: %v", id, err)
	}
	return *l
}

func newTestEngine(repo *fakeLotRepo, maxAttempts int) *Engine {
	e := NewEngine(repo, maxAttempts)
	e.retryBase = time.Microsecond // テストではバックオフ待ちを事実上無効化
	return e
}

func makeLot(t *testing.T, id string, total int64) lot.Lot {
	t.Helper()
	l, err := lot.New(id, "don-1", "Rice", lot.CategoryGrains, "bags", total, nil, "", time.Now().UTC())
	if err != nil {
		t.Fatalf("lot.New: %v", err)
	}
	return l
}

func TestAllocate_SingleLot(t *testing.T) {
	repo := newFakeLotRepo(makeLot(t, "lot-a", 10))
	e := newTestEngine(repo, 0)

	set, err := e.Allocate(context.Background(), []dist.Line{{LotID: "lot-a", Quantity: 10}})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if set.ID == "" {
		t.Fatalf("reservation set id should be assigned")
	}
	if len(set.Lines) != 1 || set.Lines[0].LotVersion != 1 {
		t.Fatalf("lines = %+v", set.Lines)
	}

	l := repo.snapshot(t, "lot-a")
	if l.Available != 0 || l.Reserved != 10 {
		t.Fatalf("buckets = available=%d reserved=%d", l.Available, l.Reserved)
	}
}

func TestAllocate_InsufficientLeavesLotUntouched(t *testing.T) {
	repo := newFakeLotRepo(makeLot(t, "lot-a", 10))
	e := newTestEngine(repo, 0)

	if _, err := e.Allocate(context.Background(), []dist.Line{{LotID: "lot-a", Quantity: 10}}); err != nil {
		t.Fatalf("first allocate: %v", err)
	}

	_, err := e.Allocate(context.Background(), []dist.Line{{LotID: "lot-a", Quantity: 1}})
	if !errors.Is(err, lot.ErrInsufficient) {
		t.Fatalf("err = %v, want ErrInsufficient", err)
	}
	var ie *lot.InsufficientError
	if !errors.As(err, &ie) {
		t.Fatalf("err %T has no detail", err)
	}
	if ie.LotID != "lot-a" || ie.Requested != 1 || ie.Available != 0 {
		t.Fatalf("detail = %+v", ie)
	}

	l := repo.snapshot(t, "lot-a")
	if l.Available != 0 || l.Reserved != 10 {
		t.Fatalf("lot changed by failed allocate: %+v", l)
	}
}

func TestAllocate_DuplicateLotRejectedBeforeMutation(t *testing.T) {
	repo := newFakeLotRepo(makeLot(t, "lot-a", 10))
	e := newTestEngine(repo, 0)

	_, err := e.Allocate(context.Background(), []dist.Line{
		{LotID: "lot-a", Quantity: 1},
		{LotID: "lot-a", Quantity: 2},
	})
	if !errors.Is(err, dist.ErrDuplicateLot) {
		t.Fatalf("err = %v, want ErrDuplicateLot", err)
	}

	if l := repo.snapshot(t, "lot-a"); !l.Untouched() {
		t.Fatalf("lot touched by rejected request: %+v", l)
	}
}

func TestAllocate_InvalidQuantityRejectedBeforeMutation(t *testing.T) {
	repo := newFakeLotRepo(makeLot(t, "lot-a", 10))
	e := newTestEngine(repo, 0)

	_, err := e.Allocate(context.Background(), []dist.Line{{LotID: "lot-a", Quantity: 0}})
	if !errors.Is(err, dist.ErrInvalidQuantity) {
		t.Fatalf("err = %v, want ErrInvalidQuantity", err)
	}
	if l := repo.snapshot(t, "lot-a"); !l.Untouched() {
		t.Fatalf("lot touched by rejected request: %+v", l)
	}
}

func TestAllocate_PartialFailureRollsBack(t *testing.T) {
	repo := newFakeLotRepo(makeLot(t, "lot-a", 10), makeLot(t, "lot-b", 2))
	e := newTestEngine(repo, 0)

	_, err := e.Allocate(context.Background(), []dist.Line{
		{LotID: "lot-a", Quantity: 5},
		{LotID: "lot-b", Quantity: 5},
	})
	if !errors.Is(err, lot.ErrInsufficient) {
		t.Fatalf("err = %v, want ErrInsufficient", err)
	}
	if !strings.Contains(err.Error(), "lot-b") {
		t.Fatalf("error should name the failing lot: %v", err)
	}

	a := repo.snapshot(t, "lot-a")
	if a.Available != 10 || a.Reserved != 0 {
		t.Fatalf("lot-a not rolled back: %+v", a)
	}
	b := repo.snapshot(t, "lot-b")
	if b.Available != 2 || b.Reserved != 0 {
		t.Fatalf("lot-b changed: %+v", b)
	}
}

func TestAllocate_RoundTripRestoresQuantities(t *testing.T) {
	repo := newFakeLotRepo(makeLot(t, "lot-a", 10), makeLot(t, "lot-b", 7))
	e := newTestEngine(repo, 0)

	set, err := e.Allocate(context.Background(), []dist.Line{
		{LotID: "lot-a", Quantity: 4},
		{LotID: "lot-b", Quantity: 7},
	})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if _, _, err := e.ReleaseLines(context.Background(), set.Lines); err != nil {
		t.Fatalf("ReleaseLines: %v", err)
	}

	a := repo.snapshot(t, "lot-a")
	b := repo.snapshot(t, "lot-b")
	if a.Available != 10 || a.Reserved != 0 || b.Available != 7 || b.Reserved != 0 {
		t.Fatalf("quantities not restored: a=%+v b=%+v", a, b)
	}
}

func TestAllocate_RetriesThroughConflicts(t *testing.T) {
	repo := newFakeLotRepo(makeLot(t, "lot-a", 10))
	repo.conflictsLeft["lot-a"] = 3
	e := newTestEngine(repo, 5)

	set, err := e.Allocate(context.Background(), []dist.Line{{LotID: "lot-a", Quantity: 2}})
	if err != nil {
		t.Fatalf("Allocate should survive 3 conflicts: %v", err)
	}
	if len(set.Lines) != 1 {
		t.Fatalf("lines = %+v", set.Lines)
	}

	l := repo.snapshot(t, "lot-a")
	if l.Available != 8 || l.Reserved != 2 {
		t.Fatalf("buckets = %+v", l)
	}
}

func TestAllocate_ContentionExhaustsRetries(t *testing.T) {
	repo := newFakeLotRepo(makeLot(t, "lot-a", 10))
	repo.conflictsLeft["lot-a"] = 100
	e := newTestEngine(repo, 5)

	_, err := e.Allocate(context.Background(), []dist.Line{{LotID: "lot-a", Quantity: 2}})
	if !errors.Is(err, ErrContention) {
		t.Fatalf("err = %v, want ErrContention", err)
	}
	if !strings.Contains(err.Error(), "lot-a") {
		t.Fatalf("error should name the lot: %v", err)
	}
}

func TestAllocate_NoOversellUnderConcurrency(t *testing.T) {
	const (
		initial    = 10
		contenders = 20
	)
	repo := newFakeLotRepo(makeLot(t, "hot", initial))
	e := newTestEngine(repo, 50)

	var (
		wg           sync.WaitGroup
		successes    atomic.Int32
		insufficient atomic.Int32
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Allocate(context.Background(), []dist.Line{{LotID: "hot", Quantity: 1}})
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, lot.ErrInsufficient):
				insufficient.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	l := repo.snapshot(t, "hot")
	if got := successes.Load(); got != initial {
		t.Fatalf("successes = %d, want %d", got, initial)
	}
	if insufficient.Load() != contenders-initial {
		t.Fatalf("insufficient = %d, want %d", insufficient.Load(), contenders-initial)
	}
	if l.Available != 0 || l.Reserved != initial {
		t.Fatalf("lot oversold or undersold: %+v", l)
	}
}

func TestAllocate_AbandonedCallerStillRollsBack(t *testing.T) {
	repo := newFakeLotRepo(makeLot(t, "lot-a", 10), makeLot(t, "lot-b", 10))
	e := newTestEngine(repo, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// lot-a の予約が入った直後に呼び出し元が離脱するケース
	repo.afterReserve = func(lotID string) {
		if lotID == "lot-a" {
			cancel()
		}
	}

	_, err := e.Allocate(ctx, []dist.Line{
		{LotID: "lot-a", Quantity: 3},
		{LotID: "lot-b", Quantity: 3},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	// 補償解放は ctx 取り消し後でも完了している
	a := repo.snapshot(t, "lot-a")
	if a.Available != 10 || a.Reserved != 0 {
		t.Fatalf("lot-a reservation leaked: %+v", a)
	}
	b := repo.snapshot(t, "lot-b")
	if !b.Untouched() {
		t.Fatalf("lot-b should be untouched: %+v", b)
	}
}

func TestCommitLines(t *testing.T) {
	repo := newFakeLotRepo(makeLot(t, "lot-a", 10))
	e := newTestEngine(repo, 0)

	set, err := e.Allocate(context.Background(), []dist.Line{{LotID: "lot-a", Quantity: 10}})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	applied, _, err := e.CommitLines(context.Background(), set.Lines)
	if err != nil {
		t.Fatalf("CommitLines: %v", err)
	}
	if len(applied) != 1 {
		t.Fatalf("applied = %+v", applied)
	}

	l := repo.snapshot(t, "lot-a")
	if l.Available != 0 || l.Reserved != 0 || l.Distributed != 10 {
		t.Fatalf("buckets = %+v", l)
	}
}

func TestCommitLines_StopsAtFirstFailure(t *testing.T) {
	repo := newFakeLotRepo(makeLot(t, "lot-a", 10), makeLot(t, "lot-b", 10))
	e := newTestEngine(repo, 5)

	set, err := e.Allocate(context.Background(), []dist.Line{
		{LotID: "lot-a", Quantity: 4},
		{LotID: "lot-b", Quantity: 4},
	})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	// 通常フローの外で lot-b の予約が消えた（= 台帳の不整合）状況を作る
	bSnap := repo.snapshot(t, "lot-b")
	if _, err := repo.Release(context.Background(), "lot-b", 4, bSnap.Version); err != nil {
		t.Fatalf("setup release: %v", err)
	}

	applied, failed, err := e.CommitLines(context.Background(), set.Lines)
	if !errors.Is(err, lot.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if len(applied) != 1 || applied[0].LotID != "lot-a" {
		t.Fatalf("applied = %+v", applied)
	}
	if failed.LotID != "lot-b" {
		t.Fatalf("failed = %+v", failed)
	}

	// lot-a は確定済み、lot-b には触れていない
	a := repo.snapshot(t, "lot-a")
	if a.Distributed != 4 {
		t.Fatalf("lot-a = %+v", a)
	}
	b := repo.snapshot(t, "lot-b")
	if b.Distributed != 0 || b.Available != 10 {
		t.Fatalf("lot-b = %+v", b)
	}
}

func TestCommitLines_SurvivesCancelledCaller(t *testing.T) {
	repo := newFakeLotRepo(makeLot(t, "lot-a", 10))
	e := newTestEngine(repo, 0)

	set, err := e.Allocate(context.Background(), []dist.Line{{LotID: "lot-a", Quantity: 10}})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // 呼び出し元はすでに離脱している

	if _, _, err := e.CommitLines(ctx, set.Lines); err != nil {
		t.Fatalf("CommitLines should run detached from caller ctx: %v", err)
	}

	l := repo.snapshot(t, "lot-a")
	if l.Distributed != 10 {
		t.Fatalf("buckets = %+v", l)
	}
}
