// internal/application/usecase/inventory_usecase_test.go
package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"savinggrace/internal/domain/alert"
	"savinggrace/internal/domain/audit"
	lotdom "savinggrace/internal/domain/lot"
	"savinggrace/internal/domain/permission"
)

// invNow はアラート判定を決定的にするための固定時刻
var invNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// ========================================
// Fakes
// ========================================

// fakeAlertGate は Redis SET NX の振る舞い（初回だけ true）を再現します。
type fakeAlertGate struct {
	mu      sync.Mutex
	sent    map[string]bool
	cleared []string
	err     error
}

func newFakeAlertGate() *fakeAlertGate {
	return &fakeAlertGate{sent: map[string]bool{}}
}

func (f *fakeAlertGate) FirstSend(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.sent[key] {
		return false, nil
	}
	f.sent[key] = true
	return true, nil
}

func (f *fakeAlertGate) Clear(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.sent, k)
		f.cleared = append(f.cleared, k)
	}
	return nil
}

func (f *fakeAlertGate) pending(t *testing.T) int {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeAlertMailer は送られたダイジェストを貯めるだけ
type fakeAlertMailer struct {
	mu      sync.Mutex
	digests [][]alert.Alert
	err     error
}

func (f *fakeAlertMailer) SendDigest(ctx context.Context, alerts []alert.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.digests = append(f.digests, append([]alert.Alert(nil), alerts...))
	return nil
}

func (f *fakeAlertMailer) sentCount(t *testing.T) int {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.digests)
}

// ========================================
// Fixture
// ========================================

type invFixture struct {
	uc       *InventoryUsecase
	lots     *fakeLots
	gate     *fakeAlertGate
	mailer   *fakeAlertMailer
	auditLog *fakeAuditRepo
}

func newInvFixture(t *testing.T, lots ...lotdom.Lot) *invFixture {
	t.Helper()
	fl := newFakeLots(lots...)
	g := newFakeAlertGate()
	m := &fakeAlertMailer{}
	ar := &fakeAuditRepo{}
	uc := NewInventoryUsecase(fl, audit.NewService(ar, nil), g, m).WithNow(func() time.Time { return invNow })
	return &invFixture{uc: uc, lots: fl, gate: g, mailer: m, auditLog: ar}
}

// alertLot は期限付きロットを作ります。total < 10 なら作成直後から低在庫です。
func alertLot(t *testing.T, id string, total int64, exp *time.Time) lotdom.Lot {
	t.Helper()
	l, err := lotdom.New(id, "don-1", "Rice 5kg", lotdom.CategoryGrains, "bags", total, exp, "", invNow)
	if err != nil {
		t.Fatalf("lot.New: %v", err)
	}
	return l
}

func datePtr(y int, m time.Month, d int) *time.Time {
	dt := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &dt
}

// ========================================
// Adjust
// ========================================

func TestAdjust_MovesAvailableToRemoved(t *testing.T) {
	fx := newInvFixture(t, testLot(t, "lot-a", 20))

	got, err := fx.uc.Adjust(adminCtx(), AdjustInput{
		LotID:           "lot-a",
		Quantity:        5,
		Reason:          "Damaged", // 大文字混じりでも受け付ける
		Note:            "dropped pallet",
		ExpectedVersion: 1,
	})
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if got.Available != 15 || got.Removed != 5 || got.Version != 2 {
		t.Fatalf("lot after adjust = %+v", got)
	}
	fx.lots.snapshot(t, "lot-a") // 不変条件チェック込み

	entries, _ := fx.auditLog.ListByEntity(context.Background(), "lot", "lot-a", 10)
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Action != audit.ActionLotAdjust || e.EntityID != "lot-a" || e.Quantity != 5 {
		t.Fatalf("audit entry = %+v", e)
	}
	if e.Reason != "damaged" || e.Note != "dropped pallet" || e.ActorID != "staff-1" {
		t.Fatalf("audit entry = %+v", e)
	}
}

func TestAdjust_UnknownReason(t *testing.T) {
	fx := newInvFixture(t, testLot(t, "lot-a", 20))

	_, err := fx.uc.Adjust(adminCtx(), AdjustInput{LotID: "lot-a", Quantity: 5, Reason: "shrinkage", ExpectedVersion: 1})
	if !errors.Is(err, lotdom.ErrInvalidReason) {
		t.Fatalf("err = %v, want ErrInvalidReason", err)
	}
	if l := fx.lots.snapshot(t, "lot-a"); !l.Untouched() {
		t.Fatalf("lot should be untouched: %+v", l)
	}
	if acts := fx.auditLog.actions(t); len(acts) != 0 {
		t.Fatalf("audit actions = %v, want none", acts)
	}
}

func TestAdjust_VersionConflict(t *testing.T) {
	fx := newInvFixture(t, testLot(t, "lot-a", 20))

	_, err := fx.uc.Adjust(adminCtx(), AdjustInput{LotID: "lot-a", Quantity: 5, Reason: "expired", ExpectedVersion: 7})
	if !errors.Is(err, lotdom.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
	if acts := fx.auditLog.actions(t); len(acts) != 0 {
		t.Fatalf("audit actions = %v, want none", acts)
	}
}

func TestAdjust_ExceedsAvailable(t *testing.T) {
	fx := newInvFixture(t, testLot(t, "lot-a", 20))

	_, err := fx.uc.Adjust(adminCtx(), AdjustInput{LotID: "lot-a", Quantity: 50, Reason: "damaged", ExpectedVersion: 1})
	if !errors.Is(err, lotdom.ErrInsufficient) {
		t.Fatalf("err = %v, want ErrInsufficient", err)
	}
	var ie *lotdom.InsufficientError
	if !errors.As(err, &ie) || ie.Shortfall() != 30 {
		t.Fatalf("err = %v, want InsufficientError with shortfall 30", err)
	}
}

func TestAdjust_CapabilityMatrix(t *testing.T) {
	cases := []struct {
		role       permission.Role
		wantDenied bool
	}{
		{permission.RoleAdmin, false},
		{permission.RoleDonorCoordinator, false},
		{permission.RoleDistributionManager, false},
		{permission.RoleVolunteer, true},
		{permission.RoleReadOnly, true},
	}
	for _, tc := range cases {
		t.Run(string(tc.role), func(t *testing.T) {
			fx := newInvFixture(t, testLot(t, "lot-a", 20))
			_, err := fx.uc.Adjust(roleCtx(tc.role), AdjustInput{LotID: "lot-a", Quantity: 1, Reason: "other", ExpectedVersion: 1})
			if tc.wantDenied {
				if !errors.Is(err, permission.ErrDenied) {
					t.Fatalf("err = %v, want ErrDenied", err)
				}
				if acts := fx.auditLog.actions(t); len(acts) != 0 {
					t.Fatalf("denied call must not audit, got %v", acts)
				}
				return
			}
			if err != nil {
				t.Fatalf("Adjust: %v", err)
			}
		})
	}
}

// ========================================
// Alerts
// ========================================

func TestAlerts_Classification(t *testing.T) {
	fx := newInvFixture(t,
		alertLot(t, "lot-low", 5, nil),                             // low_stock のみ
		alertLot(t, "lot-soon", 40, datePtr(2026, time.March, 13)), // 3 日後 → expiring_soon
		alertLot(t, "lot-exp", 20, datePtr(2026, time.March, 8)),   // 期限切れ
		alertLot(t, "lot-both", 5, datePtr(2026, time.March, 8)),   // 期限切れ + 低在庫
		alertLot(t, "lot-ok", 100, datePtr(2026, time.April, 9)),   // 30 日後 → 警告なし
	)

	alerts, err := fx.uc.Alerts(adminCtx())
	if err != nil {
		t.Fatalf("Alerts: %v", err)
	}
	if len(alerts) != 5 {
		t.Fatalf("alerts = %d, want 5: %+v", len(alerts), alerts)
	}

	kinds := map[string][]alert.Kind{}
	for _, a := range alerts {
		kinds[a.LotID] = append(kinds[a.LotID], a.Kind)
	}
	want := map[string][]alert.Kind{
		"lot-low":  {alert.KindLowStock},
		"lot-soon": {alert.KindExpiringSoon},
		"lot-exp":  {alert.KindExpired},
		"lot-both": {alert.KindExpired, alert.KindLowStock},
	}
	for id, w := range want {
		got := kinds[id]
		if len(got) != len(w) {
			t.Fatalf("%s kinds = %v, want %v", id, got, w)
		}
		for i := range w {
			if got[i] != w[i] {
				t.Fatalf("%s kinds = %v, want %v", id, got, w)
			}
		}
	}
	if _, ok := kinds["lot-ok"]; ok {
		t.Fatalf("lot-ok should not alert: %v", kinds["lot-ok"])
	}

	for _, a := range alerts {
		if a.LotID == "lot-exp" {
			if a.ExpirationDate == nil || a.Available != 20 || a.Message == "" {
				t.Fatalf("expired alert missing detail: %+v", a)
			}
		}
	}
}

func TestAlerts_ReadCapabilitySuffices(t *testing.T) {
	fx := newInvFixture(t, alertLot(t, "lot-low", 5, nil))

	alerts, err := fx.uc.Alerts(roleCtx(permission.RoleReadOnly))
	if err != nil {
		t.Fatalf("Alerts as read_only: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
}

// ========================================
// DispatchAlerts
// ========================================

func TestDispatchAlerts_DedupesBetweenRuns(t *testing.T) {
	fx := newInvFixture(t,
		alertLot(t, "lot-low", 5, nil),
		alertLot(t, "lot-exp", 20, datePtr(2026, time.March, 8)),
	)

	first, err := fx.uc.DispatchAlerts(adminCtx())
	if err != nil {
		t.Fatalf("DispatchAlerts: %v", err)
	}
	if first.Active != 2 || first.Sent != 2 || first.Suppressed != 0 {
		t.Fatalf("first = %+v", first)
	}
	if n := fx.mailer.sentCount(t); n != 1 {
		t.Fatalf("digests = %d, want 1", n)
	}

	second, err := fx.uc.DispatchAlerts(adminCtx())
	if err != nil {
		t.Fatalf("DispatchAlerts (2nd): %v", err)
	}
	if second.Active != 2 || second.Sent != 0 || second.Suppressed != 2 {
		t.Fatalf("second = %+v", second)
	}
	if n := fx.mailer.sentCount(t); n != 1 {
		t.Fatalf("digests = %d, want still 1", n)
	}
}

func TestDispatchAlerts_SendFailureRefundsGate(t *testing.T) {
	fx := newInvFixture(t,
		alertLot(t, "lot-low", 5, nil),
		alertLot(t, "lot-exp", 20, datePtr(2026, time.March, 8)),
	)
	sendErr := errors.New("smtp down")
	fx.mailer.err = sendErr

	if _, err := fx.uc.DispatchAlerts(adminCtx()); !errors.Is(err, sendErr) {
		t.Fatalf("err = %v, want send error", err)
	}
	if n := fx.gate.pending(t); n != 0 {
		t.Fatalf("gate should be refunded, pending = %d", n)
	}

	// 障害復旧後の再ディスパッチで同じアラートがもう一度送られる
	fx.mailer.err = nil
	res, err := fx.uc.DispatchAlerts(adminCtx())
	if err != nil {
		t.Fatalf("DispatchAlerts after recovery: %v", err)
	}
	if res.Sent != 2 || res.Suppressed != 0 {
		t.Fatalf("res = %+v, want redelivery of both", res)
	}
}

func TestDispatchAlerts_NoMailerConfigured(t *testing.T) {
	fl := newFakeLots(alertLot(t, "lot-low", 5, nil))
	g := newFakeAlertGate()
	uc := NewInventoryUsecase(fl, audit.NewService(&fakeAuditRepo{}, nil), g, nil).WithNow(func() time.Time { return invNow })

	_, err := uc.DispatchAlerts(adminCtx())
	if !errors.Is(err, ErrAlertMailerNotConfigured) {
		t.Fatalf("err = %v, want ErrAlertMailerNotConfigured", err)
	}
	if n := g.pending(t); n != 0 {
		t.Fatalf("gate should be refunded, pending = %d", n)
	}
}

func TestDispatchAlerts_GateFailureSendsAnyway(t *testing.T) {
	fx := newInvFixture(t, alertLot(t, "lot-low", 5, nil))
	fx.gate.err = errors.New("redis down")

	res, err := fx.uc.DispatchAlerts(adminCtx())
	if err != nil {
		t.Fatalf("DispatchAlerts: %v", err)
	}
	if res.Sent != 1 || res.Suppressed != 0 {
		t.Fatalf("res = %+v, want degraded send", res)
	}
	if n := fx.mailer.sentCount(t); n != 1 {
		t.Fatalf("digests = %d, want 1", n)
	}
}

func TestDispatchAlerts_NothingActive(t *testing.T) {
	fx := newInvFixture(t, alertLot(t, "lot-ok", 100, nil))

	res, err := fx.uc.DispatchAlerts(adminCtx())
	if err != nil {
		t.Fatalf("DispatchAlerts: %v", err)
	}
	if res.Active != 0 || res.Sent != 0 || res.Suppressed != 0 {
		t.Fatalf("res = %+v, want all zero", res)
	}
	if n := fx.mailer.sentCount(t); n != 0 {
		t.Fatalf("digests = %d, want 0", n)
	}
}

func TestDispatchAlerts_RequiresAdjustCapability(t *testing.T) {
	fx := newInvFixture(t, alertLot(t, "lot-low", 5, nil))

	_, err := fx.uc.DispatchAlerts(roleCtx(permission.RoleReadOnly))
	if !errors.Is(err, permission.ErrDenied) {
		t.Fatalf("err = %v, want ErrDenied", err)
	}
	if n := fx.mailer.sentCount(t); n != 0 {
		t.Fatalf("denied dispatch must not send, digests = %d", n)
	}
}
