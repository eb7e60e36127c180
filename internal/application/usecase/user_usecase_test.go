// internal/application/usecase/user_usecase_test.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"savinggrace/internal/domain/audit"
	"savinggrace/internal/domain/common"
	"savinggrace/internal/domain/permission"
	userdom "savinggrace/internal/domain/user"
)

var userNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// ========================================
// Fakes
// ========================================

// fakeUsers は user.RepositoryPort のインメモリ実装
type fakeUsers struct {
	mu    sync.Mutex
	users map[string]*userdom.User
}

func newFakeUsers(us ...userdom.User) *fakeUsers {
	f := &fakeUsers{users: map[string]*userdom.User{}}
	for _, u := range us {
		cp := u
		f.users[u.ID] = &cp
	}
	return f
}

func (f *fakeUsers) Create(ctx context.Context, u userdom.User) (userdom.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[u.ID]; ok {
		return userdom.User{}, fmt.Errorf("user %s already exists", u.ID)
	}
	cp := u
	f.users[u.ID] = &cp
	return u, nil
}

func (f *fakeUsers) GetByID(ctx context.Context, id string) (userdom.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return userdom.User{}, userdom.ErrNotFound
	}
	return *u, nil
}

func (f *fakeUsers) GetByEmail(ctx context.Context, email string) (userdom.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return *u, nil
		}
	}
	return userdom.User{}, userdom.ErrNotFound
}

func (f *fakeUsers) Update(ctx context.Context, u userdom.User) (userdom.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[u.ID]; !ok {
		return userdom.User{}, userdom.ErrNotFound
	}
	cp := u
	f.users[u.ID] = &cp
	return u, nil
}

func (f *fakeUsers) List(ctx context.Context, filter userdom.Filter, s common.Sort, page common.Page) (common.PageResult[userdom.User], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := make([]userdom.User, 0, len(f.users))
	for _, u := range f.users {
		all = append(all, *u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return common.PageResult[userdom.User]{Items: all, TotalCount: len(all), TotalPages: 1, Page: 1, PerPage: len(all)}, nil
}

// fakeAuthAdmin は Firebase Admin SDK の管理操作を記録します。
type fakeAuthAdmin struct {
	mu        sync.Mutex
	seq       int
	created   []string // CreateAccount に渡された email
	claims    map[string]string
	disabled  []string
	createErr error
	claimErr  error
}

func newFakeAuthAdmin() *fakeAuthAdmin {
	return &fakeAuthAdmin{claims: map[string]string{}}
}

func (f *fakeAuthAdmin) CreateAccount(ctx context.Context, email, password, displayName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.seq++
	f.created = append(f.created, email)
	return fmt.Sprintf("uid-%d", f.seq), nil
}

func (f *fakeAuthAdmin) SetRoleClaim(ctx context.Context, uid string, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return f.claimErr
	}
	f.claims[uid] = role
	return nil
}

func (f *fakeAuthAdmin) DisableAccount(ctx context.Context, uid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled = append(f.disabled, uid)
	return nil
}

func (f *fakeAuthAdmin) claimOf(t *testing.T, uid string) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claims[uid]
}

// ========================================
// Fixture
// ========================================

type userFixture struct {
	uc       *UserUsecase
	users    *fakeUsers
	authn    *fakeAuthAdmin
	auditLog *fakeAuditRepo
}

func newUserFixture(t *testing.T, seed ...userdom.User) *userFixture {
	t.Helper()
	fu := newFakeUsers(seed...)
	fa := newFakeAuthAdmin()
	ar := &fakeAuditRepo{}
	uc := NewUserUsecase(fu, fa, audit.NewService(ar, nil)).WithNow(func() time.Time { return userNow })
	return &userFixture{uc: uc, users: fu, authn: fa, auditLog: ar}
}

func seedUser(t *testing.T, id, email string, role permission.Role) userdom.User {
	t.Helper()
	u, err := userdom.New(id, email, "Seeded Staff", role, "staff-1", userNow.AddDate(0, -1, 0))
	if err != nil {
		t.Fatalf("user.New: %v", err)
	}
	return u
}

// ========================================
// Create
// ========================================

func TestUserCreate_ProvisionsAccountAndSyncsClaim(t *testing.T) {
	fx := newUserFixture(t)

	got, err := fx.uc.Create(adminCtx(), CreateUserInput{
		Email:        "Jordan@Example.org",
		DisplayName:  "Jordan Lee",
		Role:         "volunteer",
		TempPassword: "changeme-123",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got.ID != "uid-1" {
		t.Fatalf("id = %s, want uid-1 from auth admin", got.ID)
	}
	if got.Email != "jordan@example.org" {
		t.Fatalf("email = %s, want lowercased", got.Email)
	}
	if got.Role != permission.RoleVolunteer || got.Status != userdom.StatusActive || got.CreatedBy != "staff-1" {
		t.Fatalf("user = %+v", got)
	}

	if stored, err := fx.users.GetByID(context.Background(), "uid-1"); err != nil || stored.Role != permission.RoleVolunteer {
		t.Fatalf("stored = %+v, err = %v", stored, err)
	}
	if c := fx.authn.claimOf(t, "uid-1"); c != "volunteer" {
		t.Fatalf("role claim = %q, want volunteer", c)
	}
}

func TestUserCreate_InvalidRole(t *testing.T) {
	fx := newUserFixture(t)

	_, err := fx.uc.Create(adminCtx(), CreateUserInput{
		Email:        "jordan@example.org",
		DisplayName:  "Jordan Lee",
		Role:         "warehouse_wizard",
		TempPassword: "changeme-123",
	})
	if !errors.Is(err, permission.ErrInvalidRole) {
		t.Fatalf("err = %v, want ErrInvalidRole", err)
	}
	if len(fx.authn.created) != 0 {
		t.Fatalf("no account should be created, got %v", fx.authn.created)
	}
}

func TestUserCreate_WithoutAuthAdmin(t *testing.T) {
	uc := NewUserUsecase(newFakeUsers(), nil, audit.NewService(&fakeAuditRepo{}, nil))

	_, err := uc.Create(adminCtx(), CreateUserInput{
		Email:        "jordan@example.org",
		DisplayName:  "Jordan Lee",
		Role:         "volunteer",
		TempPassword: "changeme-123",
	})
	if !errors.Is(err, ErrAuthAdminNotConfigured) {
		t.Fatalf("err = %v, want ErrAuthAdminNotConfigured", err)
	}
}

func TestUserCreate_ClaimSyncFailureTolerated(t *testing.T) {
	fx := newUserFixture(t)
	fx.authn.claimErr = errors.New("firebase unavailable")

	got, err := fx.uc.Create(adminCtx(), CreateUserInput{
		Email:        "jordan@example.org",
		DisplayName:  "Jordan Lee",
		Role:         "volunteer",
		TempPassword: "changeme-123",
	})
	if err != nil {
		t.Fatalf("Create should tolerate claim sync failure: %v", err)
	}
	if _, err := fx.users.GetByID(context.Background(), got.ID); err != nil {
		t.Fatalf("user should still be stored: %v", err)
	}
}

func TestUserCreate_RequiresUsersManage(t *testing.T) {
	for _, r := range []permission.Role{
		permission.RoleDonorCoordinator,
		permission.RoleDistributionManager,
		permission.RoleVolunteer,
		permission.RoleReadOnly,
	} {
		t.Run(string(r), func(t *testing.T) {
			fx := newUserFixture(t)
			_, err := fx.uc.Create(roleCtx(r), CreateUserInput{
				Email:        "jordan@example.org",
				DisplayName:  "Jordan Lee",
				Role:         "volunteer",
				TempPassword: "changeme-123",
			})
			if !errors.Is(err, permission.ErrDenied) {
				t.Fatalf("err = %v, want ErrDenied", err)
			}
		})
	}
}

// ========================================
// ChangeRole
// ========================================

func TestUserChangeRole_UpdatesClaimAndAudits(t *testing.T) {
	fx := newUserFixture(t, seedUser(t, "uid-9", "casey@example.org", permission.RoleVolunteer))

	got, err := fx.uc.ChangeRole(adminCtx(), "uid-9", "distribution_manager")
	if err != nil {
		t.Fatalf("ChangeRole: %v", err)
	}
	if got.Role != permission.RoleDistributionManager {
		t.Fatalf("role = %s", got.Role)
	}
	if c := fx.authn.claimOf(t, "uid-9"); c != "distribution_manager" {
		t.Fatalf("role claim = %q", c)
	}

	entries, _ := fx.auditLog.ListByEntity(context.Background(), "user", "uid-9", 10)
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Action != audit.ActionUserRoleChange || e.EntityID != "uid-9" || e.ActorID != "staff-1" {
		t.Fatalf("audit entry = %+v", e)
	}
	if e.Note != "volunteer -> distribution_manager" {
		t.Fatalf("audit note = %q", e.Note)
	}
}

func TestUserChangeRole_InvalidRole(t *testing.T) {
	fx := newUserFixture(t, seedUser(t, "uid-9", "casey@example.org", permission.RoleVolunteer))

	_, err := fx.uc.ChangeRole(adminCtx(), "uid-9", "root")
	if !errors.Is(err, permission.ErrInvalidRole) {
		t.Fatalf("err = %v, want ErrInvalidRole", err)
	}
}

func TestUserChangeRole_UnknownUser(t *testing.T) {
	fx := newUserFixture(t)

	_, err := fx.uc.ChangeRole(adminCtx(), "uid-missing", "volunteer")
	if !errors.Is(err, userdom.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUserChangeRole_RequiresManageRoles(t *testing.T) {
	fx := newUserFixture(t, seedUser(t, "uid-9", "casey@example.org", permission.RoleVolunteer))

	_, err := fx.uc.ChangeRole(roleCtx(permission.RoleDistributionManager), "uid-9", "read_only")
	if !errors.Is(err, permission.ErrDenied) {
		t.Fatalf("err = %v, want ErrDenied", err)
	}
	if acts := fx.auditLog.actions(t); len(acts) != 0 {
		t.Fatalf("denied call must not audit, got %v", acts)
	}
}

// ========================================
// Update / Deactivate
// ========================================

func TestUserUpdate_RenamesOnly(t *testing.T) {
	fx := newUserFixture(t, seedUser(t, "uid-9", "casey@example.org", permission.RoleVolunteer))

	got, err := fx.uc.Update(adminCtx(), "uid-9", "Casey Rivera")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.DisplayName != "Casey Rivera" {
		t.Fatalf("displayName = %s", got.DisplayName)
	}
	if got.Email != "casey@example.org" || got.Role != permission.RoleVolunteer {
		t.Fatalf("email/role must not change: %+v", got)
	}
}

func TestUserDeactivate_DisablesFirebaseAccount(t *testing.T) {
	fx := newUserFixture(t, seedUser(t, "uid-9", "casey@example.org", permission.RoleVolunteer))

	got, err := fx.uc.Deactivate(adminCtx(), "uid-9")
	if err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if got.Status != userdom.StatusInactive {
		t.Fatalf("status = %s", got.Status)
	}
	if len(fx.authn.disabled) != 1 || fx.authn.disabled[0] != "uid-9" {
		t.Fatalf("disabled = %v, want [uid-9]", fx.authn.disabled)
	}
}

func TestUserDeactivate_RejectsSelf(t *testing.T) {
	fx := newUserFixture(t, seedUser(t, "staff-1", "staff@example.org", permission.RoleAdmin))

	_, err := fx.uc.Deactivate(adminCtx(), "staff-1")
	if !errors.Is(err, ErrSelfDeactivation) {
		t.Fatalf("err = %v, want ErrSelfDeactivation", err)
	}
	if u, _ := fx.users.GetByID(context.Background(), "staff-1"); !u.Active() {
		t.Fatalf("account must stay active: %+v", u)
	}
}

// ========================================
// Queries
// ========================================

func TestUserMe(t *testing.T) {
	fx := newUserFixture(t, seedUser(t, "staff-1", "staff@example.org", permission.RoleAdmin))

	got, err := fx.uc.Me(adminCtx())
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if got.ID != "staff-1" || got.Email != "staff@example.org" {
		t.Fatalf("me = %+v", got)
	}

	if _, err := fx.uc.Me(context.Background()); !errors.Is(err, permission.ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
}

func TestUserList_RequiresUsersRead(t *testing.T) {
	fx := newUserFixture(t,
		seedUser(t, "uid-1", "a@example.org", permission.RoleVolunteer),
		seedUser(t, "uid-2", "b@example.org", permission.RoleReadOnly),
	)

	res, err := fx.uc.List(adminCtx(), userdom.Filter{}, common.Sort{}, common.Page{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.TotalCount != 2 {
		t.Fatalf("total = %d, want 2", res.TotalCount)
	}

	if _, err := fx.uc.List(roleCtx(permission.RoleVolunteer), userdom.Filter{}, common.Sort{}, common.Page{}); !errors.Is(err, permission.ErrDenied) {
		t.Fatalf("err = %v, want ErrDenied", err)
	}
}
