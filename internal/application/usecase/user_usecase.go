// internal/application/usecase/user_usecase.go
package usecase

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"savinggrace/internal/domain/audit"
	"savinggrace/internal/domain/common"
	"savinggrace/internal/domain/permission"
	userdom "savinggrace/internal/domain/user"
)

// AuthAdmin は Firebase Authentication 管理 API の出力ポート。
// - CreateAccount はアカウントを作って UID を返します
// - SetRoleClaim は custom claims の "role" を同期します（フロントの表示制御用。
//   権限の強制はあくまでサーバ側の requireActor）
type AuthAdmin interface {
	CreateAccount(ctx context.Context, email, password, displayName string) (string, error)
	SetRoleClaim(ctx context.Context, uid string, role string) error
	DisableAccount(ctx context.Context, uid string) error
}

var (
	ErrAuthAdminNotConfigured = errors.New("user usecase: auth admin not configured")
	ErrSelfDeactivation       = errors.New("user usecase: cannot deactivate own account")
)

type UserUsecase struct {
	users userdom.RepositoryPort
	authn AuthAdmin
	audit *audit.Service
	now   func() time.Time
}

func NewUserUsecase(users userdom.RepositoryPort, authn AuthAdmin, auditSvc *audit.Service) *UserUsecase {
	return &UserUsecase{
		users: users,
		authn: authn,
		audit: auditSvc,
		now:   time.Now,
	}
}

func (uc *UserUsecase) WithNow(now func() time.Time) *UserUsecase {
	uc.now = now
	return uc
}

// CreateUserInput はスタッフアカウント作成の入力
type CreateUserInput struct {
	Email        string
	DisplayName  string
	Role         string
	TempPassword string
}

// Create はスタッフアカウントを作ります。
// Firebase 側のアカウント作成 → users ドキュメント保存 → role claim 同期の順。
// claim 同期の失敗はログに残して続行します（次回の role 変更で追い付く）。
func (uc *UserUsecase) Create(ctx context.Context, in CreateUserInput) (userdom.User, error) {
	if uc == nil || uc.users == nil {
		return userdom.User{}, errors.New("user usecase/repo is nil")
	}
	actor, err := requireActor(ctx, permission.UsersManage)
	if err != nil {
		return userdom.User{}, err
	}
	if uc.authn == nil {
		return userdom.User{}, ErrAuthAdminNotConfigured
	}

	role, err := permission.ParseRole(in.Role)
	if err != nil {
		return userdom.User{}, err
	}

	uid, err := uc.authn.CreateAccount(ctx, in.Email, in.TempPassword, in.DisplayName)
	if err != nil {
		return userdom.User{}, err
	}

	u, err := userdom.New(uid, in.Email, in.DisplayName, role, actor.ID, uc.now().UTC())
	if err != nil {
		return userdom.User{}, err
	}

	created, err := uc.users.Create(ctx, u)
	if err != nil {
		return userdom.User{}, err
	}

	if err := uc.authn.SetRoleClaim(ctx, created.ID, string(created.Role)); err != nil {
		log.Printf("[user_uc] WARN: role claim sync failed uid=%s role=%s: %v", created.ID, created.Role, err)
	}

	log.Printf("[user_uc] created uid=%s email=%s role=%s by=%s", created.ID, created.Email, created.Role, actor.ID)
	return created, nil
}

// ChangeRole は役割を変更し、Firebase の custom claim も同期します。
func (uc *UserUsecase) ChangeRole(ctx context.Context, id string, newRole string) (userdom.User, error) {
	if uc == nil || uc.users == nil {
		return userdom.User{}, errors.New("user usecase/repo is nil")
	}
	actor, err := requireActor(ctx, permission.UsersManageRoles)
	if err != nil {
		return userdom.User{}, err
	}

	role, err := permission.ParseRole(newRole)
	if err != nil {
		return userdom.User{}, err
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return userdom.User{}, userdom.ErrInvalidID
	}

	u, err := uc.users.GetByID(ctx, id)
	if err != nil {
		return userdom.User{}, err
	}
	oldRole := u.Role
	if err := u.SetRole(role, uc.now().UTC()); err != nil {
		return userdom.User{}, err
	}

	updated, err := uc.users.Update(ctx, u)
	if err != nil {
		return userdom.User{}, err
	}

	if uc.authn != nil {
		if err := uc.authn.SetRoleClaim(ctx, updated.ID, string(updated.Role)); err != nil {
			log.Printf("[user_uc] WARN: role claim sync failed uid=%s role=%s: %v", updated.ID, updated.Role, err)
		}
	}

	uc.audit.Record(ctx, audit.Entry{
		ActorID:    actor.ID,
		Action:     audit.ActionUserRoleChange,
		EntityKind: "user",
		EntityID:   updated.ID,
		Note:       string(oldRole) + " -> " + string(updated.Role),
	})
	log.Printf("[user_uc] role changed uid=%s %s -> %s by=%s", updated.ID, oldRole, updated.Role, actor.ID)
	return updated, nil
}

// Update は表示名を変更します。email と role はここでは変えられません
// （email は Firebase 側の識別子、role は ChangeRole 経由のみ）。
func (uc *UserUsecase) Update(ctx context.Context, id string, displayName string) (userdom.User, error) {
	if uc == nil || uc.users == nil {
		return userdom.User{}, errors.New("user usecase/repo is nil")
	}
	actor, err := requireActor(ctx, permission.UsersManage)
	if err != nil {
		return userdom.User{}, err
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return userdom.User{}, userdom.ErrInvalidID
	}

	u, err := uc.users.GetByID(ctx, id)
	if err != nil {
		return userdom.User{}, err
	}
	if err := u.Rename(displayName, uc.now().UTC()); err != nil {
		return userdom.User{}, err
	}

	updated, err := uc.users.Update(ctx, u)
	if err != nil {
		return userdom.User{}, err
	}

	log.Printf("[user_uc] renamed uid=%s by=%s", updated.ID, actor.ID)
	return updated, nil
}

// Deactivate はアカウントを無効化します（自分自身は不可）。
// Firebase 側の無効化も行うため、以後のトークンはサインインから拒否されます。
func (uc *UserUsecase) Deactivate(ctx context.Context, id string) (userdom.User, error) {
	if uc == nil || uc.users == nil {
		return userdom.User{}, errors.New("user usecase/repo is nil")
	}
	actor, err := requireActor(ctx, permission.UsersManage)
	if err != nil {
		return userdom.User{}, err
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return userdom.User{}, userdom.ErrInvalidID
	}
	if id == actor.ID {
		return userdom.User{}, ErrSelfDeactivation
	}

	u, err := uc.users.GetByID(ctx, id)
	if err != nil {
		return userdom.User{}, err
	}
	u.Deactivate(uc.now().UTC())

	updated, err := uc.users.Update(ctx, u)
	if err != nil {
		return userdom.User{}, err
	}

	if uc.authn != nil {
		if err := uc.authn.DisableAccount(ctx, updated.ID); err != nil {
			log.Printf("[user_uc] WARN: firebase disable failed uid=%s: %v", updated.ID, err)
		}
	}

	log.Printf("[user_uc] deactivated uid=%s by=%s", updated.ID, actor.ID)
	return updated, nil
}

// ========================================
// Queries
// ========================================

func (uc *UserUsecase) GetByID(ctx context.Context, id string) (userdom.User, error) {
	if uc == nil || uc.users == nil {
		return userdom.User{}, errors.New("user usecase/repo is nil")
	}
	if _, err := requireActor(ctx, permission.UsersRead); err != nil {
		return userdom.User{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return userdom.User{}, userdom.ErrInvalidID
	}
	return uc.users.GetByID(ctx, id)
}

// Me は認証済みユーザー自身のレコードを返します（capability 不要）。
func (uc *UserUsecase) Me(ctx context.Context) (userdom.User, error) {
	if uc == nil || uc.users == nil {
		return userdom.User{}, errors.New("user usecase/repo is nil")
	}
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return userdom.User{}, permission.ErrUnauthenticated
	}
	return uc.users.GetByID(ctx, actor.ID)
}

func (uc *UserUsecase) List(ctx context.Context, filter userdom.Filter, sort common.Sort, page common.Page) (common.PageResult[userdom.User], error) {
	if uc == nil || uc.users == nil {
		return common.PageResult[userdom.User]{}, errors.New("user usecase/repo is nil")
	}
	if _, err := requireActor(ctx, permission.UsersRead); err != nil {
		return common.PageResult[userdom.User]{}, err
	}
	return uc.users.List(ctx, filter, sort, page)
}
