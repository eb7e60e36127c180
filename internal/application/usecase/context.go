// internal/application/usecase/context.go
package usecase

import (
	"context"

	"savinggrace/internal/domain/permission"
	"savinggrace/internal/domain/user"
)

// usecase 層で使う context key
type ctxKey string

const ctxKeyActor ctxKey = "actor"

// WithActor は認証ミドルウェアなど外側から操作ユーザーを注入するためのヘルパー
func WithActor(ctx context.Context, u user.User) context.Context {
	if u.ID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyActor, u)
}

// ActorFromContext は操作ユーザーを取り出します。
func ActorFromContext(ctx context.Context) (user.User, bool) {
	u, ok := ctx.Value(ctxKeyActor).(user.User)
	if !ok || u.ID == "" {
		return user.User{}, false
	}
	return u, true
}

// requireActor は「認証済み・有効・capability 保持」の 3 点を入口で検査します。
// 権限判定はクライアントの表示制御とは別に、必ずここ（サーバ側）で行います。
func requireActor(ctx context.Context, c permission.Capability) (user.User, error) {
	u, ok := ActorFromContext(ctx)
	if !ok {
		return user.User{}, permission.ErrUnauthenticated
	}
	if !u.Active() {
		return user.User{}, &permission.DeniedError{Role: u.Role, Capability: c}
	}
	if err := permission.Require(u.Role, c); err != nil {
		return user.User{}, err
	}
	return u, nil
}
