// internal/adapters/out/authn/firebase_auth_admin.go
package authn

import (
	"context"
	"fmt"
	"log"
	"strings"

	fbauth "firebase.google.com/go/v4/auth"
)

// FirebaseAuthAdmin は Firebase Authentication の管理操作
// （アカウント作成・role claim 同期・無効化）を担うアダプタです。
// usecase.AuthAdmin を満たします。
type FirebaseAuthAdmin struct {
	client *fbauth.Client
}

func NewFirebaseAuthAdmin(client *fbauth.Client) *FirebaseAuthAdmin {
	return &FirebaseAuthAdmin{client: client}
}

// CreateAccount はメール+パスワードのアカウントを作成して UID を返します。
func (a *FirebaseAuthAdmin) CreateAccount(ctx context.Context, email, password, displayName string) (string, error) {
	if a == nil || a.client == nil {
		return "", fmt.Errorf("authn: firebase auth client is nil")
	}

	params := (&fbauth.UserToCreate{}).
		Email(strings.TrimSpace(email)).
		Password(password).
		EmailVerified(false).
		Disabled(false)
	if dn := strings.TrimSpace(displayName); dn != "" {
		params = params.DisplayName(dn)
	}

	rec, err := a.client.CreateUser(ctx, params)
	if err != nil {
		return "", fmt.Errorf("authn: create user: %w", err)
	}

	log.Printf("[authn] account created uid=%s email=%s", rec.UID, email)
	return rec.UID, nil
}

// SetRoleClaim は custom claims の "role" を上書きします。
// claim はフロントの表示制御用で、権限の強制はサーバ側が行います。
func (a *FirebaseAuthAdmin) SetRoleClaim(ctx context.Context, uid string, role string) error {
	if a == nil || a.client == nil {
		return fmt.Errorf("authn: firebase auth client is nil")
	}
	if err := a.client.SetCustomUserClaims(ctx, uid, map[string]any{"role": role}); err != nil {
		return fmt.Errorf("authn: set role claim: %w", err)
	}
	return nil
}

// DisableAccount はサインインを止めます。レコードは消しません。
func (a *FirebaseAuthAdmin) DisableAccount(ctx context.Context, uid string) error {
	if a == nil || a.client == nil {
		return fmt.Errorf("authn: firebase auth client is nil")
	}
	update := (&fbauth.UserToUpdate{}).Disabled(true)
	if _, err := a.client.UpdateUser(ctx, uid, update); err != nil {
		return fmt.Errorf("authn: disable user: %w", err)
	}
	log.Printf("[authn] account disabled uid=%s", uid)
	return nil
}
