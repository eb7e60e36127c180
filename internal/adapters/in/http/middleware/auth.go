// internal/adapters/in/http/middleware/auth.go
package middleware

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	fbauth "firebase.google.com/go/v4/auth"

	"savinggrace/internal/application/usecase"
	userdom "savinggrace/internal/domain/user"
)

// FirebaseAuthClient は firebase auth クライアントのエイリアス。
// RouterDeps などからは *middleware.FirebaseAuthClient 型で受けられます。
type FirebaseAuthClient = fbauth.Client

// context key は string を使わず、衝突回避のため独自型を使用（SA1029 対策）
type ctxKey struct{ name string }

var (
	ctxKeyUser = ctxKey{name: "currentUser"}
	ctxKeyUID  = ctxKey{name: "uid"}
)

// AuthMiddleware は
//
//   - Authorization: Bearer <ID_TOKEN>
//
// を検証し、現在のスタッフ（users/{uid}）を context に詰めて次のハンドラへ渡す。
// ロール別の細かい認可は usecase 側（permission.Require）が担当し、ここでは
// 「登録済みかつ active なスタッフか」だけを見ます。
type AuthMiddleware struct {
	FirebaseAuth *FirebaseAuthClient
	Users        userdom.RepositoryPort
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		// 依存チェック
		if m.FirebaseAuth == nil || m.Users == nil {
			writeAuthError(w, http.StatusServiceUnavailable, "auth middleware not initialized")
			return
		}

		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeAuthError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		idToken := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if idToken == "" {
			writeAuthError(w, http.StatusUnauthorized, "empty bearer token")
			return
		}

		// Firebase ID トークン検証
		token, err := m.FirebaseAuth.VerifyIDToken(r.Context(), idToken)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		uid := strings.TrimSpace(token.UID)
		if uid == "" {
			writeAuthError(w, http.StatusUnauthorized, "invalid uid in token")
			return
		}

		// uid → User（users の DocID = UID）
		u, err := m.Users.GetByID(r.Context(), uid)
		if err != nil {
			log.Printf("[auth] path=%s uid=%s not registered: %v", r.URL.Path, uid, err)
			writeAuthError(w, http.StatusForbidden, "staff account not found")
			return
		}
		if !u.Active() {
			log.Printf("[auth] path=%s uid=%s is deactivated", r.URL.Path, uid)
			writeAuthError(w, http.StatusForbidden, "staff account is deactivated")
			return
		}

		// context に格納（usecase 層は ActorFromContext で参照する）
		ctx := usecase.WithActor(r.Context(), u)
		ctx = context.WithValue(ctx, ctxKeyUser, u)
		ctx = context.WithValue(ctx, ctxKeyUID, uid)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CurrentUser は現在ログイン中のスタッフを取得します。
func CurrentUser(r *http.Request) (userdom.User, bool) {
	v := r.Context().Value(ctxKeyUser)
	if v == nil {
		return userdom.User{}, false
	}
	u, ok := v.(userdom.User)
	if !ok || u.ID == "" {
		return userdom.User{}, false
	}
	return u, true
}

// CurrentUID は middleware で検証された Firebase UID を返します。
func CurrentUID(r *http.Request) (string, bool) {
	v := r.Context().Value(ctxKeyUID)
	if v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return strings.TrimSpace(s), true
}

// writeAuthError はレスポンスエンベロープ（success=false）で認証エラーを返します。
func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error": map[string]any{
			"message": msg,
			"code":    "AUTHORIZATION_ERROR",
		},
	})
}
