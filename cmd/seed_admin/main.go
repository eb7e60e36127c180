// cmd/seed_admin/main.go
//
// 最初の admin スタッフを作成するブートストラップツール。
// POST /users は users:manage 権限を要求するため、最初の 1 人だけは
// このツールで直接 Firebase Auth + Firestore に登録します。
//
//	go run ./cmd/seed_admin -email admin@example.org -password '...' -name "Site Admin"
//
// 同じメールアドレスで再実行しても安全です（既存アカウントを再利用します）。
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"

	fs "savinggrace/internal/adapters/out/firestore"
	"savinggrace/internal/domain/permission"
	userdom "savinggrace/internal/domain/user"
	appcfg "savinggrace/internal/infra/config"
)

func main() {
	var (
		email    = flag.String("email", "", "admin email (required)")
		password = flag.String("password", "", "initial password (required for new accounts)")
		name     = flag.String("name", "Administrator", "display name")
	)
	flag.Parse()

	if strings.TrimSpace(*email) == "" {
		log.Fatal("[seed_admin] -email is required")
	}

	ctx := context.Background()
	cfg := appcfg.Load()

	var opts []option.ClientOption
	if cfg.FirebaseCredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.FirebaseCredentialsJSON)))
	}

	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		log.Fatalf("[seed_admin] firestore.NewClient: %v", err)
	}
	defer fsClient.Close()

	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		log.Fatalf("[seed_admin] firebase.NewApp: %v", err)
	}
	authClient, err := fbApp.Auth(ctx)
	if err != nil {
		log.Fatalf("[seed_admin] firebase auth: %v", err)
	}

	// 1. Firebase Auth アカウント（既存があれば再利用）
	uid := ""
	if rec, err := authClient.GetUserByEmail(ctx, *email); err == nil {
		uid = rec.UID
		log.Printf("[seed_admin] existing auth account found uid=%s", uid)
	} else {
		if strings.TrimSpace(*password) == "" {
			log.Fatal("[seed_admin] -password is required to create a new account")
		}
		params := (&fbauth.UserToCreate{}).
			Email(strings.TrimSpace(*email)).
			Password(*password).
			DisplayName(strings.TrimSpace(*name)).
			EmailVerified(false).
			Disabled(false)
		rec, err := authClient.CreateUser(ctx, params)
		if err != nil {
			log.Fatalf("[seed_admin] CreateUser: %v", err)
		}
		uid = rec.UID
		log.Printf("[seed_admin] auth account created uid=%s", uid)
	}

	// 2. custom claim "role" を同期
	if err := authClient.SetCustomUserClaims(ctx, uid, map[string]any{"role": string(permission.RoleAdmin)}); err != nil {
		log.Fatalf("[seed_admin] SetCustomUserClaims: %v", err)
	}

	// 3. users/{uid} ドキュメント
	repo := fs.NewUserRepositoryFS(fsClient)
	if existing, err := repo.GetByID(ctx, uid); err == nil {
		log.Printf("[seed_admin] users/%s already exists (role=%s status=%s); nothing to do",
			uid, existing.Role, existing.Status)
		return
	} else if !errors.Is(err, userdom.ErrNotFound) {
		log.Fatalf("[seed_admin] GetByID: %v", err)
	}

	u, err := userdom.New(uid, *email, *name, permission.RoleAdmin, "seed_admin", time.Now().UTC())
	if err != nil {
		log.Fatalf("[seed_admin] invalid user: %v", err)
	}
	if _, err := repo.Create(ctx, u); err != nil {
		log.Fatalf("[seed_admin] users create: %v", err)
	}

	log.Printf("[seed_admin] admin seeded uid=%s email=%s", uid, *email)
}
