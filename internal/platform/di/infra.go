// internal/platform/di/infra.go
package di

import (
	"context"
	"database/sql"
	"log"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"

	"cloud.google.com/go/firestore"
	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	_ "github.com/lib/pq"

	appcfg "savinggrace/internal/infra/config"
)

// ========================================
// Infra（外部クライアントの束）
// ========================================
//
// Firestore だけは必須（正本ストアなので無いと何もできない）。
// それ以外 — Firebase Auth / GCS / Secret Manager / Redis / Postgres — は
// ベストエフォートで初期化し、失敗したら WARN を出して nil のまま進める。
// 依存する機能（領収書 URL、エクスポート、アラート抑止、監査ミラー）は
// 各 usecase / query 側が nil を見て 501 なり素通しなりに落とす。
type Infra struct {
	Firestore     *firestore.Client
	FirebaseApp   *firebase.App
	FirebaseAuth  *firebaseauth.Client
	GCS           *storage.Client
	SecretManager *secretmanager.Client
	Redis         *redis.Client
	PG            *sql.DB
}

// NewInfra は外部クライアントを初期化します。
func NewInfra(ctx context.Context, cfg *appcfg.Config) (*Infra, error) {
	opts := clientOptions(cfg)

	// 1. Firestore（必須）
	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, err
	}
	log.Printf("[di] Firestore connected project=%s", cfg.ProjectID)

	in := &Infra{Firestore: fsClient}

	// 2. Firebase App / Auth
	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		log.Printf("[di] WARN: firebase app init failed: %v", err)
	} else {
		in.FirebaseApp = fbApp
		authClient, err := fbApp.Auth(ctx)
		if err != nil {
			log.Printf("[di] WARN: firebase auth init failed: %v", err)
		} else {
			in.FirebaseAuth = authClient
			log.Printf("[di] Firebase Auth initialized")
		}
	}

	// 3. GCS（領収書・エクスポートの署名付き URL 用）
	gcsClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		log.Printf("[di] WARN: gcs init failed (receipts/exports disabled): %v", err)
	} else {
		in.GCS = gcsClient
		log.Printf("[di] GCS storage client initialized")
	}

	// 4. Secret Manager（SendGrid API キー解決用）
	smClient, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		log.Printf("[di] WARN: secret manager init failed: %v", err)
	} else {
		in.SecretManager = smClient
	}

	// 5. Redis（アラート重複抑止ゲート）
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Printf("[di] WARN: redis ping failed (alert dedup disabled): %v", err)
			_ = rdb.Close()
		} else {
			in.Redis = rdb
			log.Printf("[di] Redis connected addr=%s", addr)
		}
		cancel()
	}

	// 6. Postgres（監査ログのミラー、任意）
	if dsn := strings.TrimSpace(cfg.DatabaseURL); dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			log.Printf("[di] WARN: pg open failed (audit mirror disabled): %v", err)
		} else {
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			if err := db.PingContext(pingCtx); err != nil {
				log.Printf("[di] WARN: pg ping failed (audit mirror disabled): %v", err)
				_ = db.Close()
			} else {
				in.PG = db
				log.Printf("[di] Postgres connected")
			}
			cancel()
		}
	}

	return in, nil
}

// Close は保持しているクライアントをすべて解放します。
func (in *Infra) Close() {
	if in == nil {
		return
	}
	if in.Firestore != nil {
		_ = in.Firestore.Close()
	}
	if in.GCS != nil {
		_ = in.GCS.Close()
	}
	if in.SecretManager != nil {
		_ = in.SecretManager.Close()
	}
	if in.Redis != nil {
		_ = in.Redis.Close()
	}
	if in.PG != nil {
		_ = in.PG.Close()
	}
}

// clientOptions は FIREBASE_CREDENTIALS_JSON が指定されたときだけ
// 資格情報オプションを返します（未指定なら ADC に任せる）。
func clientOptions(cfg *appcfg.Config) []option.ClientOption {
	if strings.TrimSpace(cfg.FirebaseCredentialsJSON) == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsJSON([]byte(cfg.FirebaseCredentialsJSON))}
}
