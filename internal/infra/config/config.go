// internal/infra/config/config.go
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config はアプリケーション全体の環境変数設定を保持します。
type Config struct {
	Port      string
	ProjectID string

	// サービスアカウント JSON（Cloud Run では通常 ADC を使うので空でよい）
	FirebaseCredentialsJSON string

	// GCS バケット
	ReceiptsBucket string
	ExportsBucket  string

	// SendGrid（API キー直接指定 or Secret Manager のリソース名）
	SendGridAPIKey     string
	SendGridSecretName string
	AlertFrom          string
	AlertTo            string
	ConsoleBaseURL     string

	// Redis（アラート重複抑止ゲート）
	RedisAddr     string
	RedisPassword string

	// Postgres（監査ログのミラー、任意）
	DatabaseURL string

	// CORS
	AllowedOrigins string

	// 引当リトライの最大試行回数
	AllocMaxAttempts int
}

// Load は環境変数を読み込み Config を返します。
func Load() *Config {
	cfg := &Config{
		Port:      getenvDefault("PORT", "8080"),
		ProjectID: getenvDefault("GOOGLE_CLOUD_PROJECT", "savinggrace-development"),

		FirebaseCredentialsJSON: os.Getenv("FIREBASE_CREDENTIALS_JSON"),

		ReceiptsBucket: getenvDefault("RECEIPTS_BUCKET", "savinggrace-receipts"),
		ExportsBucket:  getenvDefault("EXPORTS_BUCKET", "savinggrace-exports"),

		SendGridAPIKey:     os.Getenv("SENDGRID_API_KEY"),
		SendGridSecretName: os.Getenv("SENDGRID_SECRET_NAME"),
		AlertFrom:          os.Getenv("ALERT_FROM"),
		AlertTo:            os.Getenv("ALERT_TO"),
		ConsoleBaseURL:     os.Getenv("CONSOLE_BASE_URL"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		AllowedOrigins: os.Getenv("ALLOWED_ORIGINS"),

		AllocMaxAttempts: getenvIntDefault("ALLOC_MAX_ATTEMPTS", 5),
	}

	return cfg
}

// GetProjectID は Firestore/Firebase で共用する GCP プロジェクト ID を返します。
func (c *Config) GetProjectID() string {
	return c.ProjectID
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
