package mail

import (
	"context"
	"log"
	"os"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// 環境変数名（Cloud Run / ローカル共通）
const (
	envSendGridAPIKey     = "SENDGRID_API_KEY"
	envSendGridSecretName = "SENDGRID_SECRET_NAME" // 例: projects/x/secrets/sendgrid-api-key/versions/latest
	envAlertFrom          = "ALERT_FROM"           // 例: alerts@savinggrace.org
	envAlertTo            = "ALERT_TO"             // カンマ区切りの配信先
	envConsoleBaseURL     = "CONSOLE_BASE_URL"     // 例: https://console.savinggrace.org
)

// NewAlertMailerWithSendGrid は、SendGrid を使った AlertMailer を生成します。
//
//   - SENDGRID_API_KEY     : SendGrid の API キー（直接指定）
//   - SENDGRID_SECRET_NAME : Secret Manager のリソース名（API キー未指定時のフォールバック）
//   - ALERT_FROM           : 送信元メールアドレス
//   - ALERT_TO             : 配信先（カンマ区切り）
//   - CONSOLE_BASE_URL     : ダッシュボードのベース URL
func NewAlertMailerWithSendGrid(ctx context.Context, sm *secretmanager.Client) *AlertMailer {
	apiKey := strings.TrimSpace(os.Getenv(envSendGridAPIKey))
	if apiKey == "" {
		apiKey = fetchAPIKeyFromSecretManager(ctx, sm)
	}
	fromAddr := strings.TrimSpace(os.Getenv(envAlertFrom))
	toAddrs := splitAddresses(os.Getenv(envAlertTo))
	consoleBaseURL := strings.TrimSpace(os.Getenv(envConsoleBaseURL))

	if apiKey == "" {
		log.Printf("[mail] WARN: SENDGRID_API_KEY is empty. AlertMailer will fail to send mail.")
	}
	if fromAddr == "" {
		log.Printf("[mail] WARN: ALERT_FROM is empty. AlertMailer will fail to send mail.")
	}
	if len(toAddrs) == 0 {
		log.Printf("[mail] WARN: ALERT_TO is empty. AlertMailer will fail to send mail.")
	}

	// SendGridClient を EmailClient として利用
	client := NewSendGridClient(apiKey)

	mailer := NewAlertMailer(client, fromAddr, toAddrs, consoleBaseURL)

	log.Printf("[mail] AlertMailerWithSendGrid initialized. from=%s recipients=%d baseURL=%s",
		fromAddr, len(toAddrs), consoleBaseURL)

	return mailer
}

// fetchAPIKeyFromSecretManager は Secret Manager から API キーを取得します。
// 未設定・取得失敗は空文字で返し、呼び出し側の WARN ログに任せます。
func fetchAPIKeyFromSecretManager(ctx context.Context, sm *secretmanager.Client) string {
	name := strings.TrimSpace(os.Getenv(envSendGridSecretName))
	if name == "" || sm == nil {
		return ""
	}
	resp, err := sm.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		log.Printf("[mail] WARN: AccessSecretVersion failed (%s): %v", name, err)
		return ""
	}
	if resp == nil || resp.Payload == nil {
		log.Printf("[mail] WARN: empty secret payload (%s)", name)
		return ""
	}
	return strings.TrimSpace(string(resp.Payload.Data))
}

func splitAddresses(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}
