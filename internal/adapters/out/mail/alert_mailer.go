// internal/adapters/out/mail/alert_mailer.go
package mail

import (
	"context"
	"fmt"
	"strings"

	"savinggrace/internal/application/usecase"
	"savinggrace/internal/domain/alert"
)

// EmailClient は実際のメール送信クライアント（SMTP / SendGrid / SES など）を
// 抽象化した下位レベルのインターフェースです。
type EmailClient interface {
	Send(ctx context.Context, from, to, subject, body string) error
}

// AlertMailer は在庫アラートのダイジェストをスタッフ宛に送信します。
// usecase.AlertMailer の具象実装で、内部で EmailClient を利用します。
type AlertMailer struct {
	client           EmailClient
	fromAddress      string
	toAddresses      []string
	dashboardBaseURL string // 例: "https://console.savinggrace.org"
}

// NewAlertMailer は AlertMailer のコンストラクタです。
//
//   - client      : SendGrid などの具体的な EmailClient 実装
//   - fromAddress : 送信元メールアドレス
//   - toAddresses : 配信先（スタッフ）のメールアドレス
func NewAlertMailer(client EmailClient, fromAddress string, toAddresses []string, dashboardBaseURL string) *AlertMailer {
	to := make([]string, 0, len(toAddresses))
	for _, a := range toAddresses {
		a = strings.TrimSpace(a)
		if a != "" {
			to = append(to, a)
		}
	}
	return &AlertMailer{
		client:           client,
		fromAddress:      strings.TrimSpace(fromAddress),
		toAddresses:      to,
		dashboardBaseURL: strings.TrimRight(strings.TrimSpace(dashboardBaseURL), "/"),
	}
}

// Compile-time check
var _ usecase.AlertMailer = (*AlertMailer)(nil)

// SendDigest は新規アラートを 1 通のダイジェストにまとめて全配信先へ送信します。
func (m *AlertMailer) SendDigest(ctx context.Context, alerts []alert.Alert) error {
	if m == nil || m.client == nil {
		return fmt.Errorf("alert mailer: email client is nil")
	}
	if len(m.toAddresses) == 0 {
		return fmt.Errorf("alert mailer: no recipient addresses configured (set ALERT_TO)")
	}
	if len(alerts) == 0 {
		return nil
	}

	subject := m.buildSubject(alerts)
	body := m.buildBody(alerts)

	for _, to := range m.toAddresses {
		if err := m.client.Send(ctx, m.fromAddress, to, subject, body); err != nil {
			return fmt.Errorf("alert mailer: send to %s: %w", to, err)
		}
	}
	return nil
}

func (m *AlertMailer) buildSubject(alerts []alert.Alert) string {
	counts := map[alert.Kind]int{}
	for _, a := range alerts {
		counts[a.Kind]++
	}

	var parts []string
	if n := counts[alert.KindExpired]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d expired", n))
	}
	if n := counts[alert.KindExpiringSoon]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d expiring", n))
	}
	if n := counts[alert.KindLowStock]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d low stock", n))
	}
	return "[Saving Grace] Inventory alerts: " + strings.Join(parts, ", ")
}

func (m *AlertMailer) buildBody(alerts []alert.Alert) string {
	sections := []struct {
		kind  alert.Kind
		title string
	}{
		{alert.KindExpired, "EXPIRED"},
		{alert.KindExpiringSoon, "EXPIRING SOON"},
		{alert.KindLowStock, "LOW STOCK"},
	}

	var b strings.Builder
	fmt.Fprintf(&b, "New inventory alerts (%d):\n", len(alerts))

	for _, sec := range sections {
		var lines []string
		for _, a := range alerts {
			if a.Kind != sec.kind {
				continue
			}
			lines = append(lines, fmt.Sprintf("  - %s (lot %s)", a.Message, a.LotID))
		}
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n[%s]\n%s\n", sec.title, strings.Join(lines, "\n"))
	}

	if m.dashboardBaseURL != "" {
		fmt.Fprintf(&b, "\nOpen the inventory dashboard for details: %s/inventory\n", m.dashboardBaseURL)
	}

	b.WriteString("\n-- \nSaving Grace Food Donation Tracker")
	return b.String()
}
