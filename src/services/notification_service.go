package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"github.com/mailgun/mailgun-go/v4"
	"github.com/shopspring/decimal"
	"github.com/username/finflow/src/config"
	"github.com/username/finflow/src/logger"
)

// BudgetAlertPayload carries the figures rendered into a budget alert.
type BudgetAlertPayload struct {
	AccountName    string
	PercentageUsed decimal.Decimal
	BudgetAmount   decimal.Decimal
	TotalExpenses  decimal.Decimal
}

// NotificationSender delivers alerts to users. The context bounds the send;
// a timeout is a send failure, never fatal to the caller's cycle.
type NotificationSender interface {
	Send(ctx context.Context, to, subject string, payload BudgetAlertPayload) error
}

func NewNotificationSender() NotificationSender {
	if config.Cfg == nil {
		slog.Error("Configuration (config.Cfg) is nil. Notification service will default to mock.")
		return &MockNotificationSender{}
	}

	provider := strings.ToLower(config.Cfg.EmailServiceProvider)
	logger.L.Info("Initializing notification service", "provider", provider)

	switch provider {
	case "mailgun":
		if config.Cfg.MailgunDomain == "" || config.Cfg.MailgunPrivateAPIKey == "" || config.Cfg.SenderEmail == "" {
			logger.L.Warn("Mailgun configuration incomplete (Domain, API Key, or SenderEmail missing). Falling back to MockNotificationSender.")
			return &MockNotificationSender{}
		}
		mg := mailgun.NewMailgun(config.Cfg.MailgunDomain, config.Cfg.MailgunPrivateAPIKey)
		logger.L.Info("Mailgun client initialized", "domain", config.Cfg.MailgunDomain)
		return &MailgunNotificationSender{
			mg:          mg,
			senderEmail: config.Cfg.SenderEmail,
			senderName:  config.Cfg.SenderName,
		}
	case "smtp":
		if config.Cfg.SMTPServer == "" || config.Cfg.SMTPUser == "" || config.Cfg.SMTPPassword == "" || config.Cfg.SenderEmail == "" {
			logger.L.Warn("SMTP configuration incomplete. Falling back to MockNotificationSender.")
			return &MockNotificationSender{}
		}
		return &SMTPNotificationSender{
			SMTPServer:   config.Cfg.SMTPServer,
			SMTPPort:     config.Cfg.SMTPPort,
			SMTPUser:     config.Cfg.SMTPUser,
			SMTPPassword: config.Cfg.SMTPPassword,
			SenderEmail:  config.Cfg.SenderEmail,
		}
	default:
		logger.L.Info("Defaulting to MockNotificationSender.")
		return &MockNotificationSender{}
	}
}

func plainTextAlertBody(p BudgetAlertPayload) string {
	return fmt.Sprintf(`Hi,

You've used %s%% of your monthly budget for your %s account.

Budget amount: %s
Spent so far:  %s
Remaining:     %s

Thanks,
The Finflow Team`,
		p.PercentageUsed.StringFixed(1), p.AccountName,
		p.BudgetAmount.StringFixed(2), p.TotalExpenses.StringFixed(2),
		p.BudgetAmount.Sub(p.TotalExpenses).StringFixed(2))
}

func htmlAlertBody(p BudgetAlertPayload) string {
	return fmt.Sprintf(`
	<html>
		<body style="font-family: Arial, sans-serif; line-height: 1.6;">
			<p>Hi,</p>
			<p>You've used <strong>%s%%</strong> of your monthly budget for your <strong>%s</strong> account.</p>
			<table style="border-collapse: collapse;">
				<tr><td style="padding: 4px 12px 4px 0;">Budget amount</td><td>%s</td></tr>
				<tr><td style="padding: 4px 12px 4px 0;">Spent so far</td><td>%s</td></tr>
				<tr><td style="padding: 4px 12px 4px 0;">Remaining</td><td>%s</td></tr>
			</table>
			<p>Thanks,<br>The Finflow Team</p>
		</body>
	</html>`,
		p.PercentageUsed.StringFixed(1), p.AccountName,
		p.BudgetAmount.StringFixed(2), p.TotalExpenses.StringFixed(2),
		p.BudgetAmount.Sub(p.TotalExpenses).StringFixed(2))
}

type MailgunNotificationSender struct {
	mg          mailgun.Mailgun
	senderEmail string
	senderName  string
}

func (s *MailgunNotificationSender) Send(ctx context.Context, to, subject string, payload BudgetAlertPayload) error {
	from := fmt.Sprintf("%s <%s>", s.senderName, s.senderEmail)

	message := s.mg.NewMessage(from, subject, plainTextAlertBody(payload), to)
	message.SetHtml(htmlAlertBody(payload))
	message.AddTag("budget-alert")

	resp, id, err := s.mg.Send(ctx, message)
	if err != nil {
		logger.L.Error("Failed to send budget alert via Mailgun", "error", err, "to", to, "mailgunResp", resp, "mailgunId", id)
		return fmt.Errorf("mailgun send failed: %w. Response: %s", err, resp)
	}
	logger.L.Info("Budget alert sent successfully via Mailgun", "to", to, "id", id, "mailgunResp", resp)
	return nil
}

type SMTPNotificationSender struct {
	SMTPServer   string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SenderEmail  string
}

func (s *SMTPNotificationSender) Send(ctx context.Context, to, subject string, payload BudgetAlertPayload) error {
	header := make(map[string]string)
	header["From"] = s.SenderEmail
	header["To"] = to
	header["Subject"] = subject
	header["MIME-version"] = "1.0"
	header["Content-Type"] = "text/plain; charset=\"UTF-8\""
	message := ""
	for k, v := range header {
		message += fmt.Sprintf("%s: %s\r\n", k, v)
	}
	message += "\r\n" + plainTextAlertBody(payload)

	auth := smtp.PlainAuth("", s.SMTPUser, s.SMTPPassword, s.SMTPServer)
	addr := fmt.Sprintf("%s:%d", s.SMTPServer, s.SMTPPort)

	// net/smtp has no context support; run the send in a goroutine so the
	// caller's deadline still bounds the wait.
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, s.SenderEmail, []string{to}, []byte(message))
	}()

	select {
	case <-ctx.Done():
		logger.L.Error("SMTP budget alert timed out", "to", to, "error", ctx.Err())
		return fmt.Errorf("smtp send timed out: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			logger.L.Error("Failed to send budget alert via SMTP", "error", err, "to", to)
			return fmt.Errorf("failed to send budget alert via SMTP: %w", err)
		}
	}
	logger.L.Info("Budget alert sent successfully via SMTP", "to", to)
	return nil
}

type MockNotificationSender struct{}

func (m *MockNotificationSender) Send(ctx context.Context, to, subject string, payload BudgetAlertPayload) error {
	logger.L.Info("MockNotificationSender: Would send budget alert.",
		"to", to,
		"subject", subject,
		"accountName", payload.AccountName,
		"percentageUsed", payload.PercentageUsed.StringFixed(1),
		"budgetAmount", payload.BudgetAmount.String(),
		"totalExpenses", payload.TotalExpenses.String())
	return nil
}

// sendTimeout returns the configured notification timeout, defaulting when
// config has not been loaded (tests).
func sendTimeout() time.Duration {
	if config.Cfg != nil && config.Cfg.NotifySendTimeout > 0 {
		return config.Cfg.NotifySendTimeout
	}
	return 20 * time.Second
}

// SendWithTimeout wraps sender.Send with the configured bounded timeout.
func SendWithTimeout(ctx context.Context, sender NotificationSender, to, subject string, payload BudgetAlertPayload) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout())
	defer cancel()
	return sender.Send(ctx, to, subject, payload)
}
