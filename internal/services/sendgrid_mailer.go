package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// UrgentAlert is the e-mail content sent to moderators when a post crosses
// the urgent report threshold.
type UrgentAlert struct {
	PostID      string
	AuthorID    string
	ReportCount int
	Threshold   int
	Category    string
}

// AlertMailer sends operator e-mail. Implementations must be safe for
// concurrent use.
type AlertMailer interface {
	SendUrgentAlert(ctx context.Context, alert UrgentAlert) error
}

type SendGridMailer struct {
	APIKey    string
	FromEmail string
	ToEmails  []string
	client    *sendgrid.Client
}

func NewSendGridMailer(apiKey string, fromEmail string, toEmails []string) *SendGridMailer {
	to := make([]string, 0, len(toEmails))
	for _, e := range toEmails {
		if e = strings.TrimSpace(e); e != "" {
			to = append(to, e)
		}
	}
	key := strings.TrimSpace(apiKey)
	return &SendGridMailer{
		APIKey:    key,
		FromEmail: strings.TrimSpace(fromEmail),
		ToEmails:  to,
		client:    sendgrid.NewSendClient(key),
	}
}

// Configured reports whether the mailer has everything it needs to send.
func (m *SendGridMailer) Configured() bool {
	return m != nil && m.APIKey != "" && m.FromEmail != "" && len(m.ToEmails) > 0
}

func (m *SendGridMailer) SendUrgentAlert(ctx context.Context, alert UrgentAlert) error {
	if m == nil {
		return fmt.Errorf("sendgrid mailer not configured")
	}
	if m.APIKey == "" {
		return fmt.Errorf("missing SENDGRID_API_KEY")
	}
	if m.FromEmail == "" {
		return fmt.Errorf("missing ALERT_FROM_EMAIL")
	}
	if len(m.ToEmails) == 0 {
		return fmt.Errorf("missing ALERT_TO_EMAILS")
	}

	msg := buildUrgentAlertMail(m.FromEmail, m.ToEmails, alert)
	resp, err := m.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	// SendGrid returns 202 Accepted on success.
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

func buildUrgentAlertMail(from string, to []string, alert UrgentAlert) *mail.SGMailV3 {
	subject := fmt.Sprintf("Urgent moderation: post %s has %d reports", alert.PostID, alert.ReportCount)

	var b strings.Builder
	fmt.Fprintf(&b, "Post %s reached the urgent report threshold (%d).\n\n", alert.PostID, alert.Threshold)
	fmt.Fprintf(&b, "Reports: %d\n", alert.ReportCount)
	if alert.AuthorID != "" {
		fmt.Fprintf(&b, "Author: %s\n", alert.AuthorID)
	}
	if alert.Category != "" {
		fmt.Fprintf(&b, "Latest category: %s\n", alert.Category)
	}
	b.WriteString("\nPlease review it in the admin console.\n")

	msg := mail.NewV3Mail()
	msg.SetFrom(mail.NewEmail("Campus Moderation", from))
	msg.Subject = subject

	p := mail.NewPersonalization()
	for _, addr := range to {
		p.AddTos(mail.NewEmail("", addr))
	}
	p.SetCustomArg("post_id", alert.PostID)
	msg.AddPersonalizations(p)
	msg.AddContent(mail.NewContent("text/plain", b.String()))
	return msg
}
