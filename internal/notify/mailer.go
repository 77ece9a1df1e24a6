// Package notify sends the operator notifications: high-scoring evaluations,
// user feedback and the weekly analysis report.
package notify

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
)

// Mailer delivers a plain-text message to the operator inbox.
type Mailer interface {
	Send(ctx context.Context, subject, text string) error
}

type ResendMailer struct {
	client *resend.Client
	from   string
	to     string
}

func NewResendMailer(apiKey, from, to string) *ResendMailer {
	return &ResendMailer{client: resend.NewClient(apiKey), from: from, to: to}
}

func (m *ResendMailer) Send(ctx context.Context, subject, text string) error {
	_, err := m.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{m.to},
		Subject: subject,
		Text:    text,
	})
	if err != nil {
		return fmt.Errorf("failed to send email %q: %w", subject, err)
	}
	return nil
}

// DisabledMailer drops every message. It is used when no API key or
// recipient is configured.
type DisabledMailer struct {
	logger *zap.Logger
}

func NewDisabledMailer(logger *zap.Logger) *DisabledMailer {
	return &DisabledMailer{logger: logger}
}

func (m *DisabledMailer) Send(_ context.Context, subject, _ string) error {
	m.logger.Warn("email not configured: RESEND_API_KEY or NOTIFICATION_EMAIL missing", zap.String("subject", subject))
	return nil
}
