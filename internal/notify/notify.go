// Package notify delivers expiry warnings to users. Delivery is
// best-effort: callers log failures and move on, nothing in the panel
// blocks on a notification.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTP sends plain-text mail through a single relay.
type SMTP struct {
	addr string
	from string
	auth smtp.Auth
}

func NewSMTP(host string, port int, username, password, from string) *SMTP {
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &SMTP{
		addr: fmt.Sprintf("%s:%d", host, port),
		from: from,
		auth: auth,
	}
}

func (s *SMTP) Send(_ context.Context, to, subject, body string) error {
	if !strings.Contains(to, "@") {
		return fmt.Errorf("invalid recipient address %q", to)
	}

	msg := strings.Join([]string{
		"From: " + s.from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	if err := smtp.SendMail(s.addr, s.auth, s.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

// Log is the notifier used when no SMTP relay is configured: it records
// the notification and succeeds. Useful in development and tests.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) Send(_ context.Context, to, subject, _ string) error {
	l.log.Info("notification (no SMTP relay configured)",
		zap.String("to", to),
		zap.String("subject", subject))
	return nil
}
