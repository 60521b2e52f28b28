package notify

import (
	"context"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"

	"go.uber.org/zap"
)

// LogSender writes messages to the log instead of mailing them.
type LogSender struct {
	Log *zap.Logger
}

func (s LogSender) Send(_ context.Context, msg Message) error {
	s.Log.Info("mock email",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body))
	return nil
}

type SMTPSender struct {
	Addr     string // host:port
	Username string
	Password string
	From     string
}

func (s SMTPSender) Send(ctx context.Context, msg Message) error {
	host, _, err := net.SplitHostPort(s.Addr)
	if err != nil {
		return fmt.Errorf("invalid smtp address %q: %w", s.Addr, err)
	}
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, host)
	}

	raw := []byte("From: " + s.From + "\r\n" +
		"To: " + msg.To + "\r\n" +
		"Subject: " + msg.Subject + "\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
		msg.Body + "\r\n")

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(s.Addr, auth, envelopeAddr(s.From), []string{msg.To}, raw)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send mail via %s: %w", s.Addr, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// envelopeAddr strips a display name: "Bank <a@b>" -> "a@b".
func envelopeAddr(from string) string {
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return from
	}
	return addr.Address
}
