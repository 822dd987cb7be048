package notifier

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/oru-io/conduct/pkg/models"
)

// EmailSender delivers messages over SMTP.
type EmailSender struct {
	addr string
	from string
	auth smtp.Auth
}

func NewEmailSender(addr, from, username, password string) *EmailSender {
	var auth smtp.Auth
	if username != "" {
		host := addr
		if idx := strings.Index(addr, ":"); idx >= 0 {
			host = addr[:idx]
		}

		auth = smtp.PlainAuth("", username, password, host)
	}

	return &EmailSender{addr: addr, from: from, auth: auth}
}

func (s *EmailSender) Channel() models.NotifyChannel {
	return models.ChannelEmail
}

func (s *EmailSender) Send(_ context.Context, msg Message) error {
	if msg.Recipient == "" {
		return fmt.Errorf("email message has no recipient")
	}

	subject := msg.Subject
	if subject == "" {
		subject = "Conduct notification"
	}

	body := "From: " + s.from + "\r\n" +
		"To: " + msg.Recipient + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"\r\n" +
		msg.Body + "\r\n"

	if err := smtp.SendMail(s.addr, s.auth, s.from, []string{msg.Recipient}, []byte(body)); err != nil {
		return fmt.Errorf("email delivery failed: %w", err)
	}

	return nil
}
