package notify

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/wisbric/pulsecheck/pkg/monitor"
)

// EmailSink delivers alerts over SMTP. No ecosystem SMTP client stands out
// among the retrieved examples' dependency surface, so this sink is built on
// net/smtp — see DESIGN.md for the stdlib justification.
type EmailSink struct {
	host, port       string
	username, passwd string
	from             string
	to               []string
	dial             func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailSink constructs an EmailSink. to is the recipient list notified
// for every alert; in production this is typically a project's on-call
// distribution address.
func NewEmailSink(host, port, username, password, from string, to []string) *EmailSink {
	return &EmailSink{
		host:     host,
		port:     port,
		username: username,
		passwd:   password,
		from:     from,
		to:       to,
		dial:     smtp.SendMail,
	}
}

// Channel implements Sink.
func (s *EmailSink) Channel() string { return monitor.ChannelEmail }

// Deliver implements Sink.
func (s *EmailSink) Deliver(_ context.Context, alert monitor.Alert) error {
	if s.host == "" || len(s.to) == 0 {
		return &DeliveryError{Channel: s.Channel(), Reason: "email sink not configured"}
	}

	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	auth := smtp.PlainAuth("", s.username, s.passwd, s.host)
	msg := buildMIMEMessage(s.from, s.to, alert)

	if err := s.dial(addr, auth, s.from, s.to, msg); err != nil {
		return &DeliveryError{Channel: s.Channel(), Reason: err.Error()}
	}
	return nil
}

func buildMIMEMessage(from string, to []string, alert monitor.Alert) []byte {
	recipients := ""
	for i, addr := range to {
		if i > 0 {
			recipients += ", "
		}
		recipients += addr
	}

	return []byte(fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		from, recipients, alert.Title, alert.Message,
	))
}
