// Package email implements the activation-notification SMTP sender:
// one message per recipient, sent over a plain SMTP connection with
// opportunistic STARTTLS.
package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/evcron/evcron/internal/ratelimit"
)

const maxSubjectLen = 1024

// Notifier sends activation-result notifications. The caller enforces
// max_email_notifications; Notifier just sends.
type Notifier struct {
	Server   string // host[:port]; default port 25 if absent
	FromUser string
	HostFQDN string
	Simulate bool // true disables real SMTP delivery; log-only

	// Limiter, if set, throttles outbound sends so a chain of events
	// each carrying notify_email cannot flood the SMTP relay.
	Limiter *ratelimit.Limiter

	Log func(to, subject string, simulated bool)
}

// NewNotifier builds a Notifier for smtpServer (the configured
// smtp_server, default "localhost"), rendering From as fromUser@hostFQDN.
func NewNotifier(smtpServer, fromUser, hostFQDN string, simulate bool) *Notifier {
	return &Notifier{Server: smtpServer, FromUser: fromUser, HostFQDN: hostFQDN, Simulate: simulate}
}

// Send delivers one message to a single recipient.
func (n *Notifier) Send(ctx context.Context, to, subject, body string) error {
	if len(subject) > maxSubjectLen {
		subject = subject[:maxSubjectLen]
	}

	if n.Limiter != nil {
		if err := n.Limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "rate limit wait")
		}
	}

	if n.Simulate {
		if n.Log != nil {
			n.Log(to, subject, true)
		}
		return nil
	}

	addr := n.Server
	if !strings.Contains(addr, ":") {
		addr = addr + ":25"
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return errors.Wrap(err, "parse smtp server address")
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrap(err, "dial smtp server")
	}
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "init smtp client")
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		cfg := &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
		if err := client.StartTLS(cfg); err != nil {
			return errors.Wrap(err, "starttls")
		}
	}

	from := fmt.Sprintf("%s@%s", n.FromUser, n.HostFQDN)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", from, to, subject, body)

	if err := client.Mail(from); err != nil {
		return errors.Wrap(err, "smtp mail from")
	}
	if err := client.Rcpt(to); err != nil {
		return errors.Wrap(err, "smtp rcpt to")
	}
	w, err := client.Data()
	if err != nil {
		return errors.Wrap(err, "smtp data")
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		w.Close()
		return errors.Wrap(err, "write smtp body")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "close smtp data")
	}

	if n.Log != nil {
		n.Log(to, subject, false)
	}
	return client.Quit()
}

// Recipients splits a comma-separated notify_email value and caps it
// at max.
func Recipients(notifyEmail string, max int) []string {
	if notifyEmail == "" {
		return nil
	}
	parts := strings.Split(notifyEmail, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}
