package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/smart-attendance/internal/config"
	"github.com/kozaktomas/smart-attendance/internal/database"
)

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer delivers notifications over SMTP with PLAIN auth.
type Mailer struct {
	addr       string
	host       string
	sender     string
	password   string
	adminEmail string
	send       SendFunc
	logger     *slog.Logger
}

// NewMailer returns a Mailer for cfg. Use New to fall back to Noop when SMTP
// is not configured.
func NewMailer(cfg config.SMTPConfig, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Mailer{
		addr:       net.JoinHostPort(cfg.Server, strconv.Itoa(cfg.Port)),
		host:       cfg.Server,
		sender:     cfg.Sender,
		password:   cfg.Password,
		adminEmail: cfg.AdminEmail,
		send:       smtp.SendMail,
		logger:     logger,
	}
}

// New returns a Mailer when SMTP credentials are configured and Noop otherwise.
func New(cfg config.SMTPConfig, logger *slog.Logger) Notifier {
	if !cfg.Enabled() {
		return Noop{}
	}
	return NewMailer(cfg, logger)
}

// WithSendFunc replaces the transport, used by tests.
func (m *Mailer) WithSendFunc(fn SendFunc) *Mailer {
	m.send = fn
	return m
}

// AttendanceMarked sends a confirmation to the identity's email address.
func (m *Mailer) AttendanceMarked(ctx context.Context, ident database.Identity, at time.Time) error {
	if ident.Email == "" {
		return errors.New("identity has no email address")
	}
	var body strings.Builder
	fmt.Fprintf(&body, "Hello %s,\n\n", ident.Name)
	fmt.Fprintf(&body, "Your attendance has been marked.\n\n")
	fmt.Fprintf(&body, "Class: %s\n", classLabel(ident))
	fmt.Fprintf(&body, "Date: %s\n", at.Format("2006-01-02"))
	fmt.Fprintf(&body, "Time: %s\n", at.Format("15:04:05"))
	return m.deliver(ctx, ident.Email, "Attendance Marked - "+at.Format("2006-01-02"), body.String())
}

// LateArrival alerts the administrator. It is a no-op without ADMIN_EMAIL.
func (m *Mailer) LateArrival(ctx context.Context, ident database.Identity, at time.Time) error {
	if m.adminEmail == "" {
		return nil
	}
	var body strings.Builder
	fmt.Fprintf(&body, "Late arrival recorded.\n\n")
	fmt.Fprintf(&body, "Name: %s\n", ident.Name)
	fmt.Fprintf(&body, "User ID: %s\n", ident.UserID)
	fmt.Fprintf(&body, "Class: %s\n", classLabel(ident))
	fmt.Fprintf(&body, "Time: %s\n", at.Format("2006-01-02 15:04:05"))
	return m.deliver(ctx, m.adminEmail, "Late Arrival Alert - "+ident.Name, body.String())
}

func classLabel(ident database.Identity) string {
	if ident.ClassName == "" {
		return ident.ClassCode
	}
	return ident.ClassName + " (" + ident.ClassCode + ")"
}

func (m *Mailer) deliver(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := buildMessage(m.sender, to, subject, body)
	auth := smtp.PlainAuth("", m.sender, m.password, m.host)
	if err := m.send(m.addr, auth, m.sender, []string{to}, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	m.logger.Debug("notification sent", "to", to, "subject", subject)
	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return buf.Bytes()
}
