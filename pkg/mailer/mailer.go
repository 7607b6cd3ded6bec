// Package mailer delivers account notification email.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

const verifySubject = "Verify your Heart account"

// Message is a single outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers messages. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var verifyHTML = template.Must(template.New("verify").Parse(`<h1>Welcome to Heart!</h1>
<p>Your verification code is: <strong>{{.Code}}</strong></p>
<p>Please enter this code to verify your account.</p>
{{- if .Expiry}}
<p>This code will expire in {{.Expiry}}.</p>
{{- end}}
`))

// VerificationMessage builds the account verification email. ttl <= 0 means
// the code does not expire and the message makes no claim about it.
func VerificationMessage(to, code string, ttl time.Duration) (Message, error) {
	expiry := formatTTL(ttl)
	var body bytes.Buffer
	if err := verifyHTML.Execute(&body, struct{ Code, Expiry string }{code, expiry}); err != nil {
		return Message{}, fmt.Errorf("render verification email: %w", err)
	}
	text := fmt.Sprintf("Welcome to Heart!\n\nYour verification code is: %s\nPlease enter this code to verify your account.\n", code)
	if expiry != "" {
		text += fmt.Sprintf("This code will expire in %s.\n", expiry)
	}
	return Message{
		To:      to,
		Subject: verifySubject,
		HTML:    body.String(),
		Text:    text,
	}, nil
}

func formatTTL(ttl time.Duration) string {
	switch {
	case ttl <= 0:
		return ""
	case ttl%time.Hour == 0:
		h := int(ttl / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	case ttl%time.Minute == 0:
		m := int(ttl / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	default:
		return ttl.String()
	}
}

// SMTPConfig configures SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// From defaults to Username.
	From    string
	Timeout time.Duration
}

// SMTPSender sends mail through an SMTP relay.
type SMTPSender struct {
	from   string
	client *mail.Client
}

// NewSMTPSender validates cfg and prepares an SMTP client. No connection is
// made until the first Send.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, errors.New("smtp host is required")
	}
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		from = strings.TrimSpace(cfg.Username)
	}
	if from == "" {
		return nil, errors.New("smtp from address is required")
	}
	port := cfg.Port
	if port <= 0 {
		port = 587
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTimeout(timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPSender{from: from, client: client}, nil
}

// Send delivers msg.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m := mail.NewMsg()
	if err := m.From(s.from); err != nil {
		return fmt.Errorf("set from: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return fmt.Errorf("set to: %w", err)
	}
	m.Subject(msg.Subject)
	if msg.Text != "" {
		m.SetBodyString(mail.TypeTextPlain, msg.Text)
		if msg.HTML != "" {
			m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
		}
	} else {
		m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	}
	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// LogSender writes messages to the log instead of sending them. Used when
// no SMTP relay is configured.
type LogSender struct {
	Logger *slog.Logger
}

// Send logs msg.
func (s LogSender) Send(_ context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mail_not_sent", "to", msg.To, "subject", msg.Subject, "body", msg.Text)
	return nil
}
