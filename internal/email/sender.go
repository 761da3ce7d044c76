// Package email sends outbound mail over SMTP. Without an SMTP host the
// message is only logged.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wneessen/go-mail"
)

var ErrInvalid = errors.New("invalid email")

const (
	DefaultSubject = "No Subject"
	DefaultFrom    = "noreply@example.com"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Security is one of "tls", "starttls" or "none".
	Security string
}

type OutboundEmail struct {
	From    string
	To      []string
	Subject string
	Body    string
	HTML    bool
}

type SendResult struct {
	MessageID string `json:"messageId,omitempty"`
	Delivered bool   `json:"delivered"`
}

type Sender struct {
	cfg     Config
	logger  *slog.Logger
	deliver func(ctx context.Context, client *mail.Client, msg *mail.Msg) error
}

func NewSender(log *slog.Logger, cfg Config) *Sender {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	return &Sender{
		cfg:    cfg,
		logger: log.With(slog.String("service", "email")),
		deliver: func(ctx context.Context, client *mail.Client, msg *mail.Msg) error {
			return client.DialAndSendWithContext(ctx, msg)
		},
	}
}

func (s *Sender) Enabled() bool { return strings.TrimSpace(s.cfg.Host) != "" }

// Send validates msg, applies defaults and delivers it when SMTP is
// configured.
func (s *Sender) Send(ctx context.Context, msg OutboundEmail) (SendResult, error) {
	msg, err := s.normalize(msg)
	if err != nil {
		return SendResult{}, err
	}
	if !s.Enabled() {
		s.logger.Info("smtp not configured, email logged only",
			slog.String("from", msg.From),
			slog.Any("to", msg.To),
			slog.String("subject", msg.Subject),
			slog.Int("body_length", len(msg.Body)),
		)
		return SendResult{}, nil
	}

	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return SendResult{}, fmt.Errorf("%w: set from: %v", ErrInvalid, err)
	}
	if err := m.To(msg.To...); err != nil {
		return SendResult{}, fmt.Errorf("%w: set to: %v", ErrInvalid, err)
	}
	m.Subject(msg.Subject)
	if msg.HTML {
		m.SetBodyString(mail.TypeTextHTML, msg.Body)
	} else {
		m.SetBodyString(mail.TypeTextPlain, msg.Body)
	}
	m.SetMessageID()

	client, err := mail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return SendResult{}, fmt.Errorf("create smtp client: %w", err)
	}
	if err := s.deliver(ctx, client, m); err != nil {
		return SendResult{}, fmt.Errorf("send email: %w", err)
	}
	s.logger.Info("email sent", slog.Any("to", msg.To), slog.String("subject", msg.Subject))
	return SendResult{MessageID: m.GetMessageID(), Delivered: true}, nil
}

func (s *Sender) normalize(msg OutboundEmail) (OutboundEmail, error) {
	to := make([]string, 0, len(msg.To))
	for _, addr := range msg.To {
		for _, part := range strings.Split(addr, ",") {
			if part = strings.TrimSpace(part); part != "" {
				to = append(to, part)
			}
		}
	}
	if len(to) == 0 {
		return OutboundEmail{}, fmt.Errorf("%w: Recipient (to) is required", ErrInvalid)
	}
	if strings.TrimSpace(msg.Body) == "" {
		return OutboundEmail{}, fmt.Errorf("%w: Email body is required", ErrInvalid)
	}
	msg.To = to
	if strings.TrimSpace(msg.Subject) == "" {
		msg.Subject = DefaultSubject
	}
	if strings.TrimSpace(msg.From) == "" {
		msg.From = s.cfg.From
	}
	if strings.TrimSpace(msg.From) == "" {
		msg.From = DefaultFrom
	}
	return msg, nil
}

func (s *Sender) clientOptions() []mail.Option {
	opts := []mail.Option{mail.WithPort(s.cfg.Port)}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	switch strings.ToLower(strings.TrimSpace(s.cfg.Security)) {
	case "tls":
		opts = append(opts, mail.WithSSLPort(false), mail.WithTLSPolicy(mail.TLSMandatory))
	case "none":
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	return opts
}
