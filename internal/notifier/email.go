package notifier

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/go-mail/mail/v2"
	"github.com/rs/zerolog"

	"CampaignSentinel/internal/model"
)

// MailDialer sends prepared messages; *mail.Dialer satisfies it.
type MailDialer interface {
	DialAndSend(m ...*mail.Message) error
}

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	Username           string   `yaml:"username"`
	Password           string   `yaml:"password"`
	From               string   `yaml:"from"`
	DefaultTo          []string `yaml:"default_to"`
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify"`
}

// EmailSender delivers HTML notifications over SMTP.
type EmailSender struct {
	dialer    MailDialer
	from      string
	defaultTo []string
	log       zerolog.Logger
}

// NewEmailSender builds a sender backed by an SMTP dialer.
func NewEmailSender(cfg EmailConfig, log zerolog.Logger) *EmailSender {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	return NewEmailSenderWithDialer(d, cfg.From, cfg.DefaultTo, log)
}

// NewEmailSenderWithDialer uses a caller-supplied dialer.
func NewEmailSenderWithDialer(d MailDialer, from string, defaultTo []string, log zerolog.Logger) *EmailSender {
	return &EmailSender{
		dialer:    d,
		from:      from,
		defaultTo: defaultTo,
		log:       log.With().Str("service", "email").Logger(),
	}
}

func (s *EmailSender) Channel() model.Channel { return model.ChannelEmail }

// Send mails the notification to its recipients, or the default list when none are set.
func (s *EmailSender) Send(_ context.Context, n *model.Notification) error {
	to := splitRecipients(n.Recipient)
	if len(to) == 0 {
		to = s.defaultTo
	}
	if len(to) == 0 {
		return &model.ValidationError{Field: "recipient", Reason: "no email recipients"}
	}

	m := mail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", n.Subject)
	m.SetBody("text/html", n.Content)

	if err := s.dialer.DialAndSend(m); err != nil {
		return &model.ExternalServiceError{Service: "smtp", Op: "send", Err: err}
	}
	s.log.Info().Strs("to", to).Str("notification", n.ID).Msg("email sent")
	return nil
}

func splitRecipients(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

