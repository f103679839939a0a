package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"CampaignSentinel/internal/model"
)

// DefaultNATSSubject is used when no subject is configured.
const DefaultNATSSubject = "sentinel.alerts"

// MsgPublisher is the slice of *nats.Conn the sender needs.
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSSender publishes JSON alert payloads to a subject.
type NATSSender struct {
	pub     MsgPublisher
	subject string
	conn    *nats.Conn
	log     zerolog.Logger
}

// DialNATS connects to url and returns a sender publishing on subject.
func DialNATS(url, subject string, log zerolog.Logger) (*NATSSender, error) {
	nc, err := nats.Connect(url,
		nats.Name("campaign-sentinel"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	s := NewNATSSender(nc, subject, log)
	s.conn = nc
	return s, nil
}

// NewNATSSender wraps an existing publisher.
func NewNATSSender(pub MsgPublisher, subject string, log zerolog.Logger) *NATSSender {
	if subject == "" {
		subject = DefaultNATSSubject
	}
	return &NATSSender{pub: pub, subject: subject, log: log.With().Str("service", "nats").Logger()}
}

func (s *NATSSender) Channel() model.Channel { return model.ChannelNATS }

// Send publishes the notification. A recipient is used as a subject suffix.
func (s *NATSSender) Send(_ context.Context, n *model.Notification) error {
	subject := s.subject
	if n.Recipient != "" {
		subject = subject + "." + n.Recipient
	}
	msg := nats.NewMsg(subject)
	msg.Header.Set(nats.MsgIdHdr, n.ID)
	msg.Header.Set("Content-Type", "application/json")
	msg.Data = []byte(n.Content)
	if err := s.pub.PublishMsg(msg); err != nil {
		return &model.ExternalServiceError{Service: "nats", Op: "publish", Err: err}
	}
	s.log.Debug().Str("subject", subject).Str("notification", n.ID).Msg("published")
	return nil
}

// Close drains the owned connection, if any.
func (s *NATSSender) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
