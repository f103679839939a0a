package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"CampaignSentinel/internal/model"
	"CampaignSentinel/internal/recorder"
	"CampaignSentinel/internal/retry"
)

// Queue is the notification persistence the dispatcher drains.
type Queue interface {
	ListPendingNotifications(ctx context.Context, limit int) ([]model.Notification, error)
	UpdateNotification(ctx context.Context, n *model.Notification) error
}

// DispatchConfig tunes delivery.
type DispatchConfig struct {
	BatchSize    int           `yaml:"batch_size"`
	MaxAttempts  int           `yaml:"max_attempts"`
	Retries      int           `yaml:"retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	SendTimeout  time.Duration `yaml:"send_timeout"`
}

func (c DispatchConfig) withDefaults() DispatchConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	return c
}

// Dispatcher sends pending notifications through the registered senders.
type Dispatcher struct {
	queue   Queue
	senders map[model.Channel]Sender
	rec     recorder.Recorder
	cfg     DispatchConfig
	backoff retry.Backoff
	now     func() time.Time
	log     zerolog.Logger
}

// NewDispatcher creates a dispatcher. Channels without a sender fail their notifications.
func NewDispatcher(q Queue, senders []Sender, rec recorder.Recorder, cfg DispatchConfig, now func() time.Time, log zerolog.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	if now == nil {
		now = time.Now
	}
	m := make(map[model.Channel]Sender, len(senders))
	for _, s := range senders {
		if s != nil {
			m[s.Channel()] = s
		}
	}
	return &Dispatcher{
		queue:   q,
		senders: m,
		rec:     rec,
		cfg:     cfg,
		backoff: retry.New(cfg.RetryBackoff, cfg.Retries, cfg.SendTimeout),
		now:     now,
		log:     log.With().Str("service", "dispatcher").Logger(),
	}
}

// DispatchPending sends one batch of pending notifications and returns how many were delivered.
// Failures stay pending until MaxAttempts is reached.
func (d *Dispatcher) DispatchPending(ctx context.Context) (int, error) {
	pending, err := d.queue.ListPendingNotifications(ctx, d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending notifications: %w", err)
	}
	sent := 0
	for i := range pending {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		n := &pending[i]
		ok := d.deliver(ctx, n)
		if ok {
			sent++
		}
		d.rec.RecordNotification(&recorder.NotificationEvent{Channel: n.Channel, Sent: ok})
		if err := d.queue.UpdateNotification(ctx, n); err != nil {
			d.log.Error().Err(err).Str("notification", n.ID).Msg("update notification status")
		}
	}
	return sent, nil
}

func (d *Dispatcher) deliver(ctx context.Context, n *model.Notification) bool {
	n.Attempts++
	s, found := d.senders[n.Channel]
	if !found {
		n.Status = model.NotificationFailed
		n.LastError = fmt.Sprintf("no sender for channel %s", n.Channel)
		d.log.Warn().Str("channel", string(n.Channel)).Msg("no sender registered")
		return false
	}

	err := d.backoff.Do(ctx, func(ctx context.Context) error {
		err := s.Send(ctx, n)
		var ve *model.ValidationError
		if errors.As(err, &ve) {
			return retry.Permanent(err)
		}
		return err
	}, func(attempt int, wait time.Duration, err error) {
		d.log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Str("channel", string(n.Channel)).Msg("send failed, retrying")
	})
	if err == nil {
		t := d.now()
		n.Status = model.NotificationSent
		n.SentAt = &t
		n.LastError = ""
		return true
	}

	n.LastError = err.Error()
	var ve *model.ValidationError
	if errors.As(err, &ve) || n.Attempts >= d.cfg.MaxAttempts {
		n.Status = model.NotificationFailed
	}
	d.log.Error().Err(err).Str("notification", n.ID).Int("attempts", n.Attempts).Str("status", string(n.Status)).Msg("notification not delivered")
	return false
}
