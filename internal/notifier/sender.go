package notifier

import (
	"context"

	"CampaignSentinel/internal/model"
)

// Sender delivers a rendered notification over one channel.
type Sender interface {
	Channel() model.Channel
	Send(ctx context.Context, n *model.Notification) error
}
