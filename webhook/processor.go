package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mintgate/notify"
)

// Processor applies decoded lifecycle events to the notification token store.
// Event application is idempotent: replaying an event converges on the same
// stored state.
type Processor struct {
	tokens notify.TokenStore
	logger *slog.Logger
	nowFn  func() time.Time
}

func NewProcessor(tokens notify.TokenStore, logger *slog.Logger) (*Processor, error) {
	if tokens == nil {
		return nil, fmt.Errorf("webhook: token store required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{tokens: tokens, logger: logger, nowFn: time.Now}, nil
}

// Process mutates the token store to reflect the event. Storage failures are
// returned so the caller can signal the client to redeliver.
func (p *Processor) Process(ctx context.Context, event Event) error {
	switch e := event.(type) {
	case MiniAppAdded:
		if e.Notifications == nil {
			// Added without notification permission; nothing to store.
			p.logger.Info("miniapp added", "fid", e.FID, "notifications", false)
			return nil
		}
		p.logger.Info("miniapp added", "fid", e.FID, "notifications", true)
		return p.saveToken(ctx, e.FID, *e.Notifications)
	case NotificationsEnabled:
		p.logger.Info("notifications enabled", "fid", e.FID)
		return p.saveToken(ctx, e.FID, e.Notifications)
	case MiniAppRemoved:
		p.logger.Info("miniapp removed", "fid", e.FID)
		return p.tokens.DeleteToken(ctx, e.FID)
	case NotificationsDisabled:
		p.logger.Info("notifications disabled", "fid", e.FID)
		return p.tokens.DeleteToken(ctx, e.FID)
	default:
		return fmt.Errorf("%w: unhandled event kind %q", ErrMalformedEvent, event.kind())
	}
}

func (p *Processor) saveToken(ctx context.Context, fid uint64, details NotificationDetails) error {
	if details.Token == "" || details.URL == "" {
		return fmt.Errorf("%w: incomplete notification details", ErrMalformedEvent)
	}
	return p.tokens.SaveToken(ctx, notify.NotificationToken{
		FID:     fid,
		Token:   details.Token,
		URL:     details.URL,
		SavedAt: p.nowFn().UTC(),
	})
}
