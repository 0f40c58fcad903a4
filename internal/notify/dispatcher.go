package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sand/storefront-payments/backend/internal/core/ports"
	"github.com/sand/storefront-payments/backend/internal/entities"
)

var _ ports.Notifier = (*Dispatcher)(nil)

// Channel is one delivery target for payment notifications.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, n entities.Notification) error
}

// Dispatcher fans every notification out to its channels in the background.
// Delivery failures are logged and never reach the caller.
type Dispatcher struct {
	logger   *slog.Logger
	channels []Channel
	timeout  time.Duration

	wg sync.WaitGroup
}

func NewDispatcher(logger *slog.Logger, channels ...Channel) *Dispatcher {
	return &Dispatcher{
		logger:   logger,
		channels: channels,
		timeout:  ports.NotifyTimeout,
	}
}

func (d *Dispatcher) Notify(ctx context.Context, n entities.Notification) {
	// The request that triggered n is usually finished before delivery is.
	base := context.WithoutCancel(ctx)

	for _, ch := range d.channels {
		d.wg.Add(1)
		go func(ch Channel) {
			defer d.wg.Done()

			ctx, cancel := context.WithTimeout(base, d.timeout)
			defer cancel()

			if err := ch.Deliver(ctx, n); err != nil {
				d.logger.Error("Failed to deliver payment notification",
					"channel", ch.Name(),
					"kind", n.Event.Kind,
					"order_id", n.Event.OrderID,
					"error", err)
				return
			}

			d.logger.Debug("Payment notification delivered",
				"channel", ch.Name(),
				"kind", n.Event.Kind,
				"order_id", n.Event.OrderID)
		}(ch)
	}
}

// Wait blocks until all in-flight deliveries have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
