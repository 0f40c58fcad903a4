package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/sand/storefront-payments/backend/internal/core/ports"
	"github.com/sand/storefront-payments/backend/internal/entities"
)

// systemCaller is the identity the reminder uses to read orders.
var systemCaller = entities.Caller{ID: "system:payment-reminder", Role: entities.RoleAdmin}

type StaleSubmissionSource interface {
	ListStaleSubmissions(ctx context.Context, olderThan time.Duration) ([]entities.Payment, error)
	GetOrderPayment(ctx context.Context, caller entities.Caller, orderID string) (*entities.OrderPayment, error)
}

// PaymentReminder periodically tells admins about submissions that have been
// awaiting verification for too long. Each submission is reminded about once.
type PaymentReminder struct {
	logger   *slog.Logger
	source   StaleSubmissionSource
	notifier ports.Notifier

	// How long a submission may stay awaiting before admins are reminded
	remindAfter time.Duration

	// How often to look for stale submissions
	interval time.Duration

	scheduler gocron.Scheduler

	mu       sync.Mutex
	reminded map[string]time.Time // payment id -> updated_at it was reminded for
}

func NewPaymentReminder(
	logger *slog.Logger,
	source StaleSubmissionSource,
	notifier ports.Notifier,
	remindAfter time.Duration,
	interval time.Duration,
) *PaymentReminder {
	return &PaymentReminder{
		logger:      logger,
		source:      source,
		notifier:    notifier,
		remindAfter: remindAfter,
		interval:    interval,
		reminded:    make(map[string]time.Time),
	}
}

// Start schedules the reminder job; the first run happens immediately.
func (pr *PaymentReminder) Start(ctx context.Context) error {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(pr.interval),
		gocron.NewTask(pr.run, ctx),
		gocron.WithName("payment-reminder"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to schedule payment reminder: %w", err)
	}

	pr.scheduler = s
	s.Start()

	pr.logger.Info("Starting payment reminder worker",
		"remind_after", pr.remindAfter.String(),
		"interval", pr.interval.String())

	return nil
}

func (pr *PaymentReminder) Stop() error {
	if pr.scheduler == nil {
		return nil
	}
	if err := pr.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop payment reminder: %w", err)
	}
	pr.logger.Info("Payment reminder worker stopped")
	return nil
}

func (pr *PaymentReminder) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := pr.remindStale(ctx); err != nil {
		pr.logger.Error("Payment reminder run failed", "error", err)
	}
}

// remindStale notifies about every stale submission not reminded yet and
// returns how many notifications were sent.
func (pr *PaymentReminder) remindStale(ctx context.Context) (int, error) {
	pr.logger.Debug("Looking for stale payment submissions", "older_than", pr.remindAfter.String())

	stale, err := pr.source.ListStaleSubmissions(ctx, pr.remindAfter)
	if err != nil {
		return 0, err
	}

	pr.mu.Lock()
	defer pr.mu.Unlock()

	current := make(map[string]struct{}, len(stale))
	sent := 0

	for _, p := range stale {
		current[p.ID] = struct{}{}
		if at, ok := pr.reminded[p.ID]; ok && at.Equal(p.UpdatedAt) {
			continue
		}

		orderNumber := p.OrderID
		var email *string
		if op, err := pr.source.GetOrderPayment(ctx, systemCaller, p.OrderID); err != nil {
			pr.logger.Warn("Failed to load order for reminder", "order_id", p.OrderID, "error", err)
		} else {
			orderNumber = op.Order.OrderNumber
			email = op.Order.CustomerEmail
		}

		pr.notifier.Notify(ctx, entities.Notification{
			Event: entities.PaymentEvent{
				ID:            uuid.NewString(),
				OrderID:       p.OrderID,
				PaymentID:     p.ID,
				Kind:          entities.PaymentEventStale,
				ActorID:       systemCaller.ID,
				ReferenceCode: p.ReferenceCode,
				Amount:        p.Amount,
				CreatedAt:     p.UpdatedAt,
			},
			OrderNumber:   orderNumber,
			UserID:        p.UserID,
			CustomerEmail: email,
		})

		pr.reminded[p.ID] = p.UpdatedAt
		sent++
	}

	// Forget submissions that were verified, rejected or resubmitted since.
	for id := range pr.reminded {
		if _, ok := current[id]; !ok {
			delete(pr.reminded, id)
		}
	}

	if sent > 0 {
		pr.logger.Info("Reminded admins about stale payments", "count", sent, "older_than", pr.remindAfter.String())
	} else {
		pr.logger.Debug("No stale payments to remind about")
	}

	return sent, nil
}
