package workers

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sand/storefront-payments/backend/internal/core/ports"
	"github.com/sand/storefront-payments/backend/internal/entities"
	"github.com/sand/storefront-payments/backend/internal/screening"
	"github.com/sand/storefront-payments/backend/internal/testutil"
	"github.com/sand/storefront-payments/backend/internal/usecases"
)

func TestPaymentReminderRemindsOncePerSubmission(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := testutil.NewStore()
	clock := testutil.NewClock(time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC), time.Second)

	checks, err := screening.NewLocalChecks(logger, ports.DefaultReferencePattern)
	require.NoError(t, err)
	svc := usecases.NewReconciliationService(logger, store.Orders(), store.Payments(), store.Transactor(), checks,
		usecases.WithClock(clock.Now))

	user := entities.Caller{ID: "user-1", Role: entities.RoleUser}
	for _, id := range []string{"A", "B"} {
		store.SeedOrder(entities.Order{
			ID:            id,
			UserID:        user.ID,
			OrderNumber:   "ORD-20250314-0000000" + id,
			TotalAmount:   decimal.NewFromInt(100),
			PaymentStatus: entities.PaymentStatusPending,
		})
		_, err = svc.SubmitPayment(context.Background(), user, ports.SubmitPaymentInput{
			OrderID: id, ReferenceCode: "REF000" + id, Amount: decimal.NewFromInt(100),
		})
		require.NoError(t, err)
	}

	notifier := &testutil.RecordingNotifier{}
	reminder := NewPaymentReminder(logger, svc, notifier, time.Hour, time.Minute)

	sent, err := reminder.remindStale(context.Background())
	require.NoError(t, err)
	require.Zero(t, sent)

	clock.Advance(2 * time.Hour)

	sent, err = reminder.remindStale(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, sent)

	notes := notifier.Sent()
	require.Len(t, notes, 2)
	for _, n := range notes {
		require.Equal(t, entities.PaymentEventStale, n.Event.Kind)
		require.Contains(t, n.OrderNumber, "ORD-20250314-")
	}

	sent, err = reminder.remindStale(context.Background())
	require.NoError(t, err)
	require.Zero(t, sent, "already reminded")

	// A resubmission starts a new waiting period.
	_, err = svc.SubmitPayment(context.Background(), user, ports.SubmitPaymentInput{
		OrderID: "A", ReferenceCode: "REF111A", Amount: decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	sent, err = reminder.remindStale(context.Background())
	require.NoError(t, err)
	require.Zero(t, sent)

	clock.Advance(2 * time.Hour)
	sent, err = reminder.remindStale(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sent)
	require.Len(t, notifier.Sent(), 3)
}

func TestPaymentReminderStartStop(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := testutil.NewStore()
	checks, err := screening.NewLocalChecks(logger, ports.DefaultReferencePattern)
	require.NoError(t, err)
	svc := usecases.NewReconciliationService(logger, store.Orders(), store.Payments(), store.Transactor(), checks)

	reminder := NewPaymentReminder(logger, svc, &testutil.RecordingNotifier{}, time.Hour, time.Minute)
	require.NoError(t, reminder.Start(context.Background()))
	require.NoError(t, reminder.Stop())
}
