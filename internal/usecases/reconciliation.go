package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sand/storefront-payments/backend/internal/core/ports"
	"github.com/sand/storefront-payments/backend/internal/entities"
	"github.com/sand/storefront-payments/backend/internal/screening"
	"github.com/sand/storefront-payments/backend/internal/usecases/repository"
)

var _ ports.ReconciliationService = (*ReconciliationService)(nil)

type PaymentsRepository interface {
	UpsertActivePayment(ctx context.Context, p *entities.Payment) (*entities.Payment, error)
	FindPaymentByOrderID(ctx context.Context, orderID string) (*entities.Payment, error)
	MarkPaymentVerified(ctx context.Context, paymentID, referenceCode, adminID string, at time.Time) (*entities.Payment, error)
	MarkPaymentRejected(ctx context.Context, paymentID, referenceCode, adminID string, reason *string, at time.Time) (*entities.Payment, error)
	CountReferenceUse(ctx context.Context, referenceCode, excludeOrderID string) (int, error)
	ListPayments(ctx context.Context, filter entities.PaymentFilter) ([]entities.Payment, error)
	FindUserPayments(ctx context.Context, userID string) ([]entities.Payment, error)
	FindAwaitingOlderThan(ctx context.Context, cutoff time.Time) ([]entities.Payment, error)
	ScanPayments(ctx context.Context, fn func(*entities.Payment) error) error
	AppendEvent(ctx context.Context, e *entities.PaymentEvent) error
	FindEventsByOrderID(ctx context.Context, orderID string) ([]entities.PaymentEvent, error)
}

// Transactor runs fn in one database transaction; repositories called with the
// ctx handed to fn join it. Satisfied by *transactor/pgx.Transactor.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Screener checks submissions before they reach the ledger.
type Screener interface {
	NormalizeReference(code string) (string, error)
	CheckSubmission(ctx context.Context, sub screening.Submission) (*screening.Result, error)
}

// ReconciliationService owns the order payment state machine:
//
//	pending  --submit--> awaiting --confirm--> paid (terminal)
//	awaiting --submit--> awaiting
//	awaiting --reject--> rejected --submit--> awaiting
//
// Every transition is a compare-and-swap on orders.payment_status executed in
// the same transaction as the ledger write, so racing callers see exactly one
// winner and the loser gets ErrConflict. Nothing is retried here.
type ReconciliationService struct {
	logger     *slog.Logger
	orders     OrdersRepository
	payments   PaymentsRepository
	transactor Transactor
	screener   Screener
	notifier   ports.Notifier
	stats      ports.StatisticsCache
	now        func() time.Time

	// bumped after every committed mutation; a statistics scan that
	// overlaps a bump is not cached
	statsGen atomic.Uint64
}

type ReconciliationOption func(*ReconciliationService)

// WithNotifier sets the fire-and-forget event sink.
func WithNotifier(n ports.Notifier) ReconciliationOption {
	return func(s *ReconciliationService) { s.notifier = n }
}

// WithStatisticsCache sets the statistics snapshot cache.
func WithStatisticsCache(c ports.StatisticsCache) ReconciliationOption {
	return func(s *ReconciliationService) { s.stats = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ReconciliationOption {
	return func(s *ReconciliationService) { s.now = now }
}

func NewReconciliationService(
	logger *slog.Logger,
	orders OrdersRepository,
	payments PaymentsRepository,
	transactor Transactor,
	screener Screener,
	opts ...ReconciliationOption,
) *ReconciliationService {
	s := &ReconciliationService{
		logger:     logger,
		orders:     orders,
		payments:   payments,
		transactor: transactor,
		screener:   screener,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitPayment records the caller's mobile-money reference against their order
// and moves it to awaiting. Resubmitting overwrites the single active payment.
func (s *ReconciliationService) SubmitPayment(ctx context.Context, caller entities.Caller, in ports.SubmitPaymentInput) (*entities.Order, error) {
	reference, err := s.screener.NormalizeReference(in.ReferenceCode)
	if err != nil {
		return nil, invalid("%s", err.Error())
	}
	if in.Amount.IsNegative() {
		return nil, invalid("%s", screening.ErrNegativeAmount.Error())
	}

	var (
		order   *entities.Order
		payment *entities.Payment
		event   *entities.PaymentEvent
	)

	err = s.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error

		order, err = s.orders.FindOrderByID(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			return notFound("Order not found")
		}
		if !caller.Owns(order) {
			return forbidden("Not authorized to submit payment for this order")
		}
		if order.PaymentStatus.Terminal() {
			return conflict("Order is already paid")
		}

		reuse, err := s.payments.CountReferenceUse(ctx, reference, order.ID)
		if err != nil {
			return err
		}

		result, err := s.screener.CheckSubmission(ctx, screening.Submission{
			OrderID:       order.ID,
			OrderTotal:    order.TotalAmount,
			Amount:        in.Amount,
			ReferenceCode: reference,
			ReuseCount:    reuse,
		})
		if err != nil {
			return invalid("%s", err.Error())
		}

		now := s.now()
		swapped, err := s.orders.TransitionPaymentStatus(ctx, entities.StatusTransition{
			OrderID:       order.ID,
			From:          entities.SubmittableStatuses(),
			To:            entities.PaymentStatusAwaiting,
			ReferenceCode: &reference,
			At:            now,
		})
		if err != nil {
			return err
		}
		if !swapped {
			return conflict("Order payment status changed concurrently, reload and try again")
		}

		payment, err = s.payments.UpsertActivePayment(ctx, &entities.Payment{
			ID:            uuid.NewString(),
			OrderID:       order.ID,
			UserID:        order.UserID,
			Method:        order.PaymentMethod,
			Amount:        in.Amount,
			ReferenceCode: reference,
			Attempts:      1,
			Flags:         result.Strings(),
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		if errors.Is(err, repository.ErrPaymentVerified) {
			return conflict("Order is already paid")
		}
		if err != nil {
			return err
		}

		order.PaymentStatus = entities.PaymentStatusAwaiting
		order.ReferenceCode = &reference
		order.UpdatedAt = now

		event = s.newEvent(payment, entities.PaymentEventSubmitted, caller.ID, nil)

		return s.payments.AppendEvent(ctx, event)
	})
	if err != nil {
		return nil, s.fail(ctx, "submit payment", err, "order_id", in.OrderID, "caller_id", caller.ID)
	}

	s.logger.InfoContext(ctx, "Payment submitted",
		"order_id", order.ID,
		"reference_code", reference,
		"amount", in.Amount.String(),
		"attempts", payment.Attempts,
		"flags", payment.Flags)

	s.afterMutation(ctx, order, event)

	return order, nil
}

// VerifyPayment lets an admin confirm or reject the awaiting payment of an order.
func (s *ReconciliationService) VerifyPayment(ctx context.Context, caller entities.Caller, in ports.VerifyPaymentInput) (*entities.OrderPayment, error) {
	if !caller.IsAdmin() {
		return nil, forbidden("Only administrators can verify payments")
	}

	var target entities.PaymentStatus
	switch in.Action {
	case ports.VerifyConfirm:
		target = entities.PaymentStatusPaid
	case ports.VerifyReject:
		target = entities.PaymentStatusRejected
	default:
		return nil, invalid("Unknown verification action %q", in.Action)
	}

	var (
		order   *entities.Order
		payment *entities.Payment
		event   *entities.PaymentEvent
	)

	err := s.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error

		order, err = s.orders.FindOrderByID(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			return notFound("Order not found")
		}
		if order.PaymentStatus != entities.PaymentStatusAwaiting {
			return conflict("Order payment is %s, only awaiting payments can be verified", order.PaymentStatus)
		}

		// Take the row lock first: a resubmission racing this call either
		// committed already (and is read below) or fails its own swap.
		now := s.now()
		swapped, err := s.orders.TransitionPaymentStatus(ctx, entities.StatusTransition{
			OrderID: order.ID,
			From:    []entities.PaymentStatus{entities.PaymentStatusAwaiting},
			To:      target,
			At:      now,
		})
		if err != nil {
			return err
		}
		if !swapped {
			return conflict("Payment was already verified by another request")
		}

		payment, err = s.payments.FindPaymentByOrderID(ctx, order.ID)
		if err != nil {
			return err
		}
		if payment == nil {
			return fmt.Errorf("order %s is awaiting without a payment record", order.ID)
		}
		if order.ReferenceCode != nil && *order.ReferenceCode != payment.ReferenceCode {
			return conflict("Payment was resubmitted during verification, reload and try again")
		}

		if in.ExpectedReference != "" {
			expected, err := s.screener.NormalizeReference(in.ExpectedReference)
			if err != nil || expected != payment.ReferenceCode {
				return invalid("Transaction code does not match the submitted reference")
			}
		}

		var note *string
		switch in.Action {
		case ports.VerifyConfirm:
			payment, err = s.payments.MarkPaymentVerified(ctx, payment.ID, payment.ReferenceCode, caller.ID, now)
		case ports.VerifyReject:
			if in.RejectionReason != "" {
				reason := in.RejectionReason
				note = &reason
			}
			payment, err = s.payments.MarkPaymentRejected(ctx, payment.ID, payment.ReferenceCode, caller.ID, note, now)
		}
		if errors.Is(err, repository.ErrPaymentChanged) {
			return conflict("Payment changed during verification, reload and try again")
		}
		if err != nil {
			return err
		}

		order.PaymentStatus = target
		order.UpdatedAt = now

		kind := entities.PaymentEventConfirmed
		if in.Action == ports.VerifyReject {
			kind = entities.PaymentEventRejected
		}
		event = s.newEvent(payment, kind, caller.ID, note)

		return s.payments.AppendEvent(ctx, event)
	})
	if err != nil {
		return nil, s.fail(ctx, "verify payment", err, "order_id", in.OrderID, "admin_id", caller.ID, "action", in.Action)
	}

	s.logger.InfoContext(ctx, "Payment verified",
		"order_id", order.ID,
		"action", in.Action,
		"admin_id", caller.ID,
		"payment_status", order.PaymentStatus)

	s.afterMutation(ctx, order, event)

	return &entities.OrderPayment{Order: order, Payment: payment}, nil
}

// GetOrderPayment returns the order with its active payment (nil before the
// first submission) to the order owner or an admin.
func (s *ReconciliationService) GetOrderPayment(ctx context.Context, caller entities.Caller, orderID string) (*entities.OrderPayment, error) {
	order, err := s.authorizedOrder(ctx, caller, orderID, "Not authorized to view this payment")
	if err != nil {
		return nil, s.fail(ctx, "get order payment", err, "order_id", orderID)
	}

	payment, err := s.payments.FindPaymentByOrderID(ctx, order.ID)
	if err != nil {
		return nil, s.fail(ctx, "get order payment", err, "order_id", orderID)
	}

	return &entities.OrderPayment{Order: order, Payment: payment}, nil
}

// GetPaymentHistory returns the caller's own orders and payments.
func (s *ReconciliationService) GetPaymentHistory(ctx context.Context, caller entities.Caller) (*entities.PaymentHistory, error) {
	if caller.ID == "" {
		return nil, forbidden("Not authorized")
	}

	orders, err := s.orders.FindUserOrders(ctx, caller.ID)
	if err != nil {
		return nil, s.fail(ctx, "get payment history", err, "user_id", caller.ID)
	}

	payments, err := s.payments.FindUserPayments(ctx, caller.ID)
	if err != nil {
		return nil, s.fail(ctx, "get payment history", err, "user_id", caller.ID)
	}

	return &entities.PaymentHistory{Orders: orders, Payments: payments}, nil
}

// ListPaymentEvents returns the audit trail of an order, oldest first.
func (s *ReconciliationService) ListPaymentEvents(ctx context.Context, caller entities.Caller, orderID string) ([]entities.PaymentEvent, error) {
	order, err := s.authorizedOrder(ctx, caller, orderID, "Not authorized to view this payment")
	if err != nil {
		return nil, s.fail(ctx, "list payment events", err, "order_id", orderID)
	}

	events, err := s.payments.FindEventsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, s.fail(ctx, "list payment events", err, "order_id", orderID)
	}

	return events, nil
}

// ListPayments is admin-only; filters are conjunctive and nil ones are ignored.
func (s *ReconciliationService) ListPayments(ctx context.Context, caller entities.Caller, filter entities.PaymentFilter) ([]entities.Payment, error) {
	if !caller.IsAdmin() {
		return nil, forbidden("Only administrators can list payments")
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, invalid("Unknown payment status %q", *filter.Status)
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, invalid("Start date must not be after end date")
	}

	payments, err := s.payments.ListPayments(ctx, filter)
	if err != nil {
		return nil, s.fail(ctx, "list payments", err)
	}

	return payments, nil
}

// ListStaleSubmissions returns awaiting payments untouched for longer than olderThan.
func (s *ReconciliationService) ListStaleSubmissions(ctx context.Context, olderThan time.Duration) ([]entities.Payment, error) {
	payments, err := s.payments.FindAwaitingOlderThan(ctx, s.now().Add(-olderThan))
	if err != nil {
		return nil, s.fail(ctx, "list stale submissions", err)
	}
	return payments, nil
}

func (s *ReconciliationService) authorizedOrder(ctx context.Context, caller entities.Caller, orderID, denied string) (*entities.Order, error) {
	order, err := s.orders.FindOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, notFound("Order not found")
	}
	if !caller.Owns(order) && !caller.IsAdmin() {
		return nil, forbidden("%s", denied)
	}
	return order, nil
}

func (s *ReconciliationService) newEvent(p *entities.Payment, kind entities.PaymentEventKind, actorID string, note *string) *entities.PaymentEvent {
	return &entities.PaymentEvent{
		ID:            uuid.NewString(),
		OrderID:       p.OrderID,
		PaymentID:     p.ID,
		Kind:          kind,
		ActorID:       actorID,
		ReferenceCode: p.ReferenceCode,
		Amount:        p.Amount,
		Note:          note,
		CreatedAt:     p.UpdatedAt,
	}
}

// afterMutation drops the cached statistics and hands the event to the notifier.
// Neither may fail the already committed operation.
func (s *ReconciliationService) afterMutation(ctx context.Context, order *entities.Order, event *entities.PaymentEvent) {
	s.statsGen.Add(1)
	if s.stats != nil {
		if err := s.stats.Invalidate(ctx); err != nil {
			s.logger.WarnContext(ctx, "Failed to invalidate statistics cache", "error", err)
		}
	}

	if s.notifier != nil && event != nil {
		s.notifier.Notify(ctx, entities.Notification{
			Event:         *event,
			OrderNumber:   order.OrderNumber,
			UserID:        order.UserID,
			CustomerEmail: order.CustomerEmail,
		})
	}
}

// fail passes typed errors through and logs everything else as internal.
func (s *ReconciliationService) fail(ctx context.Context, op string, err error, attrs ...any) error {
	if IsRecoverable(err) {
		s.logger.DebugContext(ctx, "Payment operation refused", append([]any{"op", op, "reason", err.Error()}, attrs...)...)
		return err
	}

	s.logger.ErrorContext(ctx, "Payment operation failed", append([]any{"op", op, "error", err}, attrs...)...)
	return fmt.Errorf("%s: %w", op, err)
}
