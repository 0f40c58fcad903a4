package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sand/storefront-payments/backend/internal/entities"
)

// VerifyAction is the admin decision on an awaiting payment.
type VerifyAction string

const (
	VerifyConfirm VerifyAction = "confirm"
	VerifyReject  VerifyAction = "reject"
)

type SubmitPaymentInput struct {
	OrderID       string
	ReferenceCode string
	Amount        decimal.Decimal
}

type VerifyPaymentInput struct {
	OrderID         string
	Action          VerifyAction
	RejectionReason string
	// ExpectedReference, when set, must match the submitted reference code.
	ExpectedReference string
}

// ReconciliationService drives the submit/verify workflow of order payments.
type ReconciliationService interface {
	SubmitPayment(ctx context.Context, caller entities.Caller, in SubmitPaymentInput) (*entities.Order, error)
	VerifyPayment(ctx context.Context, caller entities.Caller, in VerifyPaymentInput) (*entities.OrderPayment, error)
	GetOrderPayment(ctx context.Context, caller entities.Caller, orderID string) (*entities.OrderPayment, error)
	GetPaymentHistory(ctx context.Context, caller entities.Caller) (*entities.PaymentHistory, error)
	ListPaymentEvents(ctx context.Context, caller entities.Caller, orderID string) ([]entities.PaymentEvent, error)
	ListPayments(ctx context.Context, caller entities.Caller, filter entities.PaymentFilter) ([]entities.Payment, error)
	GetStatistics(ctx context.Context, caller entities.Caller) (*entities.Statistics, error)
	ListStaleSubmissions(ctx context.Context, olderThan time.Duration) ([]entities.Payment, error)
}

type CreateOrderInput struct {
	TotalAmount   decimal.Decimal
	PaymentMethod string
	CustomerEmail string
}

// OrderService defines the interface for order operations.
type OrderService interface {
	CreateOrder(ctx context.Context, caller entities.Caller, in CreateOrderInput) (*entities.Order, error)
	GetUserOrders(ctx context.Context, caller entities.Caller) ([]entities.Order, error)
}

// Notifier delivers payment events. Implementations must not block the caller.
type Notifier interface {
	Notify(ctx context.Context, n entities.Notification)
}

// StatisticsCache holds a short-lived statistics snapshot.
type StatisticsCache interface {
	Get(ctx context.Context) (*entities.Statistics, bool, error)
	Set(ctx context.Context, stats *entities.Statistics) error
	Invalidate(ctx context.Context) error
}
