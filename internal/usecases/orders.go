package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sand/storefront-payments/backend/internal/core/ports"
	"github.com/sand/storefront-payments/backend/internal/entities"
)

var _ ports.OrderService = (*OrderService)(nil)

type OrdersRepository interface {
	InsertOrder(ctx context.Context, order *entities.Order) error
	FindOrderByID(ctx context.Context, id string) (*entities.Order, error)
	FindUserOrders(ctx context.Context, userID string) ([]entities.Order, error)
	TransitionPaymentStatus(ctx context.Context, t entities.StatusTransition) (bool, error)
}

type OrderService struct {
	logger        *slog.Logger
	repo          OrdersRepository
	defaultMethod string
	now           func() time.Time
}

func NewOrderService(logger *slog.Logger, repo OrdersRepository, defaultMethod string) *OrderService {
	if defaultMethod == "" {
		defaultMethod = ports.DefaultPaymentMethod
	}
	return &OrderService{logger: logger, repo: repo, defaultMethod: defaultMethod, now: time.Now}
}

func (os *OrderService) GetUserOrders(ctx context.Context, caller entities.Caller) ([]entities.Order, error) {
	if caller.ID == "" {
		return nil, forbidden("Not authorized")
	}
	return os.repo.FindUserOrders(ctx, caller.ID)
}

// CreateOrder opens a pending order for the caller.
func (os *OrderService) CreateOrder(ctx context.Context, caller entities.Caller, in ports.CreateOrderInput) (*entities.Order, error) {
	if caller.ID == "" {
		return nil, forbidden("Not authorized")
	}
	if in.TotalAmount.IsNegative() {
		return nil, invalid("Total amount must not be negative")
	}

	method := strings.ToLower(strings.TrimSpace(in.PaymentMethod))
	if method == "" {
		method = os.defaultMethod
	}

	now := os.now().UTC()
	id := uuid.New()

	order := &entities.Order{
		ID:            id.String(),
		UserID:        caller.ID,
		OrderNumber:   orderNumber(now, id),
		TotalAmount:   in.TotalAmount,
		PaymentStatus: entities.PaymentStatusPending,
		PaymentMethod: method,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if email := strings.TrimSpace(in.CustomerEmail); email != "" {
		order.CustomerEmail = &email
	}

	if err := os.repo.InsertOrder(ctx, order); err != nil {
		os.logger.ErrorContext(ctx, "Failed to create order", "user_id", caller.ID, "error", err)
		return nil, fmt.Errorf("create order: %w", err)
	}

	os.logger.InfoContext(ctx, "Order created",
		"order_id", order.ID,
		"order_number", order.OrderNumber,
		"total_amount", order.TotalAmount.String())

	return order, nil
}

// orderNumber formats ORD-YYYYMMDD-XXXXXXXX from the first uuid bytes.
func orderNumber(at time.Time, id uuid.UUID) string {
	return fmt.Sprintf("ORD-%s-%X", at.Format("20060102"), id[:4])
}
