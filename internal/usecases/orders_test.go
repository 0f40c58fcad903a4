package usecases

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sand/storefront-payments/backend/internal/core/ports"
	"github.com/sand/storefront-payments/backend/internal/entities"
	"github.com/sand/storefront-payments/backend/internal/testutil"
)

func TestCreateOrder(t *testing.T) {
	store := testutil.NewStore()
	svc := NewOrderService(discardLogger(), store.Orders(), "")
	svc.now = func() time.Time { return baseTime }

	order, err := svc.CreateOrder(context.Background(), owner, ports.CreateOrderInput{
		TotalAmount:   decimal.RequireFromString("2500.00"),
		CustomerEmail: " buyer@example.com ",
	})
	require.NoError(t, err)

	require.Equal(t, entities.PaymentStatusPending, order.PaymentStatus)
	require.Equal(t, ports.DefaultPaymentMethod, order.PaymentMethod)
	require.Equal(t, owner.ID, order.UserID)
	require.Nil(t, order.ReferenceCode)
	require.Equal(t, "buyer@example.com", *order.CustomerEmail)
	require.Regexp(t, regexp.MustCompile(`^ORD-20250314-[0-9A-F]{8}$`), order.OrderNumber)

	stored, ok := store.Order(order.ID)
	require.True(t, ok)
	require.Equal(t, order.OrderNumber, stored.OrderNumber)

	orders, err := svc.GetUserOrders(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, orders, 1)

	orders, err = svc.GetUserOrders(context.Background(), stranger)
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestCreateOrderRejectsBadInput(t *testing.T) {
	store := testutil.NewStore()
	svc := NewOrderService(discardLogger(), store.Orders(), "mpesa")

	_, err := svc.CreateOrder(context.Background(), owner, ports.CreateOrderInput{TotalAmount: decimal.NewFromInt(-5)})
	require.ErrorIs(t, err, ErrInvalid)

	_, err = svc.CreateOrder(context.Background(), entities.Caller{}, ports.CreateOrderInput{TotalAmount: decimal.NewFromInt(5)})
	require.ErrorIs(t, err, ErrForbidden)

	store.FailOn("InsertOrder", errors.New("duplicate key"))
	_, err = svc.CreateOrder(context.Background(), owner, ports.CreateOrderInput{TotalAmount: decimal.NewFromInt(5)})
	require.Error(t, err)
	require.False(t, IsRecoverable(err))
}
