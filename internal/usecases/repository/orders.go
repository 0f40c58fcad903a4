package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"

	"github.com/sand/storefront-payments/backend/internal/entities"
	"github.com/sand/storefront-payments/backend/pkg/database"
)

const orderColumns = `id, user_id, order_number, total_amount, payment_status, payment_method,
       reference_code, customer_email, created_at, updated_at`

type OrdersRepository struct {
	logger *slog.Logger

	db tx.DBGetter
}

func NewOrdersRepository(logger *slog.Logger, pg *database.Postgres) *OrdersRepository {
	return &OrdersRepository{logger: logger, db: pg.DBGetter}
}

func (r *OrdersRepository) InsertOrder(ctx context.Context, order *entities.Order) error {
	_, err := r.db(ctx).Exec(ctx, `
		INSERT INTO orders (id, user_id, order_number, total_amount, payment_status, payment_method,
		                    reference_code, customer_email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		order.ID, order.UserID, order.OrderNumber, order.TotalAmount, order.PaymentStatus, order.PaymentMethod,
		order.ReferenceCode, order.CustomerEmail, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// FindOrderByID returns nil when the order does not exist.
func (r *OrdersRepository) FindOrderByID(ctx context.Context, id string) (*entities.Order, error) {
	rows, err := r.db(ctx).Query(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query order: %w", err)
	}

	order, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[entities.Order])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect order row: %w", err)
	}

	return order, nil
}

func (r *OrdersRepository) FindUserOrders(ctx context.Context, userID string) ([]entities.Order, error) {
	rows, err := r.db(ctx).Query(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user orders: %w", err)
	}

	orders, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.Order])
	if err != nil {
		r.logger.Error("failed to collect orders rows", "error", err)
		return nil, err
	}

	return orders, nil
}

// TransitionPaymentStatus applies t only while the stored status is one of t.From.
// It reports false when the guard did not match (or the order is gone). Under
// READ COMMITTED a concurrent writer blocks on the row lock and then re-checks
// the guard, so exactly one of two racing transitions succeeds.
func (r *OrdersRepository) TransitionPaymentStatus(ctx context.Context, t entities.StatusTransition) (bool, error) {
	from := make([]string, 0, len(t.From))
	for _, s := range t.From {
		from = append(from, string(s))
	}

	ct, err := r.db(ctx).Exec(ctx, `
		UPDATE orders
		   SET payment_status = $2,
		       reference_code = COALESCE($3, reference_code),
		       updated_at     = $4
		 WHERE id = $1
		   AND payment_status = ANY($5::text[])`,
		t.OrderID, t.To, t.ReferenceCode, t.At, from)
	if err != nil {
		return false, fmt.Errorf("failed to update payment status of order %s: %w", t.OrderID, err)
	}

	return ct.RowsAffected() == 1, nil
}
