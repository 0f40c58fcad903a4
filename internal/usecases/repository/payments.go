package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"

	"github.com/sand/storefront-payments/backend/internal/entities"
	"github.com/sand/storefront-payments/backend/pkg/database"
)

// ErrPaymentVerified is returned when a write would touch an already verified payment.
var ErrPaymentVerified = errors.New("payment is already verified")

// ErrPaymentChanged is returned when a verification targets a payment that is
// verified or no longer carries the reviewed reference code.
var ErrPaymentChanged = errors.New("payment is verified or was resubmitted")

var paymentColumns = []string{
	"id", "order_id", "user_id", "method", "amount", "reference_code",
	"verified", "verified_by", "verified_at",
	"rejection_reason", "rejected_by", "rejected_at",
	"attempts", "flags", "created_at", "updated_at",
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PaymentsRepository is the payment ledger: one row per order plus an
// append-only event log.
type PaymentsRepository struct {
	logger *slog.Logger

	db tx.DBGetter
}

func NewPaymentsRepository(logger *slog.Logger, pg *database.Postgres) *PaymentsRepository {
	return &PaymentsRepository{logger: logger, db: pg.DBGetter}
}

// UpsertActivePayment creates the order's payment or overwrites the unverified
// one in place, clearing any previous rejection and bumping attempts.
func (r *PaymentsRepository) UpsertActivePayment(ctx context.Context, p *entities.Payment) (*entities.Payment, error) {
	flags := p.Flags
	if flags == nil {
		flags = []string{}
	}

	query, args, err := psql.Insert("payments").
		Columns("id", "order_id", "user_id", "method", "amount", "reference_code", "flags", "created_at", "updated_at").
		Values(p.ID, p.OrderID, p.UserID, p.Method, p.Amount, p.ReferenceCode, flags, p.CreatedAt, p.UpdatedAt).
		Suffix(`ON CONFLICT (order_id) DO UPDATE
		           SET method           = EXCLUDED.method,
		               amount           = EXCLUDED.amount,
		               reference_code   = EXCLUDED.reference_code,
		               flags            = EXCLUDED.flags,
		               verified_by      = NULL,
		               verified_at      = NULL,
		               rejection_reason = NULL,
		               rejected_by      = NULL,
		               rejected_at      = NULL,
		               attempts         = payments.attempts + 1,
		               updated_at       = EXCLUDED.updated_at
		         WHERE NOT payments.verified
		     RETURNING ` + columnList()).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build payment upsert: %w", err)
	}

	payment, err := r.collectOne(ctx, query, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentVerified
	}
	return payment, err
}

func (r *PaymentsRepository) FindPaymentByOrderID(ctx context.Context, orderID string) (*entities.Payment, error) {
	query, args, err := psql.Select(paymentColumns...).From("payments").Where(sq.Eq{"order_id": orderID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build payment query: %w", err)
	}

	payment, err := r.collectOne(ctx, query, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return payment, err
}

// MarkPaymentVerified confirms the payment only while it is unverified and still
// carries referenceCode.
func (r *PaymentsRepository) MarkPaymentVerified(ctx context.Context, paymentID, referenceCode, adminID string, at time.Time) (*entities.Payment, error) {
	query := `UPDATE payments
	             SET verified         = TRUE,
	                 verified_by      = $2,
	                 verified_at      = $3,
	                 rejection_reason = NULL,
	                 rejected_by      = NULL,
	                 rejected_at      = NULL,
	                 updated_at       = $3
	           WHERE id = $1 AND reference_code = $4 AND NOT verified
	       RETURNING ` + columnList()

	payment, err := r.collectOne(ctx, query, paymentID, adminID, at, referenceCode)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentChanged
	}
	return payment, err
}

func (r *PaymentsRepository) MarkPaymentRejected(ctx context.Context, paymentID, referenceCode, adminID string, reason *string, at time.Time) (*entities.Payment, error) {
	query := `UPDATE payments
	             SET rejection_reason = $3,
	                 rejected_by      = $2,
	                 rejected_at      = $4,
	                 updated_at       = $4
	           WHERE id = $1 AND reference_code = $5 AND NOT verified
	       RETURNING ` + columnList()

	payment, err := r.collectOne(ctx, query, paymentID, adminID, reason, at, referenceCode)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentChanged
	}
	return payment, err
}

// CountReferenceUse counts payments on other orders carrying the same reference code.
func (r *PaymentsRepository) CountReferenceUse(ctx context.Context, referenceCode, excludeOrderID string) (int, error) {
	var n int
	err := r.db(ctx).QueryRow(ctx,
		"SELECT COUNT(*) FROM payments WHERE reference_code = $1 AND order_id <> $2",
		referenceCode, excludeOrderID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count reference use: %w", err)
	}
	return n, nil
}

// ListPayments applies every non-nil filter conjunctively, newest first.
func (r *PaymentsRepository) ListPayments(ctx context.Context, filter entities.PaymentFilter) ([]entities.Payment, error) {
	q := psql.Select(paymentColumns...).From("payments").OrderBy("created_at DESC")

	if filter.Verified != nil {
		q = q.Where(sq.Eq{"verified": *filter.Verified})
	}
	if filter.Status != nil {
		switch *filter.Status {
		case entities.LedgerStatusVerified:
			q = q.Where(sq.Eq{"verified": true})
		case entities.LedgerStatusRejected:
			q = q.Where(sq.Eq{"verified": false}).Where(sq.NotEq{"rejected_at": nil})
		case entities.LedgerStatusAwaiting:
			q = q.Where(sq.Eq{"verified": false, "rejected_at": nil})
		}
	}
	if filter.From != nil {
		q = q.Where(sq.GtOrEq{"created_at": *filter.From})
	}
	if filter.To != nil {
		q = q.Where(sq.LtOrEq{"created_at": *filter.To})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build payments query: %w", err)
	}

	return r.collectMany(ctx, query, args...)
}

func (r *PaymentsRepository) FindUserPayments(ctx context.Context, userID string) ([]entities.Payment, error) {
	query, args, err := psql.Select(paymentColumns...).From("payments").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build user payments query: %w", err)
	}

	return r.collectMany(ctx, query, args...)
}

// FindAwaitingOlderThan returns unverified, unrejected payments last touched before cutoff.
func (r *PaymentsRepository) FindAwaitingOlderThan(ctx context.Context, cutoff time.Time) ([]entities.Payment, error) {
	query, args, err := psql.Select(paymentColumns...).From("payments").
		Where(sq.Eq{"verified": false, "rejected_at": nil}).
		Where(sq.Lt{"updated_at": cutoff}).
		OrderBy("updated_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build stale payments query: %w", err)
	}

	return r.collectMany(ctx, query, args...)
}

// ScanPayments streams every ledger row to fn without buffering the table.
func (r *PaymentsRepository) ScanPayments(ctx context.Context, fn func(*entities.Payment) error) error {
	query, args, err := psql.Select(paymentColumns...).From("payments").ToSql()
	if err != nil {
		return fmt.Errorf("failed to build payments scan: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to scan payments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		payment, err := pgx.RowToAddrOfStructByName[entities.Payment](rows)
		if err != nil {
			return fmt.Errorf("failed to read payment row: %w", err)
		}
		if err = fn(payment); err != nil {
			return err
		}
	}

	return rows.Err()
}

func (r *PaymentsRepository) AppendEvent(ctx context.Context, e *entities.PaymentEvent) error {
	query, args, err := psql.Insert("payment_events").
		Columns("id", "order_id", "payment_id", "kind", "actor_id", "reference_code", "amount", "note", "created_at").
		Values(e.ID, e.OrderID, e.PaymentID, e.Kind, e.ActorID, e.ReferenceCode, e.Amount, e.Note, e.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build payment event insert: %w", err)
	}

	if _, err = r.db(ctx).Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to append payment event: %w", err)
	}
	return nil
}

func (r *PaymentsRepository) FindEventsByOrderID(ctx context.Context, orderID string) ([]entities.PaymentEvent, error) {
	rows, err := r.db(ctx).Query(ctx, `
		SELECT id, order_id, payment_id, kind, actor_id, reference_code, amount, note, created_at
		  FROM payment_events
		 WHERE order_id = $1
		 ORDER BY created_at ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment events: %w", err)
	}

	events, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.PaymentEvent])
	if err != nil {
		r.logger.Error("failed to collect payment event rows", "error", err)
		return nil, err
	}

	return events, nil
}

func (r *PaymentsRepository) collectOne(ctx context.Context, query string, args ...any) (*entities.Payment, error) {
	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment: %w", err)
	}

	payment, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[entities.Payment])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to collect payment row: %w", err)
	}

	return payment, nil
}

func (r *PaymentsRepository) collectMany(ctx context.Context, query string, args ...any) ([]entities.Payment, error) {
	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}

	payments, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.Payment])
	if err != nil {
		r.logger.Error("failed to collect payments rows", "error", err)
		return nil, err
	}

	return payments, nil
}

func columnList() string {
	return strings.Join(paymentColumns, ", ")
}
