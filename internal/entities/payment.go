package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment is the single active ledger record of an order. Resubmissions
// overwrite it; the full history lives in PaymentEvent rows.
type Payment struct {
	ID              string          `json:"id"               db:"id"`
	OrderID         string          `json:"order_id"         db:"order_id"`
	UserID          string          `json:"user_id"          db:"user_id"`
	Method          string          `json:"method"           db:"method"`
	Amount          decimal.Decimal `json:"amount"           db:"amount"`
	ReferenceCode   string          `json:"reference_code"   db:"reference_code"`
	Verified        bool            `json:"verified"         db:"verified"`
	VerifiedBy      *string         `json:"verified_by"      db:"verified_by"`
	VerifiedAt      *time.Time      `json:"verified_at"      db:"verified_at"`
	RejectionReason *string         `json:"rejection_reason" db:"rejection_reason"`
	RejectedBy      *string         `json:"rejected_by"      db:"rejected_by"`
	RejectedAt      *time.Time      `json:"rejected_at"      db:"rejected_at"`
	Attempts        int             `json:"attempts"         db:"attempts"`
	Flags           []string        `json:"flags"            db:"flags"`
	CreatedAt       time.Time       `json:"created_at"       db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"       db:"updated_at"`
}

// LedgerStatus derives the payment's position in the reconciliation flow.
type LedgerStatus string

const (
	LedgerStatusAwaiting LedgerStatus = "awaiting"
	LedgerStatusVerified LedgerStatus = "verified"
	LedgerStatusRejected LedgerStatus = "rejected"
)

func (s LedgerStatus) Valid() bool {
	switch s {
	case LedgerStatusAwaiting, LedgerStatusVerified, LedgerStatusRejected:
		return true
	}
	return false
}

func (p *Payment) Status() LedgerStatus {
	switch {
	case p.Verified:
		return LedgerStatusVerified
	case p.RejectedAt != nil:
		return LedgerStatusRejected
	default:
		return LedgerStatusAwaiting
	}
}

// OrderPayment pairs an order with its active payment, if any.
type OrderPayment struct {
	Order   *Order   `json:"order"`
	Payment *Payment `json:"payment"`
}

// PaymentHistory is a user's own orders and payments, newest first.
type PaymentHistory struct {
	Orders   []Order   `json:"orders"`
	Payments []Payment `json:"payments"`
}

// PaymentFilter narrows ListPayments. Nil fields impose no constraint.
type PaymentFilter struct {
	Verified *bool
	Status   *LedgerStatus
	From     *time.Time
	To       *time.Time
}
