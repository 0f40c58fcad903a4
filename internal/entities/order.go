package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the reconciliation state of an order.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusAwaiting PaymentStatus = "awaiting"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRejected PaymentStatus = "rejected"
)

// submittable lists the states a new reference code may be submitted from.
var submittable = []PaymentStatus{PaymentStatusPending, PaymentStatusAwaiting, PaymentStatusRejected}

// SubmittableStatuses returns the statuses from which SubmitPayment may move an order to awaiting.
func SubmittableStatuses() []PaymentStatus {
	out := make([]PaymentStatus, len(submittable))
	copy(out, submittable)
	return out
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusAwaiting, PaymentStatusPaid, PaymentStatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusPaid
}

var validNext = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentStatusPending:  {PaymentStatusAwaiting: true},
	PaymentStatusAwaiting: {PaymentStatusAwaiting: true, PaymentStatusPaid: true, PaymentStatusRejected: true},
	PaymentStatusRejected: {PaymentStatusAwaiting: true},
	PaymentStatusPaid:     {},
}

func CanTransition(from, to PaymentStatus) bool {
	return validNext[from][to]
}

type Order struct {
	ID            string          `json:"id"             db:"id"`
	UserID        string          `json:"user_id"        db:"user_id"`
	OrderNumber   string          `json:"order_number"   db:"order_number"`
	TotalAmount   decimal.Decimal `json:"total_amount"   db:"total_amount"`
	PaymentStatus PaymentStatus   `json:"payment_status" db:"payment_status"`
	PaymentMethod string          `json:"payment_method" db:"payment_method"`
	ReferenceCode *string         `json:"reference_code" db:"reference_code"`
	CustomerEmail *string         `json:"customer_email,omitempty" db:"customer_email"`
	CreatedAt     time.Time       `json:"created_at"     db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"     db:"updated_at"`
}

// StatusTransition is a compare-and-swap on Order.PaymentStatus: it applies only
// while the current status is one of From.
type StatusTransition struct {
	OrderID       string
	From          []PaymentStatus
	To            PaymentStatus
	ReferenceCode *string
	At            time.Time
}
