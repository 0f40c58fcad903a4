package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentEventKind string

const (
	PaymentEventSubmitted PaymentEventKind = "submitted"
	PaymentEventConfirmed PaymentEventKind = "confirmed"
	PaymentEventRejected  PaymentEventKind = "rejected"
	// PaymentEventStale is only dispatched as a notification, never stored.
	PaymentEventStale PaymentEventKind = "stale"
)

// PaymentEvent is an append-only audit row; also the notification payload.
type PaymentEvent struct {
	ID            string           `json:"id"             db:"id"`
	OrderID       string           `json:"order_id"       db:"order_id"`
	PaymentID     string           `json:"payment_id"     db:"payment_id"`
	Kind          PaymentEventKind `json:"kind"           db:"kind"`
	ActorID       string           `json:"actor_id"       db:"actor_id"`
	ReferenceCode string           `json:"reference_code" db:"reference_code"`
	Amount        decimal.Decimal  `json:"amount"         db:"amount"`
	Note          *string          `json:"note,omitempty" db:"note"`
	CreatedAt     time.Time        `json:"created_at"     db:"created_at"`
}

// Notification carries an event plus the context needed to deliver it.
type Notification struct {
	Event         PaymentEvent `json:"event"`
	OrderNumber   string       `json:"order_number"`
	UserID        string       `json:"user_id"`
	CustomerEmail *string      `json:"-"`
}
