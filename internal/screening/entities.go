package screening

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Flag marks a submission that was accepted but needs an admin's attention.
type Flag string

const (
	FlagAmountExceedsTotal Flag = "amount_exceeds_total"
	FlagReferenceReused    Flag = "reference_reused"
)

var (
	ErrEmptyReference     = errors.New("reference code is required")
	ErrMalformedReference = errors.New("reference code is malformed")
	ErrNegativeAmount     = errors.New("amount must not be negative")
	ErrUnderpayment       = errors.New("amount is less than the order total")
)

// Submission is what the checks look at for one payment submission.
type Submission struct {
	OrderID       string
	OrderTotal    decimal.Decimal
	Amount        decimal.Decimal
	ReferenceCode string
	// ReuseCount is how many payments on other orders carry the same reference code.
	ReuseCount int
}

type Result struct {
	Flags          []Flag
	RequiresReview bool
}

func (r *Result) Strings() []string {
	out := make([]string, 0, len(r.Flags))
	for _, f := range r.Flags {
		out = append(out, string(f))
	}
	return out
}
