package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

type Statistics struct {
	TotalSubmitted             int             `json:"total_submitted"`
	TotalAwaiting              int             `json:"total_awaiting"`
	TotalVerified              int             `json:"total_verified"`
	TotalRejected              int             `json:"total_rejected"`
	TotalVerifiedAmount        decimal.Decimal `json:"total_verified_amount"`
	AverageVerificationLatency time.Duration   `json:"average_verification_latency_ns"`
	AverageVerificationSeconds float64         `json:"average_verification_seconds"`
	GeneratedAt                time.Time       `json:"generated_at"`
}
