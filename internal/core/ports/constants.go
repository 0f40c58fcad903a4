package ports

import "time"

const (
	DefaultPaymentMethod    = "mpesa"
	DefaultReferencePattern = `^[A-Z0-9]{6,20}$`

	StatisticsCacheKey = "payments:stats"
	NotifyTimeout      = 10 * time.Second // Upper bound for a single fire-and-forget delivery
	RequestTimeout     = 5 * time.Second  // Per-request deadline applied by HTTP handlers
)
