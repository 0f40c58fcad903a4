package usecases

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sand/storefront-payments/backend/internal/entities"
)

// StatisticsAccumulator folds ledger rows into Statistics in one pass.
type StatisticsAccumulator struct {
	stats        entities.Statistics
	latencyTotal time.Duration
}

func NewStatisticsAccumulator() *StatisticsAccumulator {
	return &StatisticsAccumulator{stats: entities.Statistics{TotalVerifiedAmount: decimal.Zero}}
}

func (a *StatisticsAccumulator) Add(p *entities.Payment) {
	a.stats.TotalSubmitted++

	switch p.Status() {
	case entities.LedgerStatusVerified:
		a.stats.TotalVerified++
		a.stats.TotalVerifiedAmount = a.stats.TotalVerifiedAmount.Add(p.Amount)
		if p.VerifiedAt != nil {
			a.latencyTotal += p.VerifiedAt.Sub(p.CreatedAt)
		}
	case entities.LedgerStatusRejected:
		a.stats.TotalRejected++
	default:
		a.stats.TotalAwaiting++
	}
}

func (a *StatisticsAccumulator) Result(at time.Time) *entities.Statistics {
	out := a.stats
	if out.TotalVerified > 0 {
		out.AverageVerificationLatency = a.latencyTotal / time.Duration(out.TotalVerified)
	}
	out.AverageVerificationSeconds = out.AverageVerificationLatency.Seconds()
	out.GeneratedAt = at
	return &out
}

// GetStatistics is admin-only. A cached snapshot is returned when present;
// cache failures fall through to a fresh ledger scan. A scan that overlapped a
// mutation in this process is returned but not cached. Mutations committed by
// other instances only invalidate the key, so a snapshot they race with can
// stay cached until its TTL expires.
func (s *ReconciliationService) GetStatistics(ctx context.Context, caller entities.Caller) (*entities.Statistics, error) {
	if !caller.IsAdmin() {
		return nil, forbidden("Only administrators can view payment statistics")
	}

	if s.stats != nil {
		cached, ok, err := s.stats.Get(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "Statistics cache read failed", "error", err)
		} else if ok {
			return cached, nil
		}
	}

	gen := s.statsGen.Load()

	acc := NewStatisticsAccumulator()
	err := s.payments.ScanPayments(ctx, func(p *entities.Payment) error {
		acc.Add(p)
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, "get statistics", err)
	}

	stats := acc.Result(s.now())

	if s.stats != nil && s.statsGen.Load() == gen {
		if err = s.stats.Set(ctx, stats); err != nil {
			s.logger.WarnContext(ctx, "Statistics cache write failed", "error", err)
		}
	}

	return stats, nil
}
