package screening

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// LocalChecks screens payment submissions without calling the provider.
type LocalChecks struct {
	logger *slog.Logger

	referencePattern *regexp.Regexp
}

func NewLocalChecks(logger *slog.Logger, referencePattern string) (*LocalChecks, error) {
	re, err := regexp.Compile(referencePattern)
	if err != nil {
		return nil, fmt.Errorf("invalid reference pattern %q: %w", referencePattern, err)
	}

	logger.Info("Initialized submission screening", "reference_pattern", referencePattern)

	return &LocalChecks{
		logger:           logger,
		referencePattern: re,
	}, nil
}

// NormalizeReference trims and upper-cases a reference code and validates its shape.
func (s *LocalChecks) NormalizeReference(code string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return "", ErrEmptyReference
	}
	if !s.referencePattern.MatchString(normalized) {
		return "", ErrMalformedReference
	}
	return normalized, nil
}

// CheckSubmission rejects underpayments and flags overpayments and reused codes.
func (s *LocalChecks) CheckSubmission(ctx context.Context, sub Submission) (*Result, error) {
	if sub.Amount.IsNegative() {
		return nil, ErrNegativeAmount
	}
	if sub.Amount.LessThan(sub.OrderTotal) {
		return nil, ErrUnderpayment
	}

	result := &Result{}

	if sub.Amount.GreaterThan(sub.OrderTotal) {
		result.Flags = append(result.Flags, FlagAmountExceedsTotal)
	}

	if sub.ReuseCount > 0 {
		result.Flags = append(result.Flags, FlagReferenceReused)
	}

	result.RequiresReview = len(result.Flags) > 0

	if result.RequiresReview {
		s.logger.WarnContext(ctx, "Payment submission flagged for review",
			"order_id", sub.OrderID,
			"reference_code", sub.ReferenceCode,
			"amount", sub.Amount.String(),
			"order_total", sub.OrderTotal.String(),
			"flags", result.Strings())
	}

	return result, nil
}
