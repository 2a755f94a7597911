package cron

import (
	"fmt"
	"time"

	"github.com/bnema/snapkeep/internal/domain"
	"github.com/bnema/snapkeep/pkg/cronexpr"
)

// NextRun returns the first occurrence of expr strictly after after, evaluated
// in timezone (or fallback when timezone is empty). Invalid input wraps
// domain.ErrInvalidScheduleExpression.
func NextRun(expr, timezone string, after time.Time, fallback *time.Location) (time.Time, error) {
	loc, err := ResolveLocation(timezone, fallback)
	if err != nil {
		return time.Time{}, err
	}
	next, err := cronexpr.NextOccurrence(expr, after, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", domain.ErrInvalidScheduleExpression, err)
	}
	return next, nil
}

// ResolveLocation loads timezone, defaulting to fallback and then UTC.
func ResolveLocation(timezone string, fallback *time.Location) (*time.Location, error) {
	if timezone == "" {
		if fallback != nil {
			return fallback, nil
		}
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", domain.ErrInvalidScheduleExpression, timezone)
	}
	return loc, nil
}
