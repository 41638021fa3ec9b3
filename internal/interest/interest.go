// Package interest computes simple (non-compounding) interest from plan terms
// and timestamps. Everything here is a pure function of its inputs, so accrual
// never needs to be stored for active stakes: it is recomputed on every read.
package interest

import (
	"time"

	"github.com/shopspring/decimal"

	"staking/internal/money"
)

var (
	hundred     = decimal.NewFromInt(100)
	daysPerYear = decimal.NewFromInt(365)
	monthsPer   = decimal.NewFromInt(12)
)

// Daily returns the interest earned per whole day, in units.
func Daily(principalUnits int64, apyPercent decimal.Decimal) int64 {
	principal := money.FromUnits(principalUnits)
	daily := principal.Mul(apyPercent).Div(hundred).Div(daysPerYear)
	return money.ToUnits(daily)
}

// Accrued returns the interest earned between stakedAt and now, in units.
// Elapsed time is truncated to whole days: a stake aged 23.9 hours has earned
// nothing, and accrual increases only at day boundaries.
func Accrued(principalUnits int64, apyPercent decimal.Decimal, stakedAt, now time.Time) int64 {
	days := WholeDays(stakedAt, now)
	if days == 0 {
		return 0
	}
	principal := money.FromUnits(principalUnits)
	accrued := principal.Mul(apyPercent).Div(hundred).Div(daysPerYear).Mul(decimal.NewFromInt(days))
	return money.ToUnits(accrued)
}

// WholeDays returns the number of complete 24h periods between two instants,
// never negative.
func WholeDays(from, to time.Time) int64 {
	if to.Before(from) {
		return 0
	}
	return int64(to.Sub(from) / (24 * time.Hour))
}

// Projection carries the projected earnings for a principal at a given rate.
type Projection struct {
	Daily   int64
	Monthly int64
	Yearly  int64
}

// Project computes daily, monthly and yearly interest projections in units.
// Monthly and yearly are computed from the rate directly, not by multiplying
// the already-truncated daily figure, so each projection carries at most one
// truncation.
func Project(principalUnits int64, apyPercent decimal.Decimal) Projection {
	principal := money.FromUnits(principalUnits)
	yearly := principal.Mul(apyPercent).Div(hundred)
	return Projection{
		Daily:   money.ToUnits(yearly.Div(daysPerYear)),
		Monthly: money.ToUnits(yearly.Div(monthsPer)),
		Yearly:  money.ToUnits(yearly),
	}
}
