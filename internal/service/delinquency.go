package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/escolaplus/escola-api/internal/models"
)

// LateFeeBreakdown is the delinquency calculator's output for one charge.
type LateFeeBreakdown struct {
	DaysLate       int             `json:"days_late"`
	MonthlyPenalty decimal.Decimal `json:"monthly_penalty"`
	DailyPenalty   decimal.Decimal `json:"daily_penalty"`
	TotalDue       decimal.Decimal `json:"total_due"`
}

// DelinquencyCalculator derives late fees as a pure function of elapsed time.
// Two components apply to an open overdue charge:
//   - the monthly penalty, a step function: the base rate multiplied by the
//     number of complete 30-day blocks of lateness;
//   - daily moratorium interest, the base rate spread over the block length
//     and applied linearly per day late.
type DelinquencyCalculator struct {
	monthlyRate decimal.Decimal
	blockDays   int
}

// NewDelinquencyCalculator builds a calculator with the given monthly rate
// (e.g. 0.02 for 2%) and block length in days. Non-positive inputs fall back
// to the standard 2% / 30-day policy.
func NewDelinquencyCalculator(monthlyRate float64, blockDays int) *DelinquencyCalculator {
	if monthlyRate <= 0 {
		monthlyRate = 0.02
	}
	if blockDays <= 0 {
		blockDays = 30
	}
	return &DelinquencyCalculator{
		monthlyRate: decimal.NewFromFloat(monthlyRate),
		blockDays:   blockDays,
	}
}

// Compute returns the late-fee breakdown for a charge evaluated at evalDate.
// Charges that are not OPEN, or not yet past due, accrue nothing: the total is
// the recorded payment when present, otherwise the base amount. The same
// inputs always produce the same output.
func (c *DelinquencyCalculator) Compute(base decimal.Decimal, dueDate time.Time, status models.ChargeStatus, paidAmount *decimal.Decimal, evalDate time.Time) LateFeeBreakdown {
	zero := decimal.Zero
	if status != models.ChargeStatusOpen {
		total := base
		if paidAmount != nil {
			total = *paidAmount
		}
		return LateFeeBreakdown{MonthlyPenalty: zero, DailyPenalty: zero, TotalDue: total.Round(2)}
	}

	daysLate := wholeDaysBetween(dueDate, evalDate)
	if daysLate <= 0 {
		return LateFeeBreakdown{MonthlyPenalty: zero, DailyPenalty: zero, TotalDue: base.Round(2)}
	}

	blocks := daysLate / c.blockDays
	monthly := zero
	if blocks > 0 {
		monthly = base.Mul(c.monthlyRate).Mul(decimal.NewFromInt(int64(blocks))).Round(2)
	}

	dailyRate := c.monthlyRate.Div(decimal.NewFromInt(int64(c.blockDays)))
	daily := base.Mul(dailyRate).Mul(decimal.NewFromInt(int64(daysLate))).Round(2)

	total := base.Add(monthly).Add(daily).Round(2)

	return LateFeeBreakdown{
		DaysLate:       daysLate,
		MonthlyPenalty: monthly,
		DailyPenalty:   daily,
		TotalDue:       total,
	}
}

// wholeDaysBetween counts complete calendar days from due to eval, never
// negative. Both instants are collapsed to their UTC date first so time of day
// cannot inflate the count.
func wholeDaysBetween(due, eval time.Time) int {
	dueDay := time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, time.UTC)
	evalDay := time.Date(eval.Year(), eval.Month(), eval.Day(), 0, 0, 0, 0, time.UTC)
	if !evalDay.After(dueDay) {
		return 0
	}
	return int(evalDay.Sub(dueDay).Hours() / 24)
}
