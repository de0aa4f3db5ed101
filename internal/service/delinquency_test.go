package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/escolaplus/escola-api/internal/models"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDelinquencyComputeOverdue(t *testing.T) {
	calc := NewDelinquencyCalculator(0.02, 30)

	// 61 days late: two complete 30-day blocks.
	got := calc.Compute(decimal.NewFromInt(1000), day(2025, time.January, 10), models.ChargeStatusOpen, nil, day(2025, time.March, 12))

	assert.Equal(t, 61, got.DaysLate)
	assert.Equal(t, "40.00", got.MonthlyPenalty.StringFixed(2))
	assert.Equal(t, "40.67", got.DailyPenalty.StringFixed(2))
	assert.Equal(t, "1080.67", got.TotalDue.StringFixed(2))
}

func TestDelinquencyComputeNotYetDue(t *testing.T) {
	calc := NewDelinquencyCalculator(0.02, 30)

	got := calc.Compute(decimal.NewFromInt(1000), day(2025, time.March, 10), models.ChargeStatusOpen, nil, day(2025, time.March, 1))

	assert.Equal(t, 0, got.DaysLate)
	assert.True(t, got.MonthlyPenalty.IsZero())
	assert.True(t, got.DailyPenalty.IsZero())
	assert.Equal(t, "1000.00", got.TotalDue.StringFixed(2))
}

func TestDelinquencyComputeDueToday(t *testing.T) {
	calc := NewDelinquencyCalculator(0.02, 30)

	// Same calendar day counts as on time even later in the day.
	eval := time.Date(2025, time.March, 10, 23, 30, 0, 0, time.UTC)
	got := calc.Compute(decimal.NewFromInt(500), day(2025, time.March, 10), models.ChargeStatusOpen, nil, eval)

	assert.Equal(t, 0, got.DaysLate)
	assert.Equal(t, "500.00", got.TotalDue.StringFixed(2))
}

func TestDelinquencyComputeUnderOneBlock(t *testing.T) {
	calc := NewDelinquencyCalculator(0.02, 30)

	// 29 days late: daily interest only, no complete block.
	got := calc.Compute(decimal.NewFromInt(1000), day(2025, time.January, 1), models.ChargeStatusOpen, nil, day(2025, time.January, 30))

	assert.Equal(t, 29, got.DaysLate)
	assert.True(t, got.MonthlyPenalty.IsZero())
	assert.Equal(t, "19.33", got.DailyPenalty.StringFixed(2))
	assert.Equal(t, "1019.33", got.TotalDue.StringFixed(2))
}

func TestDelinquencyComputeBlockBoundary(t *testing.T) {
	calc := NewDelinquencyCalculator(0.02, 30)

	at29 := calc.Compute(decimal.NewFromInt(1000), day(2025, time.January, 1), models.ChargeStatusOpen, nil, day(2025, time.January, 30))
	at30 := calc.Compute(decimal.NewFromInt(1000), day(2025, time.January, 1), models.ChargeStatusOpen, nil, day(2025, time.January, 31))

	assert.True(t, at29.MonthlyPenalty.IsZero())
	assert.Equal(t, "20.00", at30.MonthlyPenalty.StringFixed(2))
	assert.Equal(t, "20.00", at30.DailyPenalty.StringFixed(2))
	assert.Equal(t, "1040.00", at30.TotalDue.StringFixed(2))
}

func TestDelinquencyComputeTerminalStatuses(t *testing.T) {
	calc := NewDelinquencyCalculator(0.02, 30)
	paid := decimal.NewFromFloat(1050.50)

	// A settled charge reports the amount actually paid.
	got := calc.Compute(decimal.NewFromInt(1000), day(2024, time.June, 1), models.ChargeStatusPaid, &paid, day(2025, time.March, 1))
	assert.Equal(t, 0, got.DaysLate)
	assert.Equal(t, "1050.50", got.TotalDue.StringFixed(2))

	// Other terminal states without payment fall back to the base amount.
	got = calc.Compute(decimal.NewFromInt(1000), day(2024, time.June, 1), models.ChargeStatusCancelled, nil, day(2025, time.March, 1))
	assert.True(t, got.MonthlyPenalty.IsZero())
	assert.Equal(t, "1000.00", got.TotalDue.StringFixed(2))
}

func TestDelinquencyComputeDeterministic(t *testing.T) {
	calc := NewDelinquencyCalculator(0.02, 30)
	base := decimal.NewFromFloat(937.41)
	due := day(2025, time.February, 5)
	eval := day(2025, time.May, 20)

	first := calc.Compute(base, due, models.ChargeStatusOpen, nil, eval)
	second := calc.Compute(base, due, models.ChargeStatusOpen, nil, eval)

	assert.True(t, first.TotalDue.Equal(second.TotalDue))
	assert.Equal(t, first.DaysLate, second.DaysLate)
}

func TestDelinquencyDefaultPolicy(t *testing.T) {
	calc := NewDelinquencyCalculator(0, 0)

	got := calc.Compute(decimal.NewFromInt(100), day(2025, time.January, 1), models.ChargeStatusOpen, nil, day(2025, time.January, 31))
	assert.Equal(t, "2.00", got.MonthlyPenalty.StringFixed(2))
}
