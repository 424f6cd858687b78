package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCalculateProration(t *testing.T) {
	periodStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	t.Run("upgrade mid period yields a charge", func(t *testing.T) {
		effective := time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC)
		result := CalculateProration(
			decimal.NewFromInt(31), decimal.NewFromInt(62),
			&periodStart, &periodEnd, effective,
		)

		assert.Equal(t, 31, result.TotalDays)
		assert.Equal(t, 15, result.DaysUsed)
		assert.Equal(t, 16, result.DaysRemaining)
		assert.True(t, result.DailyDelta.Equal(decimal.NewFromInt(1)))
		assert.True(t, result.ChargeAmount.Equal(decimal.NewFromInt(16)),
			"charge: got %s", result.ChargeAmount)
		assert.True(t, result.CreditAmount.IsZero())
	})

	t.Run("downgrade mid period yields a credit", func(t *testing.T) {
		effective := time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC)
		result := CalculateProration(
			decimal.NewFromInt(62), decimal.NewFromInt(31),
			&periodStart, &periodEnd, effective,
		)

		assert.True(t, result.CreditAmount.Equal(decimal.NewFromInt(16)),
			"credit: got %s", result.CreditAmount)
		assert.True(t, result.ChargeAmount.IsZero())
		assert.True(t, result.ProrationAmount.Equal(decimal.NewFromInt(-16)))
	})

	t.Run("missing period dates yield the zero result", func(t *testing.T) {
		result := CalculateProration(
			decimal.NewFromInt(10), decimal.NewFromInt(20),
			nil, nil, time.Now(),
		)

		assert.Equal(t, 0, result.TotalDays)
		assert.True(t, result.ProrationAmount.IsZero())
		assert.True(t, result.CreditAmount.IsZero())
		assert.True(t, result.ChargeAmount.IsZero())
	})

	t.Run("effective date before the period clamps days used to zero", func(t *testing.T) {
		effective := time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC)
		result := CalculateProration(
			decimal.NewFromInt(31), decimal.NewFromInt(62),
			&periodStart, &periodEnd, effective,
		)

		assert.Equal(t, 0, result.DaysUsed)
		assert.Equal(t, 31, result.DaysRemaining)
		assert.True(t, result.ChargeAmount.Equal(decimal.NewFromInt(31)))
	})

	t.Run("effective date after the period yields no remaining days", func(t *testing.T) {
		effective := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		result := CalculateProration(
			decimal.NewFromInt(31), decimal.NewFromInt(62),
			&periodStart, &periodEnd, effective,
		)

		assert.Equal(t, 31, result.DaysUsed)
		assert.Equal(t, 0, result.DaysRemaining)
		assert.True(t, result.ProrationAmount.IsZero())
	})

	t.Run("partial days are counted with ceiling semantics", func(t *testing.T) {
		end := time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC)
		effective := time.Date(2026, 1, 2, 6, 0, 0, 0, time.UTC)
		result := CalculateProration(
			decimal.NewFromInt(31), decimal.NewFromInt(62),
			&periodStart, &end, effective,
		)

		assert.Equal(t, 31, result.TotalDays)
		assert.Equal(t, 2, result.DaysUsed)
		assert.Equal(t, 29, result.DaysRemaining)
	})
}
