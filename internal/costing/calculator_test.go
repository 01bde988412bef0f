package costing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(2))
}

var tenPercent = []TaxRule{{Name: "VAT", Rate: d("0.10")}}

func TestInitialCycleScenario(t *testing.T) {
	base, err := BaseCostUSD(d("10"), 3, 5, 1)
	require.NoError(t, err)
	assertMoney(t, "50.00", base)

	charge, err := Price(base, tenPercent, decimal.NewFromInt(1), "usd", Options{})
	require.NoError(t, err)
	assertMoney(t, "5.00", charge.TaxUSD)
	assertMoney(t, "55.00", charge.TotalUSD)
	assertMoney(t, "55.00", charge.TotalLocal)
	assert.Equal(t, "USD", charge.Currency)
	assert.True(t, charge.ExchangeRate.Equal(decimal.NewFromInt(1)))
}

func TestAdjustmentScenario(t *testing.T) {
	subtotal, err := AdjustmentSubtotalUSD(2, 1, d("10"))
	require.NoError(t, err)
	assertMoney(t, "20.00", subtotal)

	charge, err := Price(subtotal, tenPercent, decimal.NewFromInt(1), "USD", Options{})
	require.NoError(t, err)
	assertMoney(t, "2.00", charge.TaxUSD)
	assertMoney(t, "22.00", charge.TotalUSD)
	assert.Equal(t, "2 × 10.00 × 1", Breakdown(2, d("10"), 1))
}

func TestBaseCostRejectsInvalidInput(t *testing.T) {
	_, err := BaseCostUSD(d("10"), -1, 5, 1)
	assert.ErrorIs(t, err, ErrNegativeSeats)
	_, err = BaseCostUSD(d("-1"), 1, 5, 1)
	assert.ErrorIs(t, err, ErrInvalidPrice)
	_, err = BaseCostUSD(d("10"), 1, 5, 0)
	assert.ErrorIs(t, err, ErrInvalidCycleMonths)
	_, err = AdjustmentSubtotalUSD(-2, 1, d("10"))
	assert.ErrorIs(t, err, ErrNegativeSeats)
}

func TestTotalIsRoundedSumOfBaseAndTax(t *testing.T) {
	rules := []TaxRule{{Name: "GST", Rate: d("0.0725")}, {Name: "City", Rate: d("0.015")}}
	for seats := 0; seats <= 40; seats++ {
		base, err := BaseCostUSD(d("12.345"), seats, 3, 2)
		require.NoError(t, err)
		charge, err := Price(base, rules, d("1.3333"), "CAD", Options{})
		require.NoError(t, err)
		assert.True(t, charge.TotalUSD.Equal(Round(charge.SubtotalUSD.Add(charge.TaxUSD))), "seats=%d", seats)
	}
}

func TestTotalNeverDecreasesWithMoreSeats(t *testing.T) {
	prev := decimal.Zero
	for seats := 0; seats <= 60; seats++ {
		base, err := BaseCostUSD(d("7.99"), seats, 5, 3)
		require.NoError(t, err)
		charge, err := Price(base, tenPercent, d("0.92"), "EUR", Options{})
		require.NoError(t, err)
		assert.True(t, charge.TotalUSD.GreaterThanOrEqual(prev), "seats=%d", seats)
		prev = charge.TotalUSD
	}
}

func TestRuleLevelRounding(t *testing.T) {
	rules := []TaxRule{{Name: "A", Rate: d("0.05")}, {Name: "B", Rate: d("0.05")}}

	summed, err := Tax(d("10.05"), rules, Options{})
	require.NoError(t, err)
	assertMoney(t, "1.01", summed)

	perRule, err := Tax(d("10.05"), rules, Options{RuleLevelRounding: true})
	require.NoError(t, err)
	assertMoney(t, "1.00", perRule)

	_, err = Tax(d("10"), []TaxRule{{Name: "bad", Rate: d("-0.1")}}, Options{})
	assert.ErrorIs(t, err, ErrInvalidTaxRate)
}

func TestRoundHalfUp(t *testing.T) {
	assertMoney(t, "0.13", Round(d("0.125")))
	assertMoney(t, "2.68", Round(d("2.675")))
	assertMoney(t, "2.67", Round(d("2.6749")))
}

func TestLocalAmountsConvertedIndependently(t *testing.T) {
	charge, err := Price(d("50"), tenPercent, d("15000.5"), "IDR", Options{})
	require.NoError(t, err)
	assertMoney(t, "750025.00", charge.SubtotalLocal)
	assertMoney(t, "75002.50", charge.TaxLocal)
	assertMoney(t, "825027.50", charge.TotalLocal)
	assert.True(t, charge.LocalDrift().IsZero())

	drifting, err := Price(d("0.05"), []TaxRule{{Name: "Full", Rate: d("1")}}, d("1.1"), "SGD", Options{})
	require.NoError(t, err)
	assertMoney(t, "0.06", drifting.SubtotalLocal)
	assertMoney(t, "0.06", drifting.TaxLocal)
	assertMoney(t, "0.11", drifting.TotalLocal)
	assertMoney(t, "-0.01", drifting.LocalDrift())
}

func TestPriceRejectsNonPositiveRate(t *testing.T) {
	_, err := Price(d("10"), nil, decimal.Zero, "USD", Options{})
	assert.ErrorIs(t, err, ErrInvalidExchangeRate)
}

func TestPriceSnapshotsTaxRules(t *testing.T) {
	rules := []TaxRule{{Name: "VAT", Rate: d("0.10")}}
	charge, err := Price(d("10"), rules, decimal.NewFromInt(1), "USD", Options{})
	require.NoError(t, err)
	rules[0].Name = "mutated"
	assert.Equal(t, "VAT", charge.TaxRules[0].Name)
}

func TestMonthsRemaining(t *testing.T) {
	jan1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	feb1 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	apr1 := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 1, MonthsRemaining(jan1, feb1))
	assert.Equal(t, 1, MonthsRemaining(jan1.AddDate(0, 0, 14), feb1))
	assert.Equal(t, 3, MonthsRemaining(jan1.AddDate(0, 0, 14), apr1))
	assert.Equal(t, 2, MonthsRemaining(feb1, apr1))
	assert.Equal(t, 0, MonthsRemaining(apr1, apr1))
	assert.Equal(t, 0, MonthsRemaining(apr1.AddDate(0, 0, 1), apr1))
}

func TestMonthsRemainingAtMonthEnd(t *testing.T) {
	jan31 := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	feb28 := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)
	mar1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mar31 := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	dec31 := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 1, MonthsRemaining(jan31, feb28))
	assert.Equal(t, 2, MonthsRemaining(jan31, mar31))
	assert.Equal(t, 1, MonthsRemaining(feb28, mar31))
	assert.Equal(t, 1, MonthsRemaining(mar1, mar31))
	assert.Equal(t, 3, MonthsRemaining(dec31, mar1))
	assert.Equal(t, 2, MonthsRemaining(jan31, mar1))
}
