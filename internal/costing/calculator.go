// Package costing holds the pure money arithmetic shared by billing cycles and
// adjustments. Every monetary result is rounded half-up to two places.
package costing

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/seatbill/pkg/errkind"
)

const moneyPlaces = 2

var (
	ErrNegativeSeats       = errkind.New(errkind.Validation, "negative_seat_count")
	ErrInvalidPrice        = errkind.New(errkind.Validation, "invalid_price_per_seat")
	ErrInvalidCycleMonths  = errkind.New(errkind.Validation, "invalid_billing_cycle_months")
	ErrInvalidExchangeRate = errkind.New(errkind.Validation, "invalid_exchange_rate")
	ErrInvalidTaxRate      = errkind.New(errkind.Validation, "invalid_tax_rate")
)

// TaxRule is an immutable snapshot of one tax applied to a charge.
// Rate is a fraction, 0.10 for ten percent.
type TaxRule struct {
	Name string          `json:"name"`
	Rate decimal.Decimal `json:"rate"`
}

// Options tunes jurisdiction-specific rounding.
type Options struct {
	// RuleLevelRounding rounds each rule's tax before summing.
	RuleLevelRounding bool
}

// Round applies half-up rounding at money precision. For the non-negative
// amounts billed here decimal's half-away-from-zero is identical.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}

// EffectiveSeats applies the license minimum.
func EffectiveSeats(billableSeats, minimumSeats int) int {
	return max(billableSeats, minimumSeats)
}

// BaseCostUSD is price × max(billable, minimum) × months.
func BaseCostUSD(pricePerSeatUSD decimal.Decimal, billableSeats, minimumSeats, cycleMonths int) (decimal.Decimal, error) {
	if billableSeats < 0 || minimumSeats < 0 {
		return decimal.Zero, ErrNegativeSeats
	}
	if pricePerSeatUSD.IsNegative() {
		return decimal.Zero, ErrInvalidPrice
	}
	if cycleMonths <= 0 {
		return decimal.Zero, ErrInvalidCycleMonths
	}
	seats := decimal.NewFromInt(int64(EffectiveSeats(billableSeats, minimumSeats)))
	return Round(pricePerSeatUSD.Mul(seats).Mul(decimal.NewFromInt(int64(cycleMonths)))), nil
}

// AdjustmentSubtotalUSD is added × monthsRemaining × price.
func AdjustmentSubtotalUSD(employeesAdded, monthsRemaining int, pricePerEmployeeUSD decimal.Decimal) (decimal.Decimal, error) {
	if employeesAdded < 0 {
		return decimal.Zero, ErrNegativeSeats
	}
	if monthsRemaining < 0 {
		return decimal.Zero, ErrInvalidCycleMonths
	}
	if pricePerEmployeeUSD.IsNegative() {
		return decimal.Zero, ErrInvalidPrice
	}
	return Round(decimal.NewFromInt(int64(employeesAdded)).
		Mul(decimal.NewFromInt(int64(monthsRemaining))).
		Mul(pricePerEmployeeUSD)), nil
}

// Tax sums amount × rate over rules and rounds the total.
func Tax(amount decimal.Decimal, rules []TaxRule, opts Options) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, rule := range rules {
		if rule.Rate.IsNegative() {
			return decimal.Zero, ErrInvalidTaxRate
		}
		term := amount.Mul(rule.Rate)
		if opts.RuleLevelRounding {
			term = Round(term)
		}
		total = total.Add(term)
	}
	return Round(total), nil
}

// Convert turns a USD amount into the billing currency.
func Convert(amountUSD, exchangeRate decimal.Decimal) decimal.Decimal {
	return Round(amountUSD.Mul(exchangeRate))
}

// MonthsRemaining counts the billing months still ahead of now in a period
// ending at periodEnd. A started month counts as a full one; past the end it is 0.
// Months are stepped back from periodEnd so a month-end anchor never rolls
// into the following month.
func MonthsRemaining(now, periodEnd time.Time) int {
	if !now.Before(periodEnd) {
		return 0
	}
	months := 1
	for monthsBefore(periodEnd, months).After(now) {
		months++
	}
	return months
}

// monthsBefore moves t back n calendar months, clamping the day to the
// length of the target month.
func monthsBefore(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	target := time.Date(y, m-time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := target.AddDate(0, 1, -1).Day(); d > last {
		d = last
	}
	return target.AddDate(0, 0, d-1)
}

// Charge is a fully priced amount in USD and the billing currency.
type Charge struct {
	SubtotalUSD   decimal.Decimal
	TaxUSD        decimal.Decimal
	TotalUSD      decimal.Decimal
	SubtotalLocal decimal.Decimal
	TaxLocal      decimal.Decimal
	TotalLocal    decimal.Decimal
	Currency      string
	ExchangeRate  decimal.Decimal
	TaxRules      []TaxRule
}

// Price taxes a USD subtotal and converts each component independently.
func Price(subtotalUSD decimal.Decimal, rules []TaxRule, exchangeRate decimal.Decimal, currency string, opts Options) (Charge, error) {
	if !exchangeRate.IsPositive() {
		return Charge{}, ErrInvalidExchangeRate
	}
	subtotal := Round(subtotalUSD)
	tax, err := Tax(subtotal, rules, opts)
	if err != nil {
		return Charge{}, err
	}
	total := Round(subtotal.Add(tax))

	snapshot := make([]TaxRule, len(rules))
	copy(snapshot, rules)

	return Charge{
		SubtotalUSD:   subtotal,
		TaxUSD:        tax,
		TotalUSD:      total,
		SubtotalLocal: Convert(subtotal, exchangeRate),
		TaxLocal:      Convert(tax, exchangeRate),
		TotalLocal:    Convert(total, exchangeRate),
		Currency:      strings.ToUpper(strings.TrimSpace(currency)),
		ExchangeRate:  exchangeRate,
		TaxRules:      snapshot,
	}, nil
}

// LocalDrift is totalLocal minus round(subtotalLocal + taxLocal). Independent
// conversion can leave a cent of drift, which callers must check rather than assume away.
func (c Charge) LocalDrift() decimal.Decimal {
	return c.TotalLocal.Sub(Round(c.SubtotalLocal.Add(c.TaxLocal)))
}

// Breakdown renders "added × price × months" for adjustment records.
func Breakdown(employeesAdded int, pricePerEmployeeUSD decimal.Decimal, monthsRemaining int) string {
	return fmt.Sprintf("%d × %s × %d", employeesAdded, pricePerEmployeeUSD.StringFixed(moneyPlaces), monthsRemaining)
}
