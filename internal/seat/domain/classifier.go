package domain

import (
	"strings"
	"time"
)

type Classification string

const (
	Billable    Classification = "BILLABLE"
	NonBillable Classification = "NON_BILLABLE"
	GracePeriod Classification = "GRACE_PERIOD"
)

// ParseClassification accepts the stored spelling case-insensitively.
func ParseClassification(raw string) (Classification, error) {
	switch c := Classification(strings.ToUpper(strings.TrimSpace(raw))); c {
	case Billable, NonBillable, GracePeriod:
		return c, nil
	default:
		return "", ErrInvalidClassification
	}
}

// Counted reports whether seats of this classification are charged.
func (c Classification) Counted() bool {
	return c == Billable || c == GracePeriod
}

// InGracePeriod reports whether now falls inside the seat's closed grace window.
func (s *EmployeeLicense) InGracePeriod(now time.Time) bool {
	if s.GracePeriodStart == nil || s.GracePeriodEnd == nil {
		return false
	}
	return !now.Before(*s.GracePeriodStart) && !now.After(*s.GracePeriodEnd)
}

// Classify derives a seat's billing classification. An open grace window wins
// over contractual status and leave.
func Classify(seat *EmployeeLicense, now time.Time) Classification {
	if seat == nil {
		return NonBillable
	}
	if seat.InGracePeriod(now) {
		return GracePeriod
	}
	if seat.ContractualStatus == ContractualActive && !seat.DeclaredLongLeave {
		return Billable
	}
	return NonBillable
}

// CountBillable counts the seats charged at now.
func CountBillable(seats []EmployeeLicense, now time.Time) int {
	n := 0
	for i := range seats {
		if Classify(&seats[i], now).Counted() {
			n++
		}
	}
	return n
}

// Tally splits seats by classification.
func Tally(seats []EmployeeLicense, now time.Time) map[Classification]int {
	out := map[Classification]int{Billable: 0, GracePeriod: 0, NonBillable: 0}
	for i := range seats {
		out[Classify(&seats[i], now)]++
	}
	return out
}
