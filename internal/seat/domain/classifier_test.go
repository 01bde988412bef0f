package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var now = time.Date(2026, 5, 15, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func TestClassify(t *testing.T) {
	day := 24 * time.Hour
	cases := []struct {
		name string
		seat EmployeeLicense
		want Classification
	}{
		{"active", EmployeeLicense{ContractualStatus: ContractualActive}, Billable},
		{"active on leave", EmployeeLicense{ContractualStatus: ContractualActive, DeclaredLongLeave: true}, NonBillable},
		{"suspended", EmployeeLicense{ContractualStatus: ContractualSuspended}, NonBillable},
		{"terminated", EmployeeLicense{ContractualStatus: ContractualTerminated}, NonBillable},
		{"terminated in grace", EmployeeLicense{ContractualStatus: ContractualTerminated, GracePeriodStart: at(-day), GracePeriodEnd: at(day)}, GracePeriod},
		{"on leave in grace", EmployeeLicense{ContractualStatus: ContractualActive, DeclaredLongLeave: true, GracePeriodStart: at(-day), GracePeriodEnd: at(day)}, GracePeriod},
		{"grace starts now", EmployeeLicense{ContractualStatus: ContractualSuspended, GracePeriodStart: at(0), GracePeriodEnd: at(day)}, GracePeriod},
		{"grace ends now", EmployeeLicense{ContractualStatus: ContractualSuspended, GracePeriodStart: at(-day), GracePeriodEnd: at(0)}, GracePeriod},
		{"grace expired", EmployeeLicense{ContractualStatus: ContractualTerminated, GracePeriodStart: at(-2 * day), GracePeriodEnd: at(-day)}, NonBillable},
		{"grace not started", EmployeeLicense{ContractualStatus: ContractualActive, GracePeriodStart: at(day), GracePeriodEnd: at(2 * day)}, Billable},
		{"open ended grace ignored", EmployeeLicense{ContractualStatus: ContractualTerminated, GracePeriodStart: at(-day)}, NonBillable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(&tc.seat, now))
		})
	}
}

func TestClassifyIsTotal(t *testing.T) {
	day := 24 * time.Hour
	statuses := []ContractualStatus{ContractualActive, ContractualSuspended, ContractualTerminated, ""}
	windows := [][2]*time.Time{
		{nil, nil},
		{at(-day), nil},
		{at(-day), at(day)},
		{at(-2 * day), at(-day)},
	}
	for _, status := range statuses {
		for _, leave := range []bool{false, true} {
			for _, w := range windows {
				seat := EmployeeLicense{ContractualStatus: status, DeclaredLongLeave: leave, GracePeriodStart: w[0], GracePeriodEnd: w[1]}
				got := Classify(&seat, now)
				assert.Contains(t, []Classification{Billable, NonBillable, GracePeriod}, got)
				if seat.InGracePeriod(now) {
					assert.Equal(t, GracePeriod, got)
				}
			}
		}
	}
}

func TestCountBillable(t *testing.T) {
	day := 24 * time.Hour
	seats := []EmployeeLicense{
		{ContractualStatus: ContractualActive},
		{ContractualStatus: ContractualActive},
		{ContractualStatus: ContractualActive, DeclaredLongLeave: true},
		{ContractualStatus: ContractualTerminated, GracePeriodStart: at(-day), GracePeriodEnd: at(day)},
		{ContractualStatus: ContractualSuspended},
	}
	assert.Equal(t, 3, CountBillable(seats, now))
	assert.Equal(t, 0, CountBillable(nil, now))

	tally := Tally(seats, now)
	assert.Equal(t, 2, tally[Billable])
	assert.Equal(t, 1, tally[GracePeriod])
	assert.Equal(t, 2, tally[NonBillable])
}

func TestValidate(t *testing.T) {
	seat := EmployeeLicense{ActivationDate: now, DeactivationDate: at(0)}
	assert.ErrorIs(t, seat.Validate(), ErrInvalidDeactivationDate)

	seat = EmployeeLicense{ActivationDate: now, GracePeriodStart: at(time.Hour), GracePeriodEnd: at(time.Hour)}
	assert.ErrorIs(t, seat.Validate(), ErrInvalidGraceWindow)

	seat = EmployeeLicense{ActivationDate: now, DeclaredLongLeave: true}
	assert.ErrorIs(t, seat.Validate(), ErrMissingDeclarer)

	by := "hr@example.com"
	seat = EmployeeLicense{ActivationDate: now, DeclaredLongLeave: true, DeclaredBy: &by, DeclaredAt: at(0)}
	assert.NoError(t, seat.Validate())
}

func TestParseClassification(t *testing.T) {
	c, err := ParseClassification(" grace_period ")
	assert.NoError(t, err)
	assert.Equal(t, GracePeriod, c)

	_, err = ParseClassification("billed")
	assert.ErrorIs(t, err, ErrInvalidClassification)
}
