package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatbill/pkg/errkind"
	"gorm.io/gorm"
)

type ContractualStatus string

const (
	ContractualActive     ContractualStatus = "ACTIVE"
	ContractualSuspended  ContractualStatus = "SUSPENDED"
	ContractualTerminated ContractualStatus = "TERMINATED"
)

// EmployeeLicense is one employee's seat under a global license. Its billing
// classification is never stored; see Classify.
type EmployeeLicense struct {
	ID                snowflake.ID      `gorm:"primaryKey" json:"id"`
	GlobalLicenseID   snowflake.ID      `gorm:"not null;uniqueIndex:ux_employee_licenses_code,priority:1" json:"global_license_id"`
	EmployeeCode      string            `gorm:"type:text;not null;uniqueIndex:ux_employee_licenses_code,priority:2" json:"employee_code"`
	ActivationDate    time.Time         `gorm:"not null" json:"activation_date"`
	DeactivationDate  *time.Time        `json:"deactivation_date,omitempty"`
	LastActivityDate  *time.Time        `json:"last_activity_date,omitempty"`
	ContractualStatus ContractualStatus `gorm:"type:text;not null;index" json:"contractual_status"`
	DeclaredLongLeave bool              `gorm:"not null;default:false" json:"declared_long_leave"`
	DeclaredBy        *string           `gorm:"type:text" json:"declared_by,omitempty"`
	DeclaredAt        *time.Time        `json:"declared_at,omitempty"`
	LeaveType         *string           `gorm:"type:text" json:"leave_type,omitempty"`
	LeaveReason       *string           `gorm:"type:text" json:"leave_reason,omitempty"`
	GracePeriodStart  *time.Time        `json:"grace_period_start,omitempty"`
	GracePeriodEnd    *time.Time        `json:"grace_period_end,omitempty"`
	CreatedAt         time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"not null" json:"updated_at"`
}

func (EmployeeLicense) TableName() string { return "employee_licenses" }

// Validate checks the chronological invariants of a seat.
func (s *EmployeeLicense) Validate() error {
	if s.DeactivationDate != nil && !s.DeactivationDate.After(s.ActivationDate) {
		return ErrInvalidDeactivationDate
	}
	if s.GracePeriodStart != nil && s.GracePeriodEnd != nil && !s.GracePeriodEnd.After(*s.GracePeriodStart) {
		return ErrInvalidGraceWindow
	}
	if s.DeclaredLongLeave && (s.DeclaredBy == nil || *s.DeclaredBy == "" || s.DeclaredAt == nil) {
		return ErrMissingDeclarer
	}
	return nil
}

// Seat pairs a stored seat with its classification at read time.
type Seat struct {
	EmployeeLicense
	BillingStatus Classification `json:"billing_status"`
}

type Summary struct {
	GlobalLicenseID snowflake.ID `json:"global_license_id"`
	Billable        int          `json:"billable"`
	GracePeriod     int          `json:"grace_period"`
	NonBillable     int          `json:"non_billable"`
	BillableTotal   int          `json:"billable_total"`
	At              time.Time    `json:"at"`
}

type OnboardRequest struct {
	GlobalLicenseID string     `json:"global_license_id"`
	EmployeeCode    string     `json:"employee_code"`
	ActivationDate  *time.Time `json:"activation_date,omitempty"`
}

type DeclareLeaveRequest struct {
	DeclaredBy string `json:"declared_by"`
	LeaveType  string `json:"leave_type"`
	Reason     string `json:"reason"`
}

type GracePeriodRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type ListRequest struct {
	GlobalLicenseID string
	Classification  Classification
}

// HeadcountObserver is told when a license's billable headcount may have changed.
type HeadcountObserver interface {
	HeadcountChanged(ctx context.Context, licenseID snowflake.ID) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, seat *EmployeeLicense) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*EmployeeLicense, error)
	FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*EmployeeLicense, error)
	Update(ctx context.Context, db *gorm.DB, seat *EmployeeLicense) error
	ListByLicense(ctx context.Context, db *gorm.DB, licenseID snowflake.ID, filter *Classification, now time.Time) ([]EmployeeLicense, error)
	DeleteByLicense(ctx context.Context, db *gorm.DB, licenseID snowflake.ID) error
}

type Service interface {
	Onboard(ctx context.Context, req OnboardRequest) (*Seat, error)
	Get(ctx context.Context, id string) (*Seat, error)
	RecordActivity(ctx context.Context, id string, at time.Time) (*Seat, error)
	DeclareLongLeave(ctx context.Context, id string, req DeclareLeaveRequest) (*Seat, error)
	ClearLongLeave(ctx context.Context, id string) (*Seat, error)
	StartGracePeriod(ctx context.Context, id string, req GracePeriodRequest) (*Seat, error)
	Deactivate(ctx context.Context, id string, at time.Time) (*Seat, error)
	Reactivate(ctx context.Context, id string) (*Seat, error)
	Suspend(ctx context.Context, id string) (*Seat, error)
	List(ctx context.Context, req ListRequest) ([]Seat, error)
	Summary(ctx context.Context, licenseID string) (*Summary, error)
}

var (
	ErrInvalidID               = errkind.New(errkind.Validation, "invalid_seat_id")
	ErrInvalidLicenseID        = errkind.New(errkind.Validation, "invalid_license_id")
	ErrInvalidEmployeeCode     = errkind.New(errkind.Validation, "invalid_employee_code")
	ErrInvalidClassification   = errkind.New(errkind.Validation, "invalid_classification")
	ErrInvalidDeactivationDate = errkind.New(errkind.Validation, "deactivation_before_activation")
	ErrInvalidGraceWindow      = errkind.New(errkind.Validation, "invalid_grace_window")
	ErrMissingDeclarer         = errkind.New(errkind.Validation, "missing_leave_declarer")
	ErrInvalidLeaveType        = errkind.New(errkind.Validation, "invalid_leave_type")
	ErrSeatTerminated          = errkind.New(errkind.Validation, "seat_terminated")
	ErrRecentActivity          = errkind.New(errkind.AntiFraud, "recent_activity_within_window")
	ErrNotFound                = errkind.New(errkind.NotFound, "seat_not_found")
	ErrLicenseNotFound         = errkind.New(errkind.NotFound, "license_not_found")
	ErrDuplicateEmployee       = errkind.New(errkind.Conflict, "employee_already_seated")
	ErrLicenseClosed           = errkind.New(errkind.InvalidState, "license_not_accepting_seats")
	ErrInvalidTransition       = errkind.New(errkind.InvalidState, "invalid_seat_transition")
)
