package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/seatbill/pkg/errkind"
	"gorm.io/gorm"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusActive:    {StatusSuspended, StatusExpired, StatusCancelled},
	StatusSuspended: {StatusActive, StatusExpired, StatusCancelled},
	StatusExpired:   {StatusActive, StatusCancelled},
}

// CanTransition reports whether a license may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// GlobalLicense is a tenant's seat subscription. TotalSeatsPurchased is derived
// from the employee seats and only written by the seat recount.
type GlobalLicense struct {
	ID                  snowflake.ID    `gorm:"primaryKey" json:"id"`
	TenantID            snowflake.ID    `gorm:"not null;index" json:"tenant_id"`
	LicenseType         string          `gorm:"type:text;not null" json:"license_type"`
	BillingCycleMonths  int             `gorm:"not null" json:"billing_cycle_months"`
	BasePriceUSD        decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"base_price_usd"`
	MinimumSeats        int             `gorm:"not null;default:0" json:"minimum_seats"`
	CurrentPeriodStart  time.Time       `gorm:"not null" json:"current_period_start"`
	CurrentPeriodEnd    time.Time       `gorm:"not null" json:"current_period_end"`
	NextRenewalDate     time.Time       `gorm:"not null" json:"next_renewal_date"`
	Status              Status          `gorm:"type:text;not null;index" json:"status"`
	TotalSeatsPurchased int             `gorm:"not null;default:0" json:"total_seats_purchased"`
	BilledSeatCount     int             `gorm:"not null;default:0" json:"billed_seat_count"`
	BillingGeneratedAt  *time.Time      `json:"billing_generated_at,omitempty"`
	CreatedAt           time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"not null" json:"updated_at"`
}

func (GlobalLicense) TableName() string { return "global_licenses" }

// PeriodAfter returns the billing period following the one ending at end.
func (l *GlobalLicense) PeriodAfter(end time.Time) (time.Time, time.Time) {
	return end, end.AddDate(0, l.BillingCycleMonths, 0)
}

type CreateRequest struct {
	TenantID           string          `json:"tenant_id"`
	LicenseType        string          `json:"license_type"`
	BillingCycleMonths int             `json:"billing_cycle_months"`
	BasePriceUSD       decimal.Decimal `json:"base_price_usd"`
	MinimumSeats       int             `json:"minimum_seats"`
	PeriodStart        *time.Time      `json:"period_start,omitempty"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, license *GlobalLicense) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*GlobalLicense, error)
	FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*GlobalLicense, error)
	FindActiveByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*GlobalLicense, error)
	ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]GlobalLicense, error)
	ListPendingBilling(ctx context.Context, db *gorm.DB) ([]GlobalLicense, error)
	ListDueForRenewal(ctx context.Context, db *gorm.DB, at time.Time, limit int) ([]GlobalLicense, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status, at time.Time) (bool, error)
	UpdateSeatTotals(ctx context.Context, db *gorm.DB, id snowflake.ID, total int, at time.Time) error
	UpdateBilledSeatCount(ctx context.Context, db *gorm.DB, id snowflake.ID, billed int, at time.Time) error
	MarkBillingGenerated(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	AdvancePeriod(ctx context.Context, db *gorm.DB, license *GlobalLicense) error
	HasFinancialHistory(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*GlobalLicense, error)
	Get(ctx context.Context, id string) (*GlobalLicense, error)
	ListByTenant(ctx context.Context, tenantID string) ([]GlobalLicense, error)
	EnsureBilling(ctx context.Context, id string) (*GlobalLicense, error)
	EnsurePendingBilling(ctx context.Context) (int, error)
	Suspend(ctx context.Context, id string) (*GlobalLicense, error)
	Activate(ctx context.Context, id string) (*GlobalLicense, error)
	Expire(ctx context.Context, id string) (*GlobalLicense, error)
	Cancel(ctx context.Context, id string) (*GlobalLicense, error)
	Renew(ctx context.Context, id string) (*GlobalLicense, error)
	RenewDue(ctx context.Context, limit int) (int, error)
	Delete(ctx context.Context, id string) error
}

var (
	ErrInvalidID           = errkind.New(errkind.Validation, "invalid_license_id")
	ErrInvalidTenant       = errkind.New(errkind.Validation, "invalid_tenant_id")
	ErrInvalidLicenseType  = errkind.New(errkind.Validation, "invalid_license_type")
	ErrInvalidCycleMonths  = errkind.New(errkind.Validation, "invalid_billing_cycle_months")
	ErrInvalidBasePrice    = errkind.New(errkind.Validation, "invalid_base_price")
	ErrInvalidMinimumSeats = errkind.New(errkind.Validation, "invalid_minimum_seats")
	ErrNotFound            = errkind.New(errkind.NotFound, "license_not_found")
	ErrActiveLicenseExists = errkind.New(errkind.Conflict, "active_license_exists")
	ErrHasFinancialHistory = errkind.New(errkind.Conflict, "license_has_financial_history")
	ErrInvalidTransition   = errkind.New(errkind.InvalidState, "invalid_license_transition")
	ErrNotActive           = errkind.New(errkind.InvalidState, "license_not_active")
	ErrRenewalNotDue       = errkind.New(errkind.InvalidState, "renewal_not_due")
	ErrLicenseNotBillable  = errkind.New(errkind.InvalidState, "license_not_billable")
)
