package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/seatbill/internal/costing"
	"github.com/smallbiznis/seatbill/pkg/errkind"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	PaymentStatusCompleted  PaymentStatus = "COMPLETED"
	PaymentStatusCancelled  PaymentStatus = "CANCELLED"
	PaymentStatusRefunded   PaymentStatus = "REFUNDED"
)

// LicenseAdjustment is a prorated charge for seats added mid-period. The
// baseline adjustment created with each billing cycle carries zero amounts.
type LicenseAdjustment struct {
	ID                    snowflake.ID                         `gorm:"primaryKey" json:"id"`
	GlobalLicenseID       snowflake.ID                         `gorm:"not null;index" json:"global_license_id"`
	BillingCycleID        *snowflake.ID                        `gorm:"index" json:"billing_cycle_id,omitempty"`
	AdjustmentDate        time.Time                            `gorm:"not null" json:"adjustment_date"`
	EmployeesAdded        int                                  `gorm:"not null" json:"employees_added"`
	MonthsRemaining       int                                  `gorm:"not null" json:"months_remaining"`
	PricePerEmployeeUSD   decimal.Decimal                      `gorm:"type:numeric(12,2);not null" json:"price_per_employee_usd"`
	SubtotalUSD           decimal.Decimal                      `gorm:"type:numeric(14,2);not null" json:"subtotal_usd"`
	TaxUSD                decimal.Decimal                      `gorm:"type:numeric(14,2);not null" json:"tax_usd"`
	TotalUSD              decimal.Decimal                      `gorm:"type:numeric(14,2);not null" json:"total_usd"`
	SubtotalLocal         decimal.Decimal                      `gorm:"type:numeric(18,2);not null" json:"subtotal_local"`
	TaxLocal              decimal.Decimal                      `gorm:"type:numeric(18,2);not null" json:"tax_local"`
	TotalLocal            decimal.Decimal                      `gorm:"type:numeric(18,2);not null" json:"total_local"`
	Currency              string                               `gorm:"type:char(3);not null" json:"currency"`
	ExchangeRate          decimal.Decimal                      `gorm:"type:numeric(18,8);not null" json:"exchange_rate"`
	TaxRulesApplied       datatypes.JSONSlice[costing.TaxRule] `json:"tax_rules_applied"`
	PaymentStatus         PaymentStatus                        `gorm:"type:text;not null;index" json:"payment_status"`
	PaymentDueImmediately bool                                 `gorm:"not null" json:"payment_due_immediately"`
	IsBaseline            bool                                 `gorm:"not null;default:false" json:"is_baseline"`
	InvoiceSentAt         *time.Time                           `json:"invoice_sent_at,omitempty"`
	PaymentCompletedAt    *time.Time                           `json:"payment_completed_at,omitempty"`
	CreatedAt             time.Time                            `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time                            `gorm:"not null" json:"updated_at"`
}

func (LicenseAdjustment) TableName() string { return "license_adjustments" }

// ApplyCharge copies a priced charge onto the adjustment.
func (a *LicenseAdjustment) ApplyCharge(c costing.Charge) {
	a.SubtotalUSD = c.SubtotalUSD
	a.TaxUSD = c.TaxUSD
	a.TotalUSD = c.TotalUSD
	a.SubtotalLocal = c.SubtotalLocal
	a.TaxLocal = c.TaxLocal
	a.TotalLocal = c.TotalLocal
	a.Currency = c.Currency
	a.ExchangeRate = c.ExchangeRate
	a.TaxRulesApplied = datatypes.JSONSlice[costing.TaxRule](c.TaxRules)
}

// View is the adjustment as returned to API callers.
type View struct {
	LicenseAdjustment
	CalculationBreakdown string `json:"calculation_breakdown"`
}

func NewView(a *LicenseAdjustment) *View {
	return &View{
		LicenseAdjustment:    *a,
		CalculationBreakdown: costing.Breakdown(a.EmployeesAdded, a.PricePerEmployeeUSD, a.MonthsRemaining),
	}
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, adjustment *LicenseAdjustment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*LicenseAdjustment, error)
	FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*LicenseAdjustment, error)
	FindPending(ctx context.Context, db *gorm.DB, licenseID snowflake.ID) (*LicenseAdjustment, error)
	UpdateCharge(ctx context.Context, db *gorm.DB, adjustment *LicenseAdjustment) error
	MarkInvoiceSent(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	ClearInvoiceSent(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []PaymentStatus, to PaymentStatus, at time.Time) (bool, error)
	MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	ListByLicense(ctx context.Context, db *gorm.DB, licenseID snowflake.ID) ([]LicenseAdjustment, error)
	SumSubtotalSince(ctx context.Context, db *gorm.DB, licenseID snowflake.ID, from, to time.Time) (decimal.Decimal, error)
}

type ProposeRequest struct {
	GlobalLicenseID string `json:"global_license_id"`
	EmployeesAdded  int    `json:"employees_added"`
}

type Service interface {
	Propose(ctx context.Context, req ProposeRequest) (*View, error)
	SyncBillableGrowth(ctx context.Context, licenseID snowflake.ID) (*View, error)
	Confirm(ctx context.Context, id string) (*View, error)
	Cancel(ctx context.Context, id string) (*View, error)
	Get(ctx context.Context, id string) (*View, error)
	ListByLicense(ctx context.Context, licenseID string) ([]View, error)
}

var (
	ErrInvalidID           = errkind.New(errkind.Validation, "invalid_adjustment_id")
	ErrInvalidLicenseID    = errkind.New(errkind.Validation, "invalid_license_id")
	ErrInvalidSeatCount    = errkind.New(errkind.Validation, "invalid_employees_added")
	ErrNotFound            = errkind.New(errkind.NotFound, "adjustment_not_found")
	ErrLicenseNotFound     = errkind.New(errkind.NotFound, "license_not_found")
	ErrDuplicateAdjustment = errkind.New(errkind.Conflict, "duplicate_adjustment")
	ErrInvalidTransition   = errkind.New(errkind.InvalidState, "invalid_adjustment_transition")
	ErrLicenseNotActive    = errkind.New(errkind.InvalidState, "license_not_active")
	ErrNoCurrentCycle      = errkind.New(errkind.InvalidState, "no_current_billing_cycle")
	ErrPeriodEnded         = errkind.New(errkind.InvalidState, "billing_period_ended")
)
