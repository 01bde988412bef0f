package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/seatbill/internal/costing"
	licensedomain "github.com/smallbiznis/seatbill/internal/license/domain"
	"github.com/smallbiznis/seatbill/pkg/errkind"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Status tracks invoicing and payment progress of a cycle.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusInvoiced Status = "INVOICED"
	StatusPaid     Status = "PAID"
	StatusOverdue  Status = "OVERDUE"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusInvoiced, StatusOverdue, StatusPaid},
	StatusInvoiced: {StatusOverdue, StatusPaid},
	StatusOverdue:  {StatusPaid},
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesOf lists the statuses that may move to to.
func SourcesOf(to Status) []Status {
	var out []Status
	for from, nexts := range transitions {
		for _, next := range nexts {
			if next == to {
				out = append(out, from)
			}
		}
	}
	return out
}

// BillingCycle snapshots one billed period of a license. Amounts and the tax
// rule list are frozen at generation; only the status moves afterwards.
type BillingCycle struct {
	ID                    snowflake.ID                         `gorm:"primaryKey" json:"id"`
	GlobalLicenseID       snowflake.ID                         `gorm:"not null;uniqueIndex:ux_billing_cycles_license_period,priority:1" json:"global_license_id"`
	PeriodStart           time.Time                            `gorm:"not null;uniqueIndex:ux_billing_cycles_license_period,priority:2" json:"period_start"`
	PeriodEnd             time.Time                            `gorm:"not null" json:"period_end"`
	BaseEmployeeCount     int                                  `gorm:"not null" json:"base_employee_count"`
	FinalEmployeeCount    int                                  `gorm:"not null" json:"final_employee_count"`
	BaseAmountUSD         decimal.Decimal                      `gorm:"type:numeric(14,2);not null" json:"base_amount_usd"`
	AdjustmentAmountUSD   decimal.Decimal                      `gorm:"type:numeric(14,2);not null" json:"adjustment_amount_usd"`
	TaxAmountUSD          decimal.Decimal                      `gorm:"type:numeric(14,2);not null" json:"tax_amount_usd"`
	TotalAmountUSD        decimal.Decimal                      `gorm:"type:numeric(14,2);not null" json:"total_amount_usd"`
	BaseAmountLocal       decimal.Decimal                      `gorm:"type:numeric(18,2);not null" json:"base_amount_local"`
	AdjustmentAmountLocal decimal.Decimal                      `gorm:"type:numeric(18,2);not null" json:"adjustment_amount_local"`
	TaxAmountLocal        decimal.Decimal                      `gorm:"type:numeric(18,2);not null" json:"tax_amount_local"`
	TotalAmountLocal      decimal.Decimal                      `gorm:"type:numeric(18,2);not null" json:"total_amount_local"`
	Currency              string                               `gorm:"type:char(3);not null" json:"currency"`
	ExchangeRate          decimal.Decimal                      `gorm:"type:numeric(18,8);not null" json:"exchange_rate"`
	TaxRulesApplied       datatypes.JSONSlice[costing.TaxRule] `json:"tax_rules_applied"`
	Status                Status                               `gorm:"type:text;not null;index" json:"billing_status"`
	PaymentDueDate        time.Time                            `gorm:"not null;index" json:"payment_due_date"`
	InvoicedAt            *time.Time                           `json:"invoiced_at,omitempty"`
	PaidAt                *time.Time                           `json:"paid_at,omitempty"`
	CreatedAt             time.Time                            `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time                            `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (BillingCycle) TableName() string { return "billing_cycles" }

// Pricing is the external data a charge is computed with, resolved before
// any row is locked.
type Pricing struct {
	CountryCode   string
	Currency      string
	ExchangeRate  decimal.Decimal
	TaxRules      []costing.TaxRule
	PaymentMethod string
}

// Preview is the live cost of a license's current period.
type Preview struct {
	GlobalLicenseID snowflake.ID    `json:"global_license_id"`
	PeriodStart     time.Time       `json:"period_start"`
	PeriodEnd       time.Time       `json:"period_end"`
	BillableSeats   int             `json:"billable_seats"`
	EffectiveSeats  int             `json:"effective_seats"`
	BaseCostUSD     decimal.Decimal `json:"base_cost_usd"`
	AdjustmentsUSD  decimal.Decimal `json:"adjustments_usd"`
	TaxAmountUSD    decimal.Decimal `json:"tax_amount_usd"`
	TotalUSD        decimal.Decimal `json:"total_usd"`
	ExchangeRate    decimal.Decimal `json:"exchange_rate"`
	TotalLocal      decimal.Decimal `json:"total_local"`
	Currency        string          `json:"currency"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, cycle *BillingCycle) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*BillingCycle, error)
	FindByPeriod(ctx context.Context, db *gorm.DB, licenseID snowflake.ID, periodStart time.Time) (*BillingCycle, error)
	FindCurrent(ctx context.Context, db *gorm.DB, licenseID snowflake.ID, at time.Time) (*BillingCycle, error)
	ListByLicense(ctx context.Context, db *gorm.DB, licenseID snowflake.ID) ([]BillingCycle, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, to Status, at time.Time) (bool, error)
	MarkOverdue(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
}

// PricingResolver gathers currency, rate, tax rules and payment method for a tenant.
type PricingResolver interface {
	ResolvePricing(ctx context.Context, tenantID snowflake.ID) (Pricing, error)
}

// Generator creates the billing cycle of a license's current period together
// with its baseline adjustment and pending payment. It is idempotent per
// (license, period start).
type Generator interface {
	Generate(ctx context.Context, licenseID snowflake.ID) (*BillingCycle, bool, error)
	GenerateInTx(ctx context.Context, tx *gorm.DB, license *licensedomain.GlobalLicense, pricing Pricing) (*BillingCycle, bool, error)
}

type Service interface {
	PricingResolver
	Generator
	Preview(ctx context.Context, licenseID string) (*Preview, error)
	MarkInvoiced(ctx context.Context, id string) (*BillingCycle, error)
	MarkOverdue(ctx context.Context) (int64, error)
	Get(ctx context.Context, id string) (*BillingCycle, error)
	ListByLicense(ctx context.Context, licenseID string) ([]BillingCycle, error)
}

var (
	ErrInvalidID          = errkind.New(errkind.Validation, "invalid_billing_cycle_id")
	ErrInvalidLicenseID   = errkind.New(errkind.Validation, "invalid_license_id")
	ErrInvalidCyclePeriod = errkind.New(errkind.Validation, "invalid_cycle_period")
	ErrNotFound           = errkind.New(errkind.NotFound, "billing_cycle_not_found")
	ErrLicenseNotFound    = errkind.New(errkind.NotFound, "license_not_found")
	ErrInvalidTransition  = errkind.New(errkind.InvalidState, "invalid_billing_cycle_transition")
	ErrLicenseNotBillable = errkind.New(errkind.InvalidState, "license_not_billable")
)
