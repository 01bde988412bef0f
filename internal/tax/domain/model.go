package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/seatbill/internal/costing"
)

// TaxCodeNoTax marks a jurisdiction that is explicitly tax-exempt. A country
// with no enabled rules at all is a configuration gap, not an exemption.
const TaxCodeNoTax = "NO_TAX"

// TaxRule is one tax levied in a country. Rate is a fraction (0.1000 for 10%).
type TaxRule struct {
	ID          snowflake.ID    `gorm:"primaryKey"`
	CountryCode string          `gorm:"type:char(2);not null;index:ix_tax_rules_country"`
	Code        string          `gorm:"type:text;not null"`
	Name        string          `gorm:"type:text;not null"`
	Rate        decimal.Decimal `gorm:"type:numeric(6,4);not null"`
	Position    int             `gorm:"not null;default:0"`
	IsEnabled   bool            `gorm:"column:is_enabled;not null;default:true"`
	CreatedAt   time.Time       `gorm:"not null"`
	UpdatedAt   time.Time       `gorm:"not null"`
}

func (TaxRule) TableName() string { return "tax_rules" }

func (t *TaxRule) Validate() error {
	if len(strings.TrimSpace(t.CountryCode)) != 2 {
		return ErrInvalidCountryCode
	}
	if strings.TrimSpace(t.Code) == "" {
		return ErrInvalidTaxCode
	}
	if strings.TrimSpace(t.Name) == "" {
		return ErrInvalidName
	}
	if t.Rate.IsNegative() || t.Rate.GreaterThan(decimal.NewFromInt(1)) {
		return ErrInvalidTaxRate
	}
	return nil
}

// Snapshot captures the rule as an immutable value for a charge.
func (t *TaxRule) Snapshot() costing.TaxRule {
	return costing.TaxRule{Name: t.Name, Rate: t.Rate}
}
