package domain

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatbill/pkg/errkind"
	"gorm.io/gorm"
)

// Info is the slice of tenant data billing depends on.
type Info interface {
	GetCountryCode() string
	GetBillingCurrency() string
	GetBillingEmail() string
}

// Tenant is a customer organization subscribing to seat licenses.
type Tenant struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	Name            string       `gorm:"type:text;not null" json:"name"`
	CountryCode     string       `gorm:"type:char(2);not null" json:"country_code"`
	BillingCurrency string       `gorm:"type:char(3);not null" json:"billing_currency"`
	BillingEmail    string       `gorm:"type:text;not null" json:"billing_email"`
	CreatedAt       time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null" json:"updated_at"`
}

func (Tenant) TableName() string { return "tenants" }

func (t *Tenant) GetCountryCode() string { return strings.ToUpper(strings.TrimSpace(t.CountryCode)) }
func (t *Tenant) GetBillingCurrency() string {
	return strings.ToUpper(strings.TrimSpace(t.BillingCurrency))
}
func (t *Tenant) GetBillingEmail() string { return strings.TrimSpace(t.BillingEmail) }

type CreateTenantRequest struct {
	Name            string `json:"name"`
	CountryCode     string `json:"country_code"`
	BillingCurrency string `json:"billing_currency"`
	BillingEmail    string `json:"billing_email"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, tenant *Tenant) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tenant, error)
}

type Service interface {
	Create(ctx context.Context, req CreateTenantRequest) (*Tenant, error)
	Get(ctx context.Context, id snowflake.ID) (*Tenant, error)
}

var (
	ErrTenantNotFound         = errkind.New(errkind.NotFound, "tenant_not_found")
	ErrInvalidTenantName      = errkind.New(errkind.Validation, "invalid_tenant_name")
	ErrInvalidCountryCode     = errkind.New(errkind.Validation, "invalid_country_code")
	ErrInvalidBillingCurrency = errkind.New(errkind.Validation, "invalid_billing_currency")
	ErrInvalidBillingEmail    = errkind.New(errkind.Validation, "invalid_billing_email")
)
