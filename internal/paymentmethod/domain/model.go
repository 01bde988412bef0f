package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatbill/pkg/errkind"
	"gorm.io/gorm"
)

// PaymentMethod is a way a tenant can settle charges. A nil CountryCode makes
// the method available everywhere.
type PaymentMethod struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Code        string       `gorm:"type:text;not null;uniqueIndex:ux_payment_methods_code" json:"code"`
	Name        string       `gorm:"type:text;not null" json:"name"`
	CountryCode *string      `gorm:"type:char(2);index" json:"country_code,omitempty"`
	IsDefault   bool         `gorm:"not null;default:false" json:"is_default"`
	IsActive    bool         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
}

func (PaymentMethod) TableName() string { return "payment_methods" }

// Registry picks the method used for new payment transactions.
type Registry interface {
	GetDefaultForCountry(ctx context.Context, countryCode string) (*PaymentMethod, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, method *PaymentMethod) error
	ListActive(ctx context.Context, db *gorm.DB) ([]PaymentMethod, error)
}

type RegisterRequest struct {
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	CountryCode *string `json:"country_code,omitempty"`
	IsDefault   bool    `json:"is_default"`
}

type Service interface {
	Registry
	Register(ctx context.Context, req RegisterRequest) (*PaymentMethod, error)
	List(ctx context.Context) ([]PaymentMethod, error)
}

var (
	ErrInvalidCode        = errkind.New(errkind.Validation, "invalid_payment_method_code")
	ErrInvalidName        = errkind.New(errkind.Validation, "invalid_payment_method_name")
	ErrInvalidCountryCode = errkind.New(errkind.Validation, "invalid_country_code")
	ErrDuplicateCode      = errkind.New(errkind.Conflict, "payment_method_exists")
	ErrNoPaymentMethod    = errkind.New(errkind.NotFound, "no_payment_method_available")
)
