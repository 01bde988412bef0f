package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/seatbill/internal/costing"
)

//go:generate mockgen -destination=mocks/provider_mock.go -package=mocks github.com/smallbiznis/seatbill/internal/tax/domain Provider

// Provider returns the ordered, active tax rules of a jurisdiction.
type Provider interface {
	GetActiveRulesForCountry(ctx context.Context, countryCode string) ([]costing.TaxRule, error)
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	List(ctx context.Context, countryCode string) ([]Response, error)
	Disable(ctx context.Context, id string) (*Response, error)
}

type CreateRequest struct {
	CountryCode string          `json:"country_code"`
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	Rate        decimal.Decimal `json:"rate"`
	Position    int             `json:"position"`
}

type Response struct {
	ID          string          `json:"id"`
	CountryCode string          `json:"country_code"`
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	Rate        decimal.Decimal `json:"rate"`
	Position    int             `json:"position"`
	IsEnabled   bool            `json:"is_enabled"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
