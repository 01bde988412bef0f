package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/seatbill/pkg/errkind"
	"gorm.io/gorm"
)

// ExchangeRate converts one unit of BaseCurrency into QuoteCurrency from EffectiveAt on.
type ExchangeRate struct {
	ID            snowflake.ID    `gorm:"primaryKey" json:"id"`
	BaseCurrency  string          `gorm:"type:char(3);not null;index:ix_exchange_rates_pair,priority:1" json:"base_currency"`
	QuoteCurrency string          `gorm:"type:char(3);not null;index:ix_exchange_rates_pair,priority:2" json:"quote_currency"`
	Rate          decimal.Decimal `gorm:"type:numeric(18,8);not null" json:"rate"`
	EffectiveAt   time.Time       `gorm:"not null;index:ix_exchange_rates_pair,priority:3" json:"effective_at"`
	CreatedAt     time.Time       `gorm:"not null" json:"created_at"`
}

func (ExchangeRate) TableName() string { return "exchange_rates" }

//go:generate mockgen -destination=mocks/provider_mock.go -package=mocks github.com/smallbiznis/seatbill/internal/exchangerate/domain Provider

// Provider resolves the current conversion rate for a currency pair. Only an
// identical pair resolves to 1 without a stored rate.
type Provider interface {
	GetRate(ctx context.Context, fromCurrency, toCurrency string) (decimal.Decimal, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, rate *ExchangeRate) error
	FindLatest(ctx context.Context, db *gorm.DB, base, quote string, at time.Time) (*ExchangeRate, error)
}

type RecordRateRequest struct {
	BaseCurrency  string          `json:"base_currency"`
	QuoteCurrency string          `json:"quote_currency"`
	Rate          decimal.Decimal `json:"rate"`
	EffectiveAt   *time.Time      `json:"effective_at,omitempty"`
}

type Service interface {
	Provider
	RecordRate(ctx context.Context, req RecordRateRequest) (*ExchangeRate, error)
}

var (
	ErrInvalidCurrency     = errkind.New(errkind.Validation, "invalid_currency")
	ErrInvalidRate         = errkind.New(errkind.Validation, "invalid_exchange_rate")
	ErrMissingExchangeRate = errkind.New(errkind.MissingExchangeRate, "missing_exchange_rate")
)
