package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Repository interface {
	Create(ctx context.Context, rule *TaxRule) error
	FindByID(ctx context.Context, id snowflake.ID) (*TaxRule, error)
	ListByCountry(ctx context.Context, countryCode string, enabledOnly bool) ([]TaxRule, error)
	SetEnabled(ctx context.Context, id snowflake.ID, enabled bool, at time.Time) error
}
