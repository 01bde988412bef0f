package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/seatbill/internal/costing"
	taxdomain "github.com/smallbiznis/seatbill/internal/tax/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ProviderParams struct {
	fx.In

	Log  *zap.Logger
	Repo taxdomain.Repository
}

type provider struct {
	log  *zap.Logger
	repo taxdomain.Repository
}

func NewProvider(p ProviderParams) taxdomain.Provider {
	return &provider{
		log:  p.Log.Named("tax.provider"),
		repo: p.Repo,
	}
}

// GetActiveRulesForCountry fails with ErrMissingTaxRules when the country has
// no enabled rule. Exempt jurisdictions carry an explicit NO_TAX rule instead.
func (p *provider) GetActiveRulesForCountry(ctx context.Context, countryCode string) ([]costing.TaxRule, error) {
	country := strings.ToUpper(strings.TrimSpace(countryCode))
	if len(country) != 2 {
		return nil, taxdomain.ErrInvalidCountryCode
	}

	rules, err := p.repo.ListByCountry(ctx, country, true)
	if err != nil {
		return nil, fmt.Errorf("load tax rules for %s: %w", country, err)
	}
	if len(rules) == 0 {
		p.log.Warn("no active tax rules", zap.String("country_code", country))
		return nil, fmt.Errorf("country %s: %w", country, taxdomain.ErrMissingTaxRules)
	}

	snapshots := make([]costing.TaxRule, 0, len(rules))
	for i := range rules {
		if rules[i].Code == taxdomain.TaxCodeNoTax {
			continue
		}
		snapshots = append(snapshots, rules[i].Snapshot())
	}
	return snapshots, nil
}
