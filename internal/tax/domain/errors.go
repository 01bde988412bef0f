package domain

import "github.com/smallbiznis/seatbill/pkg/errkind"

var (
	ErrInvalidCountryCode = errkind.New(errkind.Validation, "invalid_country_code")
	ErrInvalidName        = errkind.New(errkind.Validation, "invalid_name")
	ErrInvalidID          = errkind.New(errkind.Validation, "invalid_id")
	ErrInvalidTaxCode     = errkind.New(errkind.Validation, "invalid_tax_code")
	ErrInvalidTaxRate     = errkind.New(errkind.Validation, "invalid_tax_rate")
	ErrNotFound           = errkind.New(errkind.NotFound, "tax_rule_not_found")
	ErrMissingTaxRules    = errkind.New(errkind.MissingTaxRules, "missing_tax_rules")
)
