package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	taxdomain "github.com/smallbiznis/seatbill/internal/tax/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) taxdomain.Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, rule *taxdomain.TaxRule) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO tax_rules (
			id, country_code, code, name, rate, position, is_enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID,
		rule.CountryCode,
		rule.Code,
		rule.Name,
		rule.Rate,
		rule.Position,
		rule.IsEnabled,
		rule.CreatedAt,
		rule.UpdatedAt,
	).Error
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*taxdomain.TaxRule, error) {
	var rule taxdomain.TaxRule
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, country_code, code, name, rate, position, is_enabled, created_at, updated_at
		 FROM tax_rules
		 WHERE id = ?`,
		id,
	).Scan(&rule).Error
	if err != nil {
		return nil, err
	}
	if rule.ID == 0 {
		return nil, nil
	}
	return &rule, nil
}

func (r *repository) ListByCountry(ctx context.Context, countryCode string, enabledOnly bool) ([]taxdomain.TaxRule, error) {
	var rules []taxdomain.TaxRule
	stmt := r.db.WithContext(ctx).
		Model(&taxdomain.TaxRule{}).
		Where("country_code = ?", strings.ToUpper(strings.TrimSpace(countryCode)))
	if enabledOnly {
		stmt = stmt.Where("is_enabled = ?", true)
	}
	if err := stmt.Order("position ASC").Order("id ASC").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *repository) SetEnabled(ctx context.Context, id snowflake.ID, enabled bool, at time.Time) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE tax_rules SET is_enabled = ?, updated_at = ? WHERE id = ?`,
		enabled,
		at,
		id,
	).Error
}
