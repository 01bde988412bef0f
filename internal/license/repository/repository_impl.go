package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatbill/internal/license/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, license *domain.GlobalLicense) error {
	return db.WithContext(ctx).Create(license).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.GlobalLicense, error) {
	var license domain.GlobalLicense
	err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&license).Error
	if err != nil {
		return nil, err
	}
	if license.ID == 0 {
		return nil, nil
	}
	return &license, nil
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.GlobalLicense, error) {
	var license domain.GlobalLicense
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Limit(1).
		Find(&license).Error
	if err != nil {
		return nil, err
	}
	if license.ID == 0 {
		return nil, nil
	}
	return &license, nil
}

func (r *repo) FindActiveByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*domain.GlobalLicense, error) {
	var license domain.GlobalLicense
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, domain.StatusActive).
		Limit(1).
		Find(&license).Error
	if err != nil {
		return nil, err
	}
	if license.ID == 0 {
		return nil, nil
	}
	return &license, nil
}

func (r *repo) ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]domain.GlobalLicense, error) {
	var licenses []domain.GlobalLicense
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC, id DESC").
		Find(&licenses).Error
	return licenses, err
}

func (r *repo) ListPendingBilling(ctx context.Context, db *gorm.DB) ([]domain.GlobalLicense, error) {
	var licenses []domain.GlobalLicense
	err := db.WithContext(ctx).
		Where("status = ? AND billing_generated_at IS NULL", domain.StatusActive).
		Order("id ASC").
		Find(&licenses).Error
	return licenses, err
}

func (r *repo) ListDueForRenewal(ctx context.Context, db *gorm.DB, at time.Time, limit int) ([]domain.GlobalLicense, error) {
	var licenses []domain.GlobalLicense
	err := db.WithContext(ctx).
		Where("status = ? AND next_renewal_date <= ?", domain.StatusActive, at).
		Order("next_renewal_date ASC, id ASC").
		Limit(limit).
		Find(&licenses).Error
	return licenses, err
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.Status, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE global_licenses SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, at, id, from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) UpdateSeatTotals(ctx context.Context, db *gorm.DB, id snowflake.ID, total int, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE global_licenses SET total_seats_purchased = ?, updated_at = ? WHERE id = ?`,
		total, at, id,
	).Error
}

func (r *repo) UpdateBilledSeatCount(ctx context.Context, db *gorm.DB, id snowflake.ID, billed int, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE global_licenses SET billed_seat_count = ?, updated_at = ? WHERE id = ?`,
		billed, at, id,
	).Error
}

func (r *repo) MarkBillingGenerated(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE global_licenses SET billing_generated_at = ?, updated_at = ? WHERE id = ?`,
		at, at, id,
	).Error
}

func (r *repo) AdvancePeriod(ctx context.Context, db *gorm.DB, license *domain.GlobalLicense) error {
	return db.WithContext(ctx).Exec(
		`UPDATE global_licenses
		 SET current_period_start = ?, current_period_end = ?, next_renewal_date = ?,
		     billed_seat_count = ?, billing_generated_at = ?, updated_at = ?
		 WHERE id = ?`,
		license.CurrentPeriodStart,
		license.CurrentPeriodEnd,
		license.NextRenewalDate,
		license.BilledSeatCount,
		license.BillingGeneratedAt,
		license.UpdatedAt,
		license.ID,
	).Error
}

func (r *repo) HasFinancialHistory(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT (SELECT COUNT(1) FROM billing_cycles WHERE global_license_id = ?)
		      + (SELECT COUNT(1) FROM license_adjustments WHERE global_license_id = ?)`,
		id, id,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM global_licenses WHERE id = ?`, id).Error
}
