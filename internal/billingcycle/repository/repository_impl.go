package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatbill/internal/billingcycle/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, cycle *domain.BillingCycle) error {
	return db.WithContext(ctx).Create(cycle).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.BillingCycle, error) {
	var cycle domain.BillingCycle
	err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&cycle).Error
	if err != nil {
		return nil, err
	}
	if cycle.ID == 0 {
		return nil, nil
	}
	return &cycle, nil
}

func (r *repo) FindByPeriod(ctx context.Context, db *gorm.DB, licenseID snowflake.ID, periodStart time.Time) (*domain.BillingCycle, error) {
	var cycle domain.BillingCycle
	err := db.WithContext(ctx).
		Where("global_license_id = ? AND period_start = ?", licenseID, periodStart).
		Limit(1).
		Find(&cycle).Error
	if err != nil {
		return nil, err
	}
	if cycle.ID == 0 {
		return nil, nil
	}
	return &cycle, nil
}

// FindCurrent returns the cycle whose period contains at, falling back to the
// latest cycle that started before at.
func (r *repo) FindCurrent(ctx context.Context, db *gorm.DB, licenseID snowflake.ID, at time.Time) (*domain.BillingCycle, error) {
	var cycle domain.BillingCycle
	err := db.WithContext(ctx).
		Where("global_license_id = ? AND period_start <= ?", licenseID, at).
		Order("period_start DESC").
		Limit(1).
		Find(&cycle).Error
	if err != nil {
		return nil, err
	}
	if cycle.ID == 0 {
		return nil, nil
	}
	return &cycle, nil
}

func (r *repo) ListByLicense(ctx context.Context, db *gorm.DB, licenseID snowflake.ID) ([]domain.BillingCycle, error) {
	var cycles []domain.BillingCycle
	err := db.WithContext(ctx).
		Where("global_license_id = ?", licenseID).
		Order("period_start DESC").
		Find(&cycles).Error
	return cycles, err
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, to domain.Status, at time.Time) (bool, error) {
	sources := domain.SourcesOf(to)
	if len(sources) == 0 {
		return false, nil
	}
	updates := map[string]any{
		"status":     to,
		"updated_at": at,
	}
	switch to {
	case domain.StatusInvoiced:
		updates["invoiced_at"] = at
	case domain.StatusPaid:
		updates["paid_at"] = at
	}

	res := db.WithContext(ctx).
		Model(&domain.BillingCycle{}).
		Where("id = ? AND status IN ?", id, sources).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) MarkOverdue(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE billing_cycles
		 SET status = ?, updated_at = ?
		 WHERE status IN (?, ?) AND payment_due_date < ?`,
		domain.StatusOverdue,
		now,
		domain.StatusPending,
		domain.StatusInvoiced,
		now,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
