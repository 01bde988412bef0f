package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/seatbill/internal/adjustment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, adjustment *domain.LicenseAdjustment) error {
	return db.WithContext(ctx).Create(adjustment).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.LicenseAdjustment, error) {
	return r.findOne(ctx, db.WithContext(ctx), "id = ?", id)
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.LicenseAdjustment, error) {
	return r.findOne(ctx, db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), "id = ?", id)
}

// FindPending returns the license's open non-baseline adjustment, if any.
func (r *repo) FindPending(ctx context.Context, db *gorm.DB, licenseID snowflake.ID) (*domain.LicenseAdjustment, error) {
	stmt := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Order("id DESC")
	return r.findOne(ctx, stmt, "global_license_id = ? AND payment_status = ? AND is_baseline = ?",
		licenseID, domain.PaymentStatusPending, false)
}

func (r *repo) findOne(_ context.Context, stmt *gorm.DB, query string, args ...any) (*domain.LicenseAdjustment, error) {
	var adjustment domain.LicenseAdjustment
	if err := stmt.Where(query, args...).Limit(1).Find(&adjustment).Error; err != nil {
		return nil, err
	}
	if adjustment.ID == 0 {
		return nil, nil
	}
	return &adjustment, nil
}

func (r *repo) UpdateCharge(ctx context.Context, db *gorm.DB, a *domain.LicenseAdjustment) error {
	return db.WithContext(ctx).
		Model(&domain.LicenseAdjustment{}).
		Where("id = ? AND payment_status = ?", a.ID, domain.PaymentStatusPending).
		Updates(map[string]any{
			"billing_cycle_id":        a.BillingCycleID,
			"adjustment_date":         a.AdjustmentDate,
			"employees_added":         a.EmployeesAdded,
			"months_remaining":        a.MonthsRemaining,
			"price_per_employee_usd":  a.PricePerEmployeeUSD,
			"subtotal_usd":            a.SubtotalUSD,
			"tax_usd":                 a.TaxUSD,
			"total_usd":               a.TotalUSD,
			"subtotal_local":          a.SubtotalLocal,
			"tax_local":               a.TaxLocal,
			"total_local":             a.TotalLocal,
			"currency":                a.Currency,
			"exchange_rate":           a.ExchangeRate,
			"tax_rules_applied":       a.TaxRulesApplied,
			"payment_due_immediately": a.PaymentDueImmediately,
			"updated_at":              a.UpdatedAt,
		}).Error
}

func (r *repo) MarkInvoiceSent(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE license_adjustments SET invoice_sent_at = ?, updated_at = ?
		 WHERE id = ? AND payment_status = ?`,
		at, at, id, domain.PaymentStatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ClearInvoiceSent withdraws the invoice of a pending non-baseline adjustment
// so it can absorb new seats and be confirmed again.
func (r *repo) ClearInvoiceSent(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE license_adjustments SET invoice_sent_at = NULL, updated_at = ?
		 WHERE id = ? AND payment_status = ? AND is_baseline = ?`,
		at, id, domain.PaymentStatusPending, false,
	).Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []domain.PaymentStatus, to domain.PaymentStatus, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.LicenseAdjustment{}).
		Where("id = ? AND payment_status IN ?", id, from).
		Updates(map[string]any{"payment_status": to, "updated_at": at})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkCompleted settles the adjustment. The baseline adjustment is already
// COMPLETED and only receives its payment timestamp.
func (r *repo) MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.LicenseAdjustment{}).
		Where("id = ? AND payment_status IN ?", id, []domain.PaymentStatus{
			domain.PaymentStatusPending,
			domain.PaymentStatusProcessing,
			domain.PaymentStatusCompleted,
		}).
		Updates(map[string]any{
			"payment_status":       domain.PaymentStatusCompleted,
			"payment_completed_at": at,
			"updated_at":           at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ListByLicense(ctx context.Context, db *gorm.DB, licenseID snowflake.ID) ([]domain.LicenseAdjustment, error) {
	var adjustments []domain.LicenseAdjustment
	err := db.WithContext(ctx).
		Where("global_license_id = ?", licenseID).
		Order("adjustment_date DESC, id DESC").
		Find(&adjustments).Error
	return adjustments, err
}

// SumSubtotalSince totals the USD subtotals of live adjustments dated in [from, to).
func (r *repo) SumSubtotalSince(ctx context.Context, db *gorm.DB, licenseID snowflake.ID, from, to time.Time) (decimal.Decimal, error) {
	var subtotals []decimal.Decimal
	err := db.WithContext(ctx).
		Model(&domain.LicenseAdjustment{}).
		Where("global_license_id = ? AND is_baseline = ? AND payment_status <> ?", licenseID, false, domain.PaymentStatusCancelled).
		Where("adjustment_date >= ? AND adjustment_date < ?", from, to).
		Pluck("subtotal_usd", &subtotals).Error
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, v := range subtotals {
		total = total.Add(v)
	}
	return total, nil
}
