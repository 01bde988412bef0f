package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatbill/internal/seat/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, seat *domain.EmployeeLicense) error {
	return db.WithContext(ctx).Create(seat).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.EmployeeLicense, error) {
	var seat domain.EmployeeLicense
	err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&seat).Error
	if err != nil {
		return nil, err
	}
	if seat.ID == 0 {
		return nil, nil
	}
	return &seat, nil
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.EmployeeLicense, error) {
	var seat domain.EmployeeLicense
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Limit(1).
		Find(&seat).Error
	if err != nil {
		return nil, err
	}
	if seat.ID == 0 {
		return nil, nil
	}
	return &seat, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, seat *domain.EmployeeLicense) error {
	return db.WithContext(ctx).Exec(
		`UPDATE employee_licenses
		 SET deactivation_date = ?, last_activity_date = ?, contractual_status = ?,
		     declared_long_leave = ?, declared_by = ?, declared_at = ?, leave_type = ?, leave_reason = ?,
		     grace_period_start = ?, grace_period_end = ?, updated_at = ?
		 WHERE id = ?`,
		seat.DeactivationDate,
		seat.LastActivityDate,
		seat.ContractualStatus,
		seat.DeclaredLongLeave,
		seat.DeclaredBy,
		seat.DeclaredAt,
		seat.LeaveType,
		seat.LeaveReason,
		seat.GracePeriodStart,
		seat.GracePeriodEnd,
		seat.UpdatedAt,
		seat.ID,
	).Error
}

func (r *repo) ListByLicense(ctx context.Context, db *gorm.DB, licenseID snowflake.ID, filter *domain.Classification, now time.Time) ([]domain.EmployeeLicense, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.EmployeeLicense{}).
		Where("global_license_id = ?", licenseID)
	if filter != nil {
		stmt = ApplyClassification(stmt, *filter, now)
	}

	var seats []domain.EmployeeLicense
	if err := stmt.Order("employee_code ASC").Find(&seats).Error; err != nil {
		return nil, err
	}
	return seats, nil
}

func (r *repo) DeleteByLicense(ctx context.Context, db *gorm.DB, licenseID snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM employee_licenses WHERE global_license_id = ?`, licenseID).Error
}
