package repository

import (
	"context"

	"github.com/smallbiznis/seatbill/internal/paymentmethod/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, method *domain.PaymentMethod) error {
	return db.WithContext(ctx).Create(method).Error
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB) ([]domain.PaymentMethod, error) {
	var methods []domain.PaymentMethod
	err := db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&methods).Error
	return methods, err
}
