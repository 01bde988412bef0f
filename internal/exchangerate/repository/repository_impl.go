package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/seatbill/internal/exchangerate/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, rate *domain.ExchangeRate) error {
	return db.WithContext(ctx).Create(rate).Error
}

func (r *repo) FindLatest(ctx context.Context, db *gorm.DB, base, quote string, at time.Time) (*domain.ExchangeRate, error) {
	var rates []domain.ExchangeRate
	err := db.WithContext(ctx).
		Where("base_currency = ? AND quote_currency = ? AND effective_at <= ?", base, quote, at).
		Order("effective_at DESC").
		Order("id DESC").
		Limit(1).
		Find(&rates).Error
	if err != nil {
		return nil, err
	}
	if len(rates) == 0 {
		return nil, nil
	}
	return &rates[0], nil
}
