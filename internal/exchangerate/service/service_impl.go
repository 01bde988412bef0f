package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/seatbill/internal/clock"
	"github.com/smallbiznis/seatbill/internal/exchangerate/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("exchangerate.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// AsProvider exposes the service through the narrow provider contract.
func AsProvider(s domain.Service) domain.Provider {
	return s
}

func (s *Service) GetRate(ctx context.Context, fromCurrency, toCurrency string) (decimal.Decimal, error) {
	from, err := normalizeCurrency(fromCurrency)
	if err != nil {
		return decimal.Zero, err
	}
	to, err := normalizeCurrency(toCurrency)
	if err != nil {
		return decimal.Zero, err
	}
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	rate, err := s.repo.FindLatest(ctx, s.db, from, to, s.clock.Now().UTC())
	if err != nil {
		return decimal.Zero, fmt.Errorf("load exchange rate %s->%s: %w", from, to, err)
	}
	if rate == nil {
		s.log.Warn("exchange rate missing", zap.String("from", from), zap.String("to", to))
		return decimal.Zero, fmt.Errorf("%s->%s: %w", from, to, domain.ErrMissingExchangeRate)
	}
	return rate.Rate, nil
}

func (s *Service) RecordRate(ctx context.Context, req domain.RecordRateRequest) (*domain.ExchangeRate, error) {
	base, err := normalizeCurrency(req.BaseCurrency)
	if err != nil {
		return nil, err
	}
	quote, err := normalizeCurrency(req.QuoteCurrency)
	if err != nil {
		return nil, err
	}
	if base == quote || !req.Rate.IsPositive() {
		return nil, domain.ErrInvalidRate
	}

	now := s.clock.Now().UTC()
	effectiveAt := now
	if req.EffectiveAt != nil {
		effectiveAt = req.EffectiveAt.UTC()
	}
	rate := &domain.ExchangeRate{
		ID:            s.genID.Generate(),
		BaseCurrency:  base,
		QuoteCurrency: quote,
		Rate:          req.Rate,
		EffectiveAt:   effectiveAt,
		CreatedAt:     now,
	}
	if err := s.repo.Insert(ctx, s.db, rate); err != nil {
		return nil, err
	}
	s.log.Info("exchange rate recorded",
		zap.String("base", base),
		zap.String("quote", quote),
		zap.String("rate", rate.Rate.String()),
	)
	return rate, nil
}

func normalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", domain.ErrInvalidCurrency
	}
	return code, nil
}
