package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatbill/internal/clock"
	"github.com/smallbiznis/seatbill/internal/paymentmethod/domain"
	"github.com/smallbiznis/seatbill/pkg/db"
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
		log:   p.Log.Named("paymentmethod.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func AsRegistry(s domain.Service) domain.Registry {
	return s
}

func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (*domain.PaymentMethod, error) {
	code := strings.ToLower(strings.TrimSpace(req.Code))
	if code == "" {
		return nil, domain.ErrInvalidCode
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	var country *string
	if req.CountryCode != nil {
		value := strings.ToUpper(strings.TrimSpace(*req.CountryCode))
		if len(value) != 2 {
			return nil, domain.ErrInvalidCountryCode
		}
		country = &value
	}

	method := &domain.PaymentMethod{
		ID:          s.genID.Generate(),
		Code:        code,
		Name:        name,
		CountryCode: country,
		IsDefault:   req.IsDefault,
		IsActive:    true,
		CreatedAt:   s.clock.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, s.db, method); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateCode
		}
		return nil, err
	}
	return method, nil
}

func (s *Service) List(ctx context.Context) ([]domain.PaymentMethod, error) {
	return s.repo.ListActive(ctx, s.db)
}

// GetDefaultForCountry prefers the country's default, then a global default,
// then any method usable in the country, then any active method.
func (s *Service) GetDefaultForCountry(ctx context.Context, countryCode string) (*domain.PaymentMethod, error) {
	country := strings.ToUpper(strings.TrimSpace(countryCode))
	methods, err := s.repo.ListActive(ctx, s.db)
	if err != nil {
		return nil, err
	}

	ranks := func(m *domain.PaymentMethod) int {
		local := m.CountryCode != nil && *m.CountryCode == country
		global := m.CountryCode == nil
		switch {
		case local && m.IsDefault:
			return 0
		case global && m.IsDefault:
			return 1
		case local:
			return 2
		case global:
			return 3
		default:
			return 4
		}
	}

	var best *domain.PaymentMethod
	bestRank := 5
	for i := range methods {
		if r := ranks(&methods[i]); r < bestRank {
			best, bestRank = &methods[i], r
		}
	}
	if best == nil {
		s.log.Warn("no payment method available", zap.String("country_code", country))
		return nil, domain.ErrNoPaymentMethod
	}
	return best, nil
}
