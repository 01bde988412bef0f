package service

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatbill/internal/clock"
	"github.com/smallbiznis/seatbill/internal/tenant/domain"
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
		log:   p.Log.Named("tenant.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateTenantRequest) (*domain.Tenant, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidTenantName
	}
	country := strings.ToUpper(strings.TrimSpace(req.CountryCode))
	if len(country) != 2 {
		return nil, domain.ErrInvalidCountryCode
	}
	currency := strings.ToUpper(strings.TrimSpace(req.BillingCurrency))
	if len(currency) != 3 {
		return nil, domain.ErrInvalidBillingCurrency
	}
	email := strings.TrimSpace(req.BillingEmail)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, domain.ErrInvalidBillingEmail
	}

	now := s.clock.Now().UTC().Truncate(time.Second)
	tenant := &domain.Tenant{
		ID:              s.genID.Generate(),
		Name:            name,
		CountryCode:     country,
		BillingCurrency: currency,
		BillingEmail:    email,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Insert(ctx, s.db, tenant); err != nil {
		return nil, err
	}

	s.log.Info("tenant created", zap.String("tenant_id", tenant.ID.String()), zap.String("country_code", country))
	return tenant, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Tenant, error) {
	if id == 0 {
		return nil, domain.ErrTenantNotFound
	}
	tenant, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, domain.ErrTenantNotFound
	}
	return tenant, nil
}
