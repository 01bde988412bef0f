package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatbill/internal/clock"
	taxdomain "github.com/smallbiznis/seatbill/internal/tax/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type serviceParams struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  taxdomain.Repository
}

type Service struct {
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  taxdomain.Repository
}

func NewService(p serviceParams) taxdomain.Service {
	return &Service{
		log:   p.Log.Named("tax.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req taxdomain.CreateRequest) (*taxdomain.Response, error) {
	now := s.clock.Now().UTC()
	record := &taxdomain.TaxRule{
		ID:          s.genID.Generate(),
		CountryCode: strings.ToUpper(strings.TrimSpace(req.CountryCode)),
		Code:        strings.ToUpper(strings.TrimSpace(req.Code)),
		Name:        strings.TrimSpace(req.Name),
		Rate:        req.Rate,
		Position:    req.Position,
		IsEnabled:   true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, err
	}

	s.log.Info("tax rule created",
		zap.String("tax_rule_id", record.ID.String()),
		zap.String("country_code", record.CountryCode),
		zap.String("code", record.Code),
	)
	resp := toResponse(record)
	return &resp, nil
}

func (s *Service) List(ctx context.Context, countryCode string) ([]taxdomain.Response, error) {
	country := strings.ToUpper(strings.TrimSpace(countryCode))
	if len(country) != 2 {
		return nil, taxdomain.ErrInvalidCountryCode
	}
	items, err := s.repo.ListByCountry(ctx, country, false)
	if err != nil {
		return nil, err
	}
	resp := make([]taxdomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Disable(ctx context.Context, id string) (*taxdomain.Response, error) {
	ruleID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, taxdomain.ErrInvalidID
	}
	item, err := s.repo.FindByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, taxdomain.ErrNotFound
	}
	if item.IsEnabled {
		now := s.clock.Now().UTC()
		if err := s.repo.SetEnabled(ctx, ruleID, false, now); err != nil {
			return nil, err
		}
		item.IsEnabled = false
		item.UpdatedAt = now
	}
	resp := toResponse(item)
	return &resp, nil
}

func toResponse(t *taxdomain.TaxRule) taxdomain.Response {
	return taxdomain.Response{
		ID:          t.ID.String(),
		CountryCode: t.CountryCode,
		Code:        t.Code,
		Name:        t.Name,
		Rate:        t.Rate,
		Position:    t.Position,
		IsEnabled:   t.IsEnabled,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}
