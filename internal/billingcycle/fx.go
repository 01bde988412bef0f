package billingcycle

import (
	"github.com/smallbiznis/seatbill/internal/billingcycle/repository"
	"github.com/smallbiznis/seatbill/internal/billingcycle/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingcycle.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(service.AsPricingResolver),
)
