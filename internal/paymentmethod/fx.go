package paymentmethod

import (
	"github.com/smallbiznis/seatbill/internal/paymentmethod/repository"
	"github.com/smallbiznis/seatbill/internal/paymentmethod/service"
	"go.uber.org/fx"
)

var Module = fx.Module("paymentmethod.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(service.AsRegistry),
)
