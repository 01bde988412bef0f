package exchangerate

import (
	"github.com/smallbiznis/seatbill/internal/exchangerate/repository"
	"github.com/smallbiznis/seatbill/internal/exchangerate/service"
	"go.uber.org/fx"
)

var Module = fx.Module("exchangerate.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(service.AsProvider),
)
