package adjustment

import (
	"github.com/smallbiznis/seatbill/internal/adjustment/repository"
	"github.com/smallbiznis/seatbill/internal/adjustment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("adjustment.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(service.AsHeadcountObserver),
)
