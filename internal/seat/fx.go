package seat

import (
	"github.com/smallbiznis/seatbill/internal/seat/repository"
	"github.com/smallbiznis/seatbill/internal/seat/service"
	"go.uber.org/fx"
)

var Module = fx.Module("seat.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
