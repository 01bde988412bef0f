package main

import (
	"github.com/smallbiznis/seatbill/internal/app"
	"github.com/smallbiznis/seatbill/internal/scheduler"
	"go.uber.org/fx"
)

// The worker runs the sweeps without the HTTP surface. Run the API with
// SCHEDULER_ENABLED=false when this binary is deployed next to it.
func main() {
	fx.New(
		app.Core,
		scheduler.Module,
		fx.Decorate(func(cfg scheduler.Config) scheduler.Config {
			cfg.Enabled = true
			return cfg
		}),
	).Run()
}
