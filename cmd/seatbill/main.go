package main

import (
	"github.com/smallbiznis/seatbill/internal/app"
	"github.com/smallbiznis/seatbill/internal/scheduler"
	"github.com/smallbiznis/seatbill/internal/server"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		app.Core,
		scheduler.Module,
		server.Module,
	).Run()
}
