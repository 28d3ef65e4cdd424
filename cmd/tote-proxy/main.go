package main

import (
	"fmt"

	"github.com/alecthomas/kong"
	"go.uber.org/fx"

	"tote-relay/internal/config"
	"tote-relay/internal/handler"
	"tote-relay/internal/server"
	"tote-relay/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	config.LoadDotenv()

	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("tote-proxy"),
		kong.Description("CORS relay for the stock exchange's AJAX endpoints."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		server.Module,
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			func() handler.Component { return "tote-proxy" },
			service.NewExchangeRelay,
			handler.NewExchangeHandler,
			handler.ExchangeRoutes,
		),
	).Run()
}
