package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alecthomas/kong"
	"go.uber.org/fx"

	"tote-relay/internal/archive"
	"tote-relay/internal/config"
	"tote-relay/internal/handler"
	"tote-relay/internal/server"
	"tote-relay/internal/service"
	"tote-relay/internal/stocks"
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
		kong.Name("tote-worker"),
		kong.Description("Open CORS relay and stock data dispatcher."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		server.Module,
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			func() handler.Component { return "tote-worker" },
			newArchive,
			service.NewOpenRelay,
			service.NewExchangeRelay,
			fx.Annotate(stocks.NewService, fx.As(new(handler.Operations))),
			handler.NewProxyHandler,
			handler.NewDispatcher,
			handler.WorkerRoutes,
		),
	).Run()
}

// newArchive opens the configured store and closes it when the app stops.
func newArchive(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (archive.Store, error) {
	store, err := archive.Open(context.Background(), cfg, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			store.Close()
			return nil
		},
	})
	return store, nil
}
