// Package main runs the token ledger service: the JSON API, the websocket
// event feed, the event archive and the local block clock.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"token-ledger/internal/api"
	"token-ledger/internal/app"
	"token-ledger/internal/config"
	"token-ledger/internal/domain"
	"token-ledger/internal/events"
	"token-ledger/internal/storage"
	"token-ledger/internal/token"
)

var flags struct {
	configPath string
	listen     string
	metrics    string
	storage    string
	archive    string
	owner      string
	authMode   string
}

func main() {
	cmd := &cobra.Command{
		Use:          "server",
		Short:        "Run the token ledger API and event feed",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         run,
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", os.Getenv("TOKEN_CONFIG"), "YAML configuration file")
	cmd.Flags().StringVar(&flags.listen, "listen", "", "API listen address")
	cmd.Flags().StringVar(&flags.metrics, "metrics-addr", "", "Prometheus metrics address (empty disables)")
	cmd.Flags().StringVar(&flags.storage, "storage", "", "Ledger state backend (memory, postgres)")
	cmd.Flags().StringVar(&flags.archive, "archive", "", "Event archive backend (none, memory, clickhouse)")
	cmd.Flags().StringVar(&flags.owner, "owner", "", "Initial owner address, deploys the token on first start")
	cmd.Flags().StringVar(&flags.authMode, "auth", "", "Authorization mode (signature, mock)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	config.LoadEnvFile(".env")

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := cfg.Log.NewLogger("server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	app.HandleSignals(cancel, done, logger)

	ledger, closeLedger, err := app.OpenLedger(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("open ledger store: %w", err)
	}
	defer closeLedger()

	archive, closeArchive, err := app.OpenArchive(ctx, cfg.Archive, logger)
	if err != nil {
		return fmt.Errorf("open event archive: %w", err)
	}
	defer closeArchive()

	heights, counter, err := app.NewHeightSource(cfg.Height, logger)
	if err != nil {
		return err
	}
	authorizer, err := app.NewAuthorizer(cfg.Auth.Mode, logger)
	if err != nil {
		return err
	}

	hub := events.NewHub(events.DefaultHubConfig(), archive, cfg.Log.NewLogger("feed"))
	defer hub.Close()

	sinks := events.Fanout{hub}
	if archive != nil {
		sinks = events.Fanout{events.NewStoreSink(archive, cfg.Log.NewLogger("archive")), hub}
	}

	tok := token.New(ledger, authorizer, heights,
		token.WithSink(sinks),
		token.WithLogger(cfg.Log.NewLogger("token")),
	)

	if err := deploy(ctx, tok, cfg.Token, logger); err != nil {
		return err
	}

	srv := api.NewServer(tok,
		api.WithFeed(hub),
		api.WithRateLimit(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst),
		api.WithLogger(cfg.Log.NewLogger("api")),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.ServeHTTP(gctx, &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}, logger)
	})
	if cfg.Metrics.Listen != "" && cfg.Metrics.Listen != cfg.HTTP.Listen {
		g.Go(func() error {
			return app.ServeHTTP(gctx, app.MetricsServer(cfg.Metrics.Listen), logger)
		})
	}
	if counter != nil {
		g.Go(func() error {
			return app.RunBlockClock(gctx, counter, cfg.Height.BlockInterval, logger)
		})
	}

	logger.Info().
		Str("storage", cfg.Storage.Backend).
		Str("archive", cfg.Archive.Backend).
		Str("height", cfg.Height.Source).
		Str("auth", cfg.Auth.Mode).
		Msg("token ledger started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

// deploy initializes the token when an owner is configured. A ledger that
// was deployed on an earlier start is left as is.
func deploy(ctx context.Context, tok *token.Token, cfg config.TokenConfig, logger zerolog.Logger) error {
	if cfg.Owner == "" {
		logger.Info().Msg("no owner configured, skipping deploy")
		return nil
	}

	owner, err := domain.ParseAddress(cfg.Owner)
	if err != nil {
		return fmt.Errorf("token owner: %w", err)
	}

	err = tok.Deploy(ctx, owner, domain.Metadata{
		Decimals: cfg.Decimals,
		Name:     cfg.Name,
		Symbol:   cfg.Symbol,
	})
	switch {
	case err == nil:
		logger.Info().Str("owner", owner.String()).Str("symbol", cfg.Symbol).Msg("token deployed")
	case errors.Is(err, storage.ErrDuplicateKey):
		logger.Info().Msg("token already deployed")
	default:
		return fmt.Errorf("deploy token: %w", err)
	}
	return nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("listen") {
		cfg.HTTP.Listen = flags.listen
	}
	if f.Changed("metrics-addr") {
		cfg.Metrics.Listen = flags.metrics
	}
	if f.Changed("storage") {
		cfg.Storage.Backend = flags.storage
	}
	if f.Changed("archive") {
		cfg.Archive.Backend = flags.archive
	}
	if f.Changed("owner") {
		cfg.Token.Owner = flags.owner
	}
	if f.Changed("auth") {
		cfg.Auth.Mode = flags.authMode
	}
}
