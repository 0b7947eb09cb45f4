// Package main runs the event indexer: it follows a ledger server's
// websocket feed and writes every event into the archive.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"token-ledger/internal/app"
	"token-ledger/internal/config"
	"token-ledger/internal/events"
)

var flags struct {
	configPath string
	feedURL    string
	archive    string
	dsn        string
	metrics    string
}

func main() {
	cmd := &cobra.Command{
		Use:          "indexer",
		Short:        "Archive ledger events from a server's event feed",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         run,
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", os.Getenv("TOKEN_CONFIG"), "YAML configuration file")
	cmd.Flags().StringVar(&flags.feedURL, "feed-url", "", "Websocket event feed URL")
	cmd.Flags().StringVar(&flags.archive, "archive", "", "Event archive backend (memory, clickhouse)")
	cmd.Flags().StringVar(&flags.dsn, "clickhouse-dsn", "", "ClickHouse connection string")
	cmd.Flags().StringVar(&flags.metrics, "metrics-addr", "", "Prometheus metrics address (empty disables)")

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
	f := cmd.Flags()
	if f.Changed("feed-url") {
		cfg.Feed.URL = flags.feedURL
	}
	if f.Changed("archive") {
		cfg.Archive.Backend = flags.archive
	}
	if f.Changed("clickhouse-dsn") {
		cfg.Archive.ClickHouseDSN = flags.dsn
	}
	if f.Changed("metrics-addr") {
		cfg.Metrics.Listen = flags.metrics
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Archive.Backend == config.BackendNone {
		return errors.New("indexer needs an archive backend")
	}
	if cfg.Feed.URL == "" {
		return errors.New("feed url is required")
	}

	logger := cfg.Log.NewLogger("indexer")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	app.HandleSignals(cancel, done, logger)

	archive, closeArchive, err := app.OpenArchive(ctx, cfg.Archive, logger)
	if err != nil {
		return fmt.Errorf("open event archive: %w", err)
	}
	defer closeArchive()

	last, err := archive.LastSequence(ctx)
	if err != nil {
		return fmt.Errorf("read archive position: %w", err)
	}

	sink := events.NewStoreSink(archive, logger)
	client := events.NewFeedClient(cfg.Feed.URL, events.DefaultFeedConfig(), last, sink.Publish, cfg.Log.NewLogger("feed"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.Run(gctx)
	})
	if cfg.Metrics.Listen != "" {
		g.Go(func() error {
			return app.ServeHTTP(gctx, app.MetricsServer(cfg.Metrics.Listen), logger)
		})
	}

	logger.Info().
		Str("feed", cfg.Feed.URL).
		Str("archive", cfg.Archive.Backend).
		Uint64("after", last).
		Msg("indexer started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("indexer stopped with error")
		return err
	}

	logger.Info().Uint64("last_sequence", client.LastSequence()).Msg("shutdown complete")
	return nil
}
