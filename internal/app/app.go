// Package app builds the ledger's runtime components from configuration.
// It is shared by the server, indexer and verify commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"token-ledger/internal/auth"
	"token-ledger/internal/chain"
	"token-ledger/internal/config"
	"token-ledger/internal/observability"
	"token-ledger/internal/storage"
	chstore "token-ledger/internal/storage/clickhouse"
	"token-ledger/internal/storage/memory"
	"token-ledger/internal/storage/migrations"
	pgstore "token-ledger/internal/storage/postgres"
	"token-ledger/internal/token"
)

// OpenLedger opens the ledger state store. Postgres schemas are migrated first.
func OpenLedger(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (storage.LedgerStore, func(), error) {
	switch cfg.Backend {
	case config.BackendMemory:
		logger.Warn().Msg("using in-memory ledger state; balances are lost on exit")
		return memory.NewLedgerStore(), func() {}, nil

	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		applied, err := migrations.RunPostgresMigrations(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.Info().Strs("migrations", applied).Msg("applied postgres migrations")
		}
		return pgstore.NewLedgerStore(pool), pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// OpenArchive opens the event archive. It returns a nil store for BackendNone.
func OpenArchive(ctx context.Context, cfg config.ArchiveConfig, logger zerolog.Logger) (storage.EventStore, func(), error) {
	switch cfg.Backend {
	case config.BackendNone:
		return nil, func() {}, nil

	case config.BackendMemory:
		return memory.NewEventStore(), func() {}, nil

	case config.BackendClickHouse:
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		logger.Info().Msg("clickhouse archive ready")
		return chstore.NewEventStore(conn), func() { conn.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
}

// NewHeightSource builds the height source. For the local source it also
// returns the counter so the caller can drive it with RunBlockClock.
func NewHeightSource(cfg config.HeightConfig, logger zerolog.Logger) (token.HeightSource, *chain.Counter, error) {
	switch cfg.Source {
	case config.HeightLocal:
		c := chain.NewCounter(cfg.Start)
		return c, c, nil

	case config.HeightRPC:
		opts := []chain.RPCOption{chain.WithLogger(logger)}
		if cfg.RPCMethod != "" {
			opts = append(opts, chain.WithMethod(cfg.RPCMethod))
		}
		return chain.NewRPCHeightSource(cfg.RPCEndpoint, opts...), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown height source %q", cfg.Source)
	}
}

// RunBlockClock advances c by one every interval until ctx is done.
func RunBlockClock(ctx context.Context, c *chain.Counter, interval time.Duration, logger zerolog.Logger) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h, err := c.Advance(1)
			if err != nil {
				return err
			}
			logger.Trace().Uint32("height", h).Msg("ledger closed")
		}
	}
}

// NewAuthorizer builds the authorization oracle for mode.
func NewAuthorizer(mode string, logger zerolog.Logger) (token.Authorizer, error) {
	switch mode {
	case config.AuthSignature:
		return auth.SignatureAuthorizer{}, nil
	case config.AuthMock:
		logger.Warn().Msg("auth mode mock: every address is authorized")
		return auth.MockAll{}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}

// ServeHTTP runs srv until ctx is done, then shuts it down gracefully.
func ServeHTTP(ctx context.Context, srv *http.Server, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown %s: %w", srv.Addr, err)
	}
	return nil
}

// MetricsServer returns a server exposing /metrics and /health on addr.
func MetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// HandleSignals cancels on the first SIGINT/SIGTERM. A second signal, or a
// shutdown that takes longer than 30s, exits immediately.
func HandleSignals(cancel context.CancelFunc, done <-chan struct{}, logger zerolog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("initiating graceful shutdown")
			cancel()
		case <-done:
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn().Str("signal", sig.String()).Msg("second signal, forcing exit")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Warn().Msg("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()
}
