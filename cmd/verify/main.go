// Package main replays the archived event log and compares the result with
// the live ledger state. It exits non-zero when they diverge.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"token-ledger/internal/app"
	"token-ledger/internal/config"
	"token-ledger/internal/verification"
)

var flags struct {
	configPath string
	storage    string
	archive    string
	jsonOut    bool
}

var errDiverged = errors.New("ledger state diverges from event log")

func main() {
	cmd := &cobra.Command{
		Use:          "verify",
		Short:        "Check the ledger state against the archived event log",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         run,
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", os.Getenv("TOKEN_CONFIG"), "YAML configuration file")
	cmd.Flags().StringVar(&flags.storage, "storage", "", "Ledger state backend (postgres)")
	cmd.Flags().StringVar(&flags.archive, "archive", "", "Event archive backend (clickhouse)")
	cmd.Flags().BoolVar(&flags.jsonOut, "json", false, "Output the report as JSON")

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
	if cmd.Flags().Changed("storage") {
		cfg.Storage.Backend = flags.storage
	}
	if cmd.Flags().Changed("archive") {
		cfg.Archive.Backend = flags.archive
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Archive.Backend == config.BackendNone {
		return errors.New("verify needs an archive backend")
	}

	logger := cfg.Log.NewLogger("verify")

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

	report, err := verification.NewReplayVerifier(archive, ledger, logger).Verify(ctx)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	if flags.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
	} else {
		printReport(report)
	}

	if !report.Match {
		return errDiverged
	}
	return nil
}

func printReport(r *verification.Report) {
	fmt.Printf("Events replayed: %d\n", r.EventsReplayed)
	fmt.Printf("Last sequence:   %d\n", r.LastSequence)
	fmt.Printf("Holders:         %d\n", r.Holders)
	if r.Match {
		fmt.Println("Result:          MATCH")
		return
	}
	fmt.Printf("Result:          DIVERGED (%d)\n", len(r.Divergences))
	for _, d := range r.Divergences {
		fmt.Printf("  %-16s expected=%s actual=%s\n", d.Field, d.Expected, d.Actual)
	}
}
