package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"budgee-sync/src/api"
	"budgee-sync/src/audit"
	"budgee-sync/src/config"
	"budgee-sync/src/db"
	"budgee-sync/src/logger"
	"budgee-sync/src/scheduler"
	"budgee-sync/src/util"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "budgee-sync",
		Short: "Bank sync and reconciliation engine for budgee",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCommand(), newMigrateCommand(), newSyncCommand(), newBackfillCommand(), newCleanupCommand())
	return rootCmd
}

// withApp loads configuration, wires the services and runs fn with a context
// that is cancelled on SIGINT or SIGTERM.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return err
	}
	defer a.Close()

	if err := fn(ctx, a); err != nil {
		log.Error().Err(err).Str("command", cmd.Name()).Msg("command failed")
		return err
	}
	return nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the periodic sync scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, serve)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	log := logger.FromContext(ctx)

	sched := scheduler.New()
	err := sched.Register(api.SyncJob, a.cfg.SyncInterval, func(ctx context.Context) error {
		_, err := a.orchestrator.Run(ctx)
		return err
	}, scheduler.Immediately())
	if err != nil {
		return err
	}
	sched.Start(ctx)

	deps := api.Deps{
		Logger:      log,
		JWTSecret:   a.cfg.JWTSecret,
		CORSOrigins: a.cfg.CORSOrigins,
		ReadOnly:    a.cfg.ReadOnly,
		Reconciler:  a.reconciler,
		Audit:       a.audit,
		Conns:       a.store,
		Syncer:      a.orchestrator,
		Rules:       a.store,
		Jobs:        sched,
	}
	if a.plaidClient != nil {
		deps.Verifier = util.NewWebhookVerifier(util.PlaidKeyFetcher(a.plaidClient))
	}

	server := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", a.cfg.Port).Msg("API server running")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("scheduler did not stop in time")
		return err
	}
	log.Info().Msg("shutdown complete")
	return nil
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := db.Migrate(ctx, a.pool); err != nil {
					return err
				}
				lg := logger.FromContext(ctx)
				lg.Info().Msg("schema applied")
				return nil
			})
		},
	}
}

func newSyncCommand() *cobra.Command {
	var connectionID int64
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync over every active connection, or one with --connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if connectionID > 0 {
					res, err := a.orchestrator.SyncConnection(ctx, connectionID)
					if err != nil {
						return err
					}
					return printJSON(cmd, res)
				}
				stats, err := a.orchestrator.Run(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, stats)
			})
		},
	}
	cmd.Flags().Int64Var(&connectionID, "connection", 0, "sync only this connection id")
	return cmd
}

func newBackfillCommand() *cobra.Command {
	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "One-off reconciliation backfills",
	}

	var apply bool
	preBankEra := &cobra.Command{
		Use:   "pre-bank-era",
		Short: "Mark unreviewed manual entries dated before a user's first bank connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				decisions, err := a.reconciler.BackfillPreBankEra(ctx, apply)
				if err != nil {
					return err
				}
				recordCleanup(ctx, a, "pre_bank_era", apply, len(decisions))
				return printJSON(cmd, decisions)
			})
		},
	}
	preBankEra.Flags().BoolVar(&apply, "apply", false, "write the changes instead of printing the plan")
	backfillCmd.AddCommand(preBankEra)
	return backfillCmd
}

func newCleanupCommand() *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:       "cleanup duplicates|transfers",
		Short:     "Remove duplicate bank-backed entries or entries created for internal transfers",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"duplicates", "transfers"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				var (
					decisions interface{}
					count     int
				)
				switch args[0] {
				case "duplicates":
					d, err := a.reconciler.CleanupDuplicates(ctx, apply)
					if err != nil {
						return err
					}
					decisions, count = d, len(d)
				case "transfers":
					d, err := a.reconciler.CleanupTransfers(ctx, apply)
					if err != nil {
						return err
					}
					decisions, count = d, len(d)
				}
				recordCleanup(ctx, a, args[0], apply, count)
				return printJSON(cmd, decisions)
			})
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "write the changes instead of printing the plan")
	return cmd
}

func recordCleanup(ctx context.Context, a *app, pass string, apply bool, count int) {
	if !apply {
		return
	}
	_, err := a.audit.Record(ctx, audit.ActionCleanup, audit.ResultSuccess, 0, 0, map[string]interface{}{
		"pass":    pass,
		"changed": count,
	})
	if err != nil {
		lg := logger.FromContext(ctx)
		lg.Warn().Err(err).Msg("audit record failed")
	}
}
