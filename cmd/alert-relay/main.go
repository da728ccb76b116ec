// Command alert-relay runs the notification delivery service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bissquit/alert-relay/internal/app"
	"github.com/bissquit/alert-relay/internal/config"
	pgutil "github.com/bissquit/alert-relay/internal/pkg/postgres"
	"github.com/bissquit/alert-relay/internal/version"
	"github.com/bissquit/alert-relay/migrations"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "alert-relay",
		Short:         "Notification delivery queue and dispatcher",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	rootCmd.AddCommand(
		serveCmd(&configPath),
		processCmd(&configPath),
		migrateCmd(&configPath),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and, if enabled, the queue worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			application, err := app.New(cfg)
			if err != nil {
				return fmt.Errorf("create app: %w", err)
			}

			errCh := make(chan error, 1)
			go func() { errCh <- application.Run() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var runErr error
			select {
			case runErr = <-errCh:
			case <-ctx.Done():
				slog.Info("shutdown signal received")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()

			return errors.Join(runErr, application.Shutdown(shutdownCtx))
		},
	}
}

func processCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Run a single queue processing pass and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			application, err := app.New(cfg)
			if err != nil {
				return fmt.Errorf("create app: %w", err)
			}
			defer func() {
				if err := application.Close(); err != nil {
					slog.Warn("close app", "error", err)
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			result, err := application.ProcessOnce(ctx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"success":     true,
				"processed":   result.Processed,
				"failed":      result.Failed,
				"rescheduled": result.Rescheduled,
			})
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}

	run := func(direction pgutil.MigrateDirection) func(*cobra.Command, []string) error {
		return func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return pgutil.Migrate(cfg.Database.URL, migrations.FS, direction)
		}
	}

	cmd.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply all pending migrations", RunE: run(pgutil.MigrateUp)},
		&cobra.Command{Use: "down", Short: "Roll back the last migration", RunE: run(pgutil.MigrateDown)},
	)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "alert-relay", version.String())
		},
	}
}
