package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nimbuschat/gatekeeper/internal/app"
	"github.com/nimbuschat/gatekeeper/internal/config"
	"github.com/nimbuschat/gatekeeper/internal/observability"
	"github.com/nimbuschat/gatekeeper/internal/tools/common"
	"github.com/nimbuschat/gatekeeper/internal/tools/diag"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "gatekeeper",
		Short:        "Access and usage admission control service",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newCleanupCommand())
	root.AddCommand(diag.NewCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
}

func newCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Purge expired and revoked admin sessions once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			removed, err := a.AdminSessions.Cleanup(ctx)
			if err != nil {
				return err
			}
			a.Logger.Info("admin session cleanup complete", "removed", removed)
			fmt.Printf("removed %d stale admin sessions\n", removed)
			return nil
		},
	}
}

func buildApp(ctx context.Context) (*app.App, error) {
	if err := common.LoadEnvFile(".env"); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, loggerProvider, err := observability.InitLogging(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	slog.SetDefault(logger)

	runtime, err := observability.InitRuntime(ctx, cfg, logger, loggerProvider)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	return app.New(ctx, cfg, logger, runtime)
}
