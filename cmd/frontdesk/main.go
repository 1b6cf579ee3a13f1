package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Freeeeeet/frontdesk/internal/app"
	"github.com/Freeeeeet/frontdesk/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "frontdesk",
		Short:         "Hospital appointment lifecycle engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

// withApp загружает конфиг, собирает App и отдаёт его команде
func withApp(run func(ctx context.Context, a *app.App, logger *zap.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := app.NewLogger(cfg.Environment)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start", zap.Error(err))
		return err
	}
	defer a.Close()

	return run(ctx, a, logger)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the background sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App, logger *zap.Logger) error {
				logger.Info("Starting frontdesk")
				return a.Serve(ctx)
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations (defaults to up)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App, _ *zap.Logger) error {
				return a.Migrate(ctx)
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App, _ *zap.Logger) error {
				return a.Migrate(ctx)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App, logger *zap.Logger) error {
				migrator, err := app.NewMigrator(a.Pool(), logger)
				if err != nil {
					return err
				}
				defer migrator.Close()
				return migrator.Down(ctx)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App, logger *zap.Logger) error {
				migrator, err := app.NewMigrator(a.Pool(), logger)
				if err != nil {
					return err
				}
				defer migrator.Close()
				version, err := migrator.Version(ctx)
				if err != nil {
					return err
				}
				cmd.Printf("schema version: %d\n", version)
				return nil
			})
		},
	})

	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Advance lapsed appointments once (for cron)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App, _ *zap.Logger) error {
				result, err := a.SweepOnce(ctx)
				if err != nil {
					return err
				}
				cmd.Printf("lapsed: %d, no-shows: %d\n", result.Lapsed, result.NoShows)
				return nil
			})
		},
	}
}
