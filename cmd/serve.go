package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mercadime/scraperd/internal/app"
	"github.com/mercadime/scraperd/internal/config"
	"github.com/mercadime/scraperd/internal/logging"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scraper daemon: workers, scheduler and HTTP API.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			defer a.Close()

			logger.Info("scraperd starting",
				zap.Int("workers", cfg.Worker.Count),
				zap.String("db", cfg.DB.Provider),
				zap.Bool("headless", cfg.Headless.Enabled),
			)
			return a.Run(ctx)
		},
	}
}
