package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/UnknownOlympus/atlas-batch/internal/config"
	"github.com/UnknownOlympus/atlas-batch/internal/geocoding"
	"github.com/UnknownOlympus/atlas-batch/internal/metrics"
	"github.com/UnknownOlympus/atlas-batch/internal/service"
	"github.com/UnknownOlympus/atlas-batch/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// Constants for different environment types.
const (
	envLocal = "local"
	envDev   = "development"
	envProd  = "production"
)

// main is the entry point of the application.
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command line: a required table location and an optional start index.
func newRootCmd() *cobra.Command {
	var (
		path       string
		startIndex int
	)

	cmd := &cobra.Command{
		Use:   "atlas-batch",
		Short: "Geocode addresses from a spreadsheet",
		Long: "Fills the LAT and LONG columns of an address table (xlsx, csv or a PostgreSQL table) " +
			"by querying a geocoding provider for every row that still lacks coordinates.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if startIndex < 0 {
				return fmt.Errorf("%w: %d", service.ErrInvalidStartIndex, startIndex)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, path, startIndex)
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "Path to the input table (.xlsx, .csv or postgres:// URL)")
	cmd.Flags().IntVar(&startIndex, "start_index", 0, "Start index for processing")
	_ = cmd.MarkFlagRequired("path")

	return cmd
}

// run wires the configured provider and store into a batch processor and executes one run.
func run(ctx context.Context, path string, startIndex int) error {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Configuration error", "error", err)
		return err
	}

	logger := setupLogger(cfg.Env)

	reg := prometheus.NewRegistry()
	appMetrics := metrics.NewMetrics(reg)

	provider, err := geocoding.NewProvider(geocoding.ProviderConfig{
		Type:      geocoding.ProviderType(cfg.ProviderType),
		APIKey:    cfg.APIKey,
		BaseURL:   cfg.ProviderURL,
		RateLimit: cfg.RateLimit,
		Timeout:   cfg.RequestTimeout,
		Logger:    logger,
	})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to create geocoding provider", "error", err)
		return err
	}

	store, closeStore, err := storage.Open(ctx, path, storage.Options{
		Sheet:   cfg.Sheet,
		PGTable: cfg.PGTable,
		Logger:  logger,
	})
	if err != nil {
		logger.ErrorContext(ctx, "Error reading file", "path", path, "error", err)
		return err
	}
	defer closeStore()

	processor := service.NewBatchProcessor(logger, store, provider, cfg.ProviderType, appMetrics, service.Options{
		DailyLimit: cfg.DailyLimit,
		Delay:      cfg.Throttle,
	})

	summary, runErr := processor.Run(ctx, startIndex)
	switch {
	case errors.Is(runErr, service.ErrLoad):
		logger.ErrorContext(ctx, "Error reading file", "path", path, "error", runErr)
	case errors.Is(runErr, service.ErrSave):
		logger.ErrorContext(ctx, "Error saving file", "path", path, "error", runErr)
	case runErr != nil:
		logger.ErrorContext(ctx, "Batch failed", "error", runErr)
	default:
		logger.InfoContext(ctx, "Batch finished",
			"candidates", summary.Candidates,
			"processed", summary.Processed,
			"resolved", summary.Resolved,
			"unresolved", summary.Unresolved,
			"saved", summary.Saved,
		)
	}

	if err = metrics.Export(reg, cfg.Metrics.PushgatewayURL, cfg.Metrics.TextfilePath); err != nil {
		logger.WarnContext(ctx, "Failed to export metrics", "error", err)
	}

	return runErr
}

// setupLogger initializes and returns a logger based on the environment provided.
func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
				Level:     slog.LevelDebug,
				AddSource: true,
			}),
		)
	case envDev:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
				Level: slog.LevelInfo,
			}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level: slog.LevelInfo,
			}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level: slog.LevelInfo,
			}),
		)

		log.Error(
			"The env parameter was not specified or was invalid. Using production logging.",
			slog.String("available_envs", "local, development, production"))
	}

	return log
}
