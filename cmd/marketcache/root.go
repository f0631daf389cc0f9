package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/Amund211/marketcache/internal/adapters/marketapi"
	"github.com/Amund211/marketcache/internal/config"
	"github.com/Amund211/marketcache/internal/constants"
	"github.com/Amund211/marketcache/internal/logging"
	"github.com/Amund211/marketcache/internal/ratelimiting"
	"github.com/Amund211/marketcache/internal/reporting"
	"github.com/Amund211/marketcache/internal/telemetry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type globalFlags struct {
	output  string
	verbose bool
}

// app holds what every command that talks to the backend needs.
type app struct {
	config config.Config
	api    *marketapi.Client

	cleanups []func()
}

func (a *app) close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "marketcache",
		Short: "Stale-while-revalidate client for the marketplace API",
		Long: `marketcache reads the marketplace API through a stale-while-revalidate cache.

It can print the platform and skill taxonomy, or watch any API path and print
every state change as the cache revalidates it.`,
		Version:       constants.VERSION,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.output, "output", "o", "yaml", "output format (json|yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(newTaxonomyCmd(flags))
	rootCmd.AddCommand(newWatchCmd(flags))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	instanceID := uuid.New().String()
	handler := logging.NewTracingLogHandler(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return slog.New(handler).With("instanceID", instanceID)
}

// setup loads the configuration and initializes reporting, telemetry and the
// API client. The returned context carries the logger and the Sentry hub.
func setup(ctx context.Context, flags *globalFlags) (context.Context, *app, error) {
	if err := validateOutput(flags.output); err != nil {
		return ctx, nil, err
	}

	logger := newLogger(flags.verbose)
	ctx = logging.AddToContext(ctx, logger)

	cfg, err := config.ConfigFromEnv()
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.DebugContext(ctx, "Loaded config", "config", cfg.NonSensitiveString())

	a := &app{config: cfg}

	flush, err := reporting.NewSentryOrMock(cfg)
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to initialize Sentry: %w", err)
	}
	a.cleanups = append(a.cleanups, flush)
	ctx = reporting.AddHubToContext(ctx)
	ctx = reporting.AddTagsToContext(ctx, map[string]string{"environment": cfg.EnvironmentName()})

	if !cfg.IsDevelopment() {
		shutdown, err := telemetry.SetupOTelSDK(ctx, "marketcache", constants.VERSION)
		if err != nil {
			a.close()
			return ctx, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		a.cleanups = append(a.cleanups, func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.WarnContext(ctx, "Failed to shut down telemetry", "error", err.Error())
			}
		})
	}

	limiter, stopLimiter := ratelimiting.NewTokenBucketRateLimiter(
		ratelimiting.RefillPerSecond(cfg.RequestsPerSecond()),
		ratelimiting.BurstSize(cfg.RequestsPerSecond()),
	)
	a.cleanups = append(a.cleanups, stopLimiter)

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	api, err := marketapi.NewClient(httpClient, cfg.APIBaseURL(), cfg.APIToken(), limiter)
	if err != nil {
		a.close()
		return ctx, nil, fmt.Errorf("failed to initialize API client: %w", err)
	}
	a.api = api

	return ctx, a, nil
}
