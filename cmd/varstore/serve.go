package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bmcpi/varstore/api"
	"github.com/bmcpi/varstore/api/health"
	"github.com/bmcpi/varstore/api/metrics"
	"github.com/bmcpi/varstore/api/variables"
	"github.com/bmcpi/varstore/internal/backend/image"
	"github.com/bmcpi/varstore/internal/config"
	"github.com/bmcpi/varstore/internal/metric"
	"github.com/bmcpi/varstore/internal/otel"
)

var (
	// GitRev is the git revision of the build. It is set by the Makefile.
	GitRev = "unknown (use make)"

	startTime = time.Now()
)

func init() {
	rootCmd.AddCommand(newServeCmd())
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the variables over HTTP",
		Long: `The serve command exposes the variables, store information, health and
Prometheus metrics over HTTP. With store.watch set, a changed image is
reloaded into a fresh engine.

Example:
  varstore serve --config /config/config.yaml`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}
	logger := cfg.Log
	logger.Info("varstore starting", "version", GitRev, "start_time", startTime)

	// Set up graceful shutdown context
	ctx, cancel := signal.NotifyContext(
		cmd.Context(),
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
	)
	defer cancel()

	ctx, otelShutdown, err := otel.Init(ctx, otel.Config{
		Servicename: "varstore",
		Endpoint:    cfg.Otel.Endpoint,
		Insecure:    cfg.Otel.Insecure,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer otelShutdown()

	icfg, err := image.FromConfig(cfg, fs)
	if err != nil {
		return err
	}
	watcher, err := image.NewWatcher(ctx, logger, fs, icfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			logger.Error(err, "failed to close image watcher")
		}
	}()
	if cfg.Store.Watch {
		if err := watcher.Watch(); err != nil {
			logger.Error(err, "image watching disabled")
		}
	}

	if err := metric.Init(watcher); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		watcher.Start(ctx)
		return nil
	})
	startAPI(ctx, g, cfg, logger, watcher)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("varstore shutdown complete")
	return nil
}

func startAPI(ctx context.Context, g *errgroup.Group, cfg *config.Config, logger logr.Logger, w *image.Watcher) {
	slogger := slog.New(logr.ToSlogHandler(logger.WithName("api")))

	apiServer := api.New(cfg, slogger)
	apiServer.AddHandler("/healthcheck", health.New(slogger, GitRev, startTime, w))
	logger.V(1).Info("registered health check handler", "path", "/healthcheck")
	apiServer.AddHandler("/metrics", metrics.New(slogger, nil))
	logger.V(1).Info("registered metrics handler", "path", "/metrics")
	vh := variables.New(slogger, w, w)

	g.Go(func() error {
		return apiServer.Start(vh.Register)
	})

	// Handle graceful shutdown
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down HTTP server")
		return apiServer.Shutdown()
	})
}
