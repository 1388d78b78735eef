package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/darrentmorgan/singura/internal/config"
	"github.com/darrentmorgan/singura/internal/metrics"
	"github.com/darrentmorgan/singura/internal/orchestrator"
	"github.com/darrentmorgan/singura/internal/web"
)

var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Run the HTTP API and the background discovery loop.",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{annotationStructuredLog: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildAppServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	runner := orchestrator.NewStoreRunner(app.store, app.service)
	scheduler := orchestrator.Scheduler{Runner: runner, Interval: cfg.DiscoveryInterval}
	go scheduler.Run(ctx)

	_, metricsErrCh := metrics.StartServer(ctx, cfg.MetricsAddr)

	srv := web.NewServer(app.service, slog.Default())
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api listening", "addr", cfg.HTTPAddr)
		errCh <- srv.StartServer(httpServer)
	}()

	// A nil metricsErrCh means the metrics listener is disabled; that select
	// case then never fires.
	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case err := <-metricsErrCh:
		if err != nil {
			slog.Error("metrics server failed", "err", err)
			serveErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return serveErr
}
