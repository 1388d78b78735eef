package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/darrentmorgan/singura/internal/config"
	"github.com/darrentmorgan/singura/internal/metrics"
	"github.com/darrentmorgan/singura/internal/orchestrator"
)

var workerCmd = &cobra.Command{
	Use:         "worker",
	Short:       "Run the background discovery loop without the HTTP API.",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{annotationStructuredLog: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker()
	},
}

func runWorker() error {
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

	_, metricsErrCh := metrics.StartServer(ctx, cfg.MetricsAddr)
	slog.Info("discovery worker started", "interval", cfg.DiscoveryInterval)

	doneCh := make(chan struct{})
	go func() {
		scheduler.Run(ctx)
		close(doneCh)
	}()

	var workerErr error
	select {
	case <-ctx.Done():
	case <-doneCh:
	case err := <-metricsErrCh:
		if err != nil {
			slog.Error("metrics server failed", "err", err)
			workerErr = err
		}
		stop()
	}
	<-doneCh
	return workerErr
}
