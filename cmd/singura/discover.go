package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/darrentmorgan/singura/internal/config"
	"github.com/darrentmorgan/singura/internal/orchestrator"
)

var discoverAll bool

var discoverCmd = &cobra.Command{
	Use:   "discover [connection-id]",
	Short: "Run discovery for a stored connection and print the result as JSON.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if discoverAll {
			if len(args) > 0 {
				return errors.New("--all does not take a connection id")
			}
			return runDiscoverAll(cmd)
		}
		if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
			return errors.New("a connection id is required (or pass --all)")
		}
		return runDiscoverOne(strings.TrimSpace(args[0]))
	},
}

func init() {
	discoverCmd.Flags().BoolVar(&discoverAll, "all", false, "Run discovery for every stored connection")
}

func runDiscoverOne(connectionID string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := buildAppServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.service.RunDiscovery(ctx, connectionID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return &exitError{code: 130, err: err, silent: true}
		}
		return err
	}

	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func runDiscoverAll(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := buildAppServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	runner := orchestrator.NewStoreRunner(app.store, app.service)
	runErr := runner.RunOnce(ctx)
	switch {
	case runErr == nil:
		return nil
	case errors.Is(runErr, orchestrator.ErrNoConnections):
		cmd.Println("no connections are linked; nothing to discover")
		return nil
	case errors.Is(runErr, context.Canceled):
		return &exitError{code: 130, err: runErr, silent: true}
	default:
		return &exitError{code: 1, err: runErr}
	}
}
