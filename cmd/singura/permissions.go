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
)

var permissionsCmd = &cobra.Command{
	Use:   "permissions <connection-id>",
	Short: "Check whether a connection's credential still carries the capabilities discovery needs.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPermissions(strings.TrimSpace(args[0]))
	},
}

func runPermissions(connectionID string) error {
	if connectionID == "" {
		return errors.New("a connection id is required")
	}

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

	check, err := app.service.CheckPermissions(ctx, connectionID)
	if err != nil {
		return err
	}

	b, err := json.MarshalIndent(check, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))

	if !check.IsValid {
		return &exitError{code: 1, silent: true}
	}
	return nil
}
