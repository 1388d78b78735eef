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
	"time"

	"github.com/spf13/cobra"

	"github.com/darrentmorgan/singura/internal/config"
)

var auditSince string

var auditCmd = &cobra.Command{
	Use:   "audit <connection-id>",
	Short: "Print a connection's automation audit trail as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAudit(strings.TrimSpace(args[0]))
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditSince, "since", "", "Only include entries at or after this RFC 3339 timestamp")
}

func runAudit(connectionID string) error {
	if connectionID == "" {
		return errors.New("a connection id is required")
	}

	var since time.Time
	if raw := strings.TrimSpace(auditSince); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("invalid --since value %q, want RFC 3339", raw)
		}
		since = parsed
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

	entries, err := app.service.FetchAuditLog(ctx, connectionID, since)
	if err != nil {
		return err
	}

	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
