package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/darrentmorgan/singura/internal/config"
	"github.com/darrentmorgan/singura/internal/credentials"
	"github.com/darrentmorgan/singura/internal/discovery"
)

var (
	connectID           string
	connectName         string
	connectToken        string
	connectTokenStdin   bool
	connectRefreshToken string
	connectClientID     string
	connectClientSecret string
	connectTokenURL     string
	connectExpiresIn    time.Duration
	connectSkipVerify   bool
)

var connectCmd = &cobra.Command{
	Use:   "connect <platform>",
	Short: "Link a platform connection and store its credentials.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConnect(cmd, strings.TrimSpace(args[0]))
	},
}

func init() {
	connectCmd.Flags().StringVar(&connectID, "id", "", "Connection id (defaults to a generated uuid)")
	connectCmd.Flags().StringVar(&connectName, "name", "", "Display name for the connection")
	connectCmd.Flags().StringVar(&connectToken, "token", "", "Access token to store (discouraged; prefer --token-stdin)")
	connectCmd.Flags().BoolVar(&connectTokenStdin, "token-stdin", false, "Read the access token from stdin")
	connectCmd.Flags().StringVar(&connectRefreshToken, "refresh-token", "", "Refresh token for automatic renewal")
	connectCmd.Flags().StringVar(&connectClientID, "client-id", "", "OAuth client id used for refresh")
	connectCmd.Flags().StringVar(&connectClientSecret, "client-secret", "", "OAuth client secret used for refresh")
	connectCmd.Flags().StringVar(&connectTokenURL, "token-url", "", "OAuth token endpoint used for refresh")
	connectCmd.Flags().DurationVar(&connectExpiresIn, "expires-in", 0, "Access token lifetime from now (0 means unknown)")
	connectCmd.Flags().BoolVar(&connectSkipVerify, "skip-verify", false, "Store without authenticating against the platform first")
}

func runConnect(cmd *cobra.Command, platform string) error {
	if platform == "" {
		return errors.New("a platform is required")
	}

	token, err := resolveAccessToken(cmd, connectToken, connectTokenStdin)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	creds := discovery.OAuthCredentials{
		AccessToken:  token,
		RefreshToken: strings.TrimSpace(connectRefreshToken),
	}
	if connectExpiresIn > 0 {
		expires := time.Now().Add(connectExpiresIn)
		creds.ExpiresAt = &expires
	}

	if !connectSkipVerify {
		reg, err := buildRegistry(cfg)
		if err != nil {
			return err
		}
		connector, err := reg.NewConnector(platform, creds)
		if err != nil {
			return err
		}
		result := connector.Authenticate(ctx)
		if !result.Success {
			return fmt.Errorf("authentication against %s failed: %s", platform, result.Error)
		}
	}

	app, err := buildAppServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	id, err := app.store.Save(ctx, credentials.Connection{
		ID:           strings.TrimSpace(connectID),
		Platform:     platform,
		DisplayName:  strings.TrimSpace(connectName),
		TokenURL:     strings.TrimSpace(connectTokenURL),
		ClientID:     strings.TrimSpace(connectClientID),
		ClientSecret: connectClientSecret,
		Credentials:  creds,
	})
	if err != nil {
		return err
	}

	fmt.Println(id)
	return nil
}
