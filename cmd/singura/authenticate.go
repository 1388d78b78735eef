package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/darrentmorgan/singura/internal/config"
	"github.com/darrentmorgan/singura/internal/discovery"
)

var (
	authenticateToken      string
	authenticateTokenStdin bool
)

var authenticateCmd = &cobra.Command{
	Use:   "authenticate <platform>",
	Short: "Validate a platform access token without storing it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAuthenticate(cmd, strings.TrimSpace(args[0]))
	},
}

func init() {
	authenticateCmd.Flags().StringVar(&authenticateToken, "token", "", "Access token to validate (discouraged; prefer --token-stdin)")
	authenticateCmd.Flags().BoolVar(&authenticateTokenStdin, "token-stdin", false, "Read the access token from stdin")
}

func runAuthenticate(cmd *cobra.Command, platform string) error {
	if platform == "" {
		return errors.New("a platform is required")
	}

	token, err := resolveAccessToken(cmd, authenticateToken, authenticateTokenStdin)
	if err != nil {
		return err
	}

	cfg, err := config.LoadOptionalDB()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	connector, err := reg.NewConnector(platform, discovery.OAuthCredentials{AccessToken: token})
	if err != nil {
		return err
	}

	result := connector.Authenticate(ctx)
	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))

	if !result.Success {
		return &exitError{code: 1, silent: true}
	}
	return nil
}

func resolveAccessToken(cmd *cobra.Command, flagToken string, fromStdin bool) (string, error) {
	if fromStdin {
		if flagToken != "" {
			return "", errors.New("--token and --token-stdin are mutually exclusive")
		}
		token, err := readTokenFromStdin()
		if err != nil {
			return "", err
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return "", errors.New("token is empty")
		}
		return token, nil
	}

	if flagToken != "" {
		return flagToken, nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("no token provided (use --token or --token-stdin)")
	}

	cmd.Print("Access token: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	cmd.Println()
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", errors.New("token is empty")
	}
	return token, nil
}

func readTokenFromStdin() (string, error) {
	in, err := os.Stdin.Stat()
	if err != nil {
		return "", err
	}
	if in.Mode()&os.ModeCharDevice != 0 {
		return "", errors.New("stdin is a terminal; use --token or omit to prompt")
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", nil
	}
	return scanner.Text(), nil
}
