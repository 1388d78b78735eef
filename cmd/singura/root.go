package main

import (
	"github.com/spf13/cobra"

	"github.com/darrentmorgan/singura/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:           "singura",
	Short:         "Singura discovers and risk-scores the automations connected to your SaaS platforms.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		structured := commandUsesStructuredLogging(cmd)
		setCommandExecutionContext(commandExecutionContext{
			CommandPath:       cmd.CommandPath(),
			UsesStructuredLog: structured,
		})
		if !structured {
			return nil
		}
		_, err := logging.BootstrapFromEnv(logging.BootstrapOptions{Command: cmd.CommandPath()})
		return err
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd, workerCmd, connectCmd, discoverCmd, auditCmd, permissionsCmd, authenticateCmd)
}
