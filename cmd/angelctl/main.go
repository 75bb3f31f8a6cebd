// Package main provides angelctl, a terminal client for Angel ventures.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ashureev/angel-console/internal/angel"
)

const appName = "angelctl"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		// Backend failures were already printed by the notifier.
		if angel.KindOf(err) == "" {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Terminal client for Angel ventures",
		Long: `angelctl talks to the Angel backend from the terminal.

Sign in once; the session is kept in a local SQLite file and refreshed
automatically. Then list your ventures and continue a conversation with
"angelctl chat <venture-id>".`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.apiURL, "api-url", "", "Angel API base URL (default $ANGEL_API_URL)")
	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", defaultDBPath(), "Session database path")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		signInCmd(opts),
		signUpCmd(opts),
		resetPasswordCmd(opts),
		logoutCmd(opts),
		statusCmd(opts),
		venturesCmd(opts),
		chatCmd(opts),
		roadmapCmd(opts),
		taskCmd(opts),
		agentCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, version)
			},
		},
	)

	return cmd
}
