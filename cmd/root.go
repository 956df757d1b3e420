// Package cmd defines and implements the CLI commands for the verwatch
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verwatch",
		Short: "Checks tracked packages for new upstream versions.",
		Long: `verwatch watches the upstream sources of locally tracked packages
(GitHub, GitLab, PyPI, npm, the AUR, plain JSON APIs and web pages) and
reports when a newer version is published. Run "verwatch serve" for the
long-running service with its HTTP API, or "verwatch check" for a one-shot
pass over the configured packages.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default searches ., /etc/verwatch and $HOME/.verwatch)")
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCheckCmd())
	return cmd
}

// Execute is the entry point for the CLI. It installs signal handling so
// SIGINT and SIGTERM cancel the command context for a graceful stop.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
