// Package cli is the command-line entry point, grounded on the teacher's
// cli/root.go and cli/cmd/start/start.go: a small cobra root wrapping the
// commands an operator runs against this service directly (serve, migrate,
// healthcheck). The richer workflow/agent/TUI surface of the teacher's own
// CLI has no counterpart in this gateway's domain.
package cli

import (
	"github.com/spf13/cobra"
)

// RootCmd builds the "feen" command tree.
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "feen",
		Short: "feen-gateway is a multi-tenant API key vault and AI provider proxy",
	}
	root.AddCommand(
		ServeCmd(),
		MigrateCmd(),
		HealthcheckCmd(),
	)
	return root
}

// Execute runs the root command, returning any error for main to report.
func Execute() error {
	return RootCmd().Execute()
}
