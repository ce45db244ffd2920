package cli

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"github.com/feen-dev/feen-gateway/internal/config"
)

// HealthcheckCmd probes a running instance's /healthz endpoint, for use as
// a container HEALTHCHECK or readiness probe command.
func HealthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe a running gateway instance's health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(cmd.Context())
		},
	}
}

func runHealthcheck(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("cli: load config: %w", err)
	}
	client := resty.New().SetTimeout(cfg.Database.PingTimeout)
	resp, err := client.R().SetContext(ctx).Get(cfg.Server.BaseURL + "/healthz")
	if err != nil {
		return fmt.Errorf("cli: healthcheck request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("cli: healthcheck returned status %d", resp.StatusCode())
	}
	fmt.Println("ok")
	return nil
}
