package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/feen-dev/feen-gateway/internal/config"
	"github.com/feen-dev/feen-gateway/internal/store/postgres"
)

// MigrateCmd applies pending schema migrations and exits, for use in init
// containers or release pipelines ahead of a rolling deploy.
func MigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context())
		},
	}
}

func runMigrate(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("cli: load config: %w", err)
	}
	if err := postgres.ApplyMigrationsWithLock(ctx, cfg.Database.DSN.Reveal()); err != nil {
		return fmt.Errorf("cli: apply migrations: %w", err)
	}
	fmt.Println("migrations applied")
	return nil
}
