package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/feen-dev/feen-gateway/internal/config"
	"github.com/feen-dev/feen-gateway/internal/httpapi"
	"github.com/feen-dev/feen-gateway/internal/logging"
	"github.com/feen-dev/feen-gateway/internal/process"
	"github.com/feen-dev/feen-gateway/internal/store/postgres"
)

// ServeCmd starts the HTTP server and background loops (C10), blocking
// until an interrupt/terminate signal is received, then draining.
func ServeCmd() *cobra.Command {
	var skipMigrations bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway's HTTP server and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), skipMigrations)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "skip applying pending database migrations on startup")
	return cmd
}

func runServe(ctx context.Context, skipMigrations bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("cli: load config: %w", err)
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.Level(cfg.Log.Level)
	logCfg.JSON = cfg.Log.JSON
	logging.Init(logCfg)
	log := logging.GetDefault()
	ctx = logging.ContextWithLogger(ctx, log)

	if !skipMigrations {
		if err := postgres.ApplyMigrationsWithLock(ctx, cfg.Database.DSN.Reveal()); err != nil {
			return fmt.Errorf("cli: apply migrations: %w", err)
		}
		log.Info("database migrations applied")
	}

	proc, err := process.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("cli: init process: %w", err)
	}

	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()
	proc.Start(bgCtx)

	server := httpapi.New(cfg, proc)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting http server", "addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
		serveErr <- server.Start()
	}()

	select {
	case err := <-serveErr:
		cancelBg()
		proc.Close(context.Background())
		if err != nil {
			return fmt.Errorf("cli: http server: %w", err)
		}
		return nil
	case <-sigCtx.Done():
		log.Info("shutdown signal received, draining")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn("error during http shutdown", "error", err)
	}
	cancelBg()

	closeCtx, cancelClose := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelClose()
	proc.Close(closeCtx)
	log.Info("shutdown complete")
	return nil
}
