// Package postgres is the persistent store adapter (C2): typed repository
// access over the entities in the data model, backed by pgxpool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/feen-dev/feen-gateway/internal/config"
	"github.com/feen-dev/feen-gateway/internal/logging"
)

const defaultPingTimeout = 3 * time.Second

// Store wraps a pgxpool.Pool and exposes the typed repositories. It does not
// leak pgx types through the repository interfaces it returns.
type Store struct {
	pool *pgxpool.Pool

	Users        UserRepository
	APIKeys      APIKeyRepository
	SharedTokens SharedTokenRepository
	UsageLogs    UsageLogRepository
	AuditLogs    AuditLogRepository
	Webhooks     WebhookRepository
}

// NewStore builds the pgx pool from cfg, verifies connectivity, and wires
// every repository implementation over the shared pool.
func NewStore(ctx context.Context, cfg *config.DatabaseConfig) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("postgres: config is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN.Reveal())
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	logging.FromContext(ctx).Info("postgres store initialized", "max_conns", poolCfg.MaxConns)
	return &Store{
		pool:         pool,
		Users:        &userRepo{pool: pool},
		APIKeys:      &apiKeyRepo{pool: pool},
		SharedTokens: &sharedTokenRepo{pool: pool},
		UsageLogs:    &usageLogRepo{pool: pool},
		AuditLogs:    &auditLogRepo{pool: pool},
		Webhooks:     &webhookRepo{pool: pool},
	}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() { s.pool.Close() }

// HealthCheck pings the pool within a bounded timeout.
func (s *Store) HealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := s.pool.Ping(pingCtx); err != nil {
		return fmt.Errorf("postgres: health check: %w", err)
	}
	return nil
}

// Pool exposes the raw pool for the one transactional batch primitive
// (shared-token creation + audit insert) that must cross repositories.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }
