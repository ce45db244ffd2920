package process

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/feen-dev/feen-gateway/internal/config"
	"github.com/feen-dev/feen-gateway/internal/logging"
	"github.com/feen-dev/feen-gateway/internal/model"
	"github.com/feen-dev/feen-gateway/internal/policy"
	"github.com/feen-dev/feen-gateway/internal/ratelimit"
	"github.com/feen-dev/feen-gateway/internal/rotation"
	"github.com/feen-dev/feen-gateway/internal/router"
	"github.com/feen-dev/feen-gateway/internal/scheduler"
	"github.com/feen-dev/feen-gateway/internal/store/postgres"
	fstore "github.com/feen-dev/feen-gateway/internal/store/redis"
	"github.com/feen-dev/feen-gateway/internal/transport"
	"github.com/feen-dev/feen-gateway/internal/usage"
	"github.com/feen-dev/feen-gateway/internal/vault"
	"github.com/feen-dev/feen-gateway/internal/webhook"
)

// Context bundles every constructed dependency the HTTP layer and
// background loops need. It is built once at startup and passed by
// reference into constructors, replacing the module-scope singletons the
// source relied on.
type Context struct {
	Config *config.Config

	Store *postgres.Store
	Fast  *fstore.Client
	Box   *vault.Box

	Policy      *policy.Evaluator
	RateLimiter *ratelimit.Limiter
	Guard       *ratelimit.Guard
	Router      *router.Router
	Transport   *transport.Transport
	Usage       *usage.Recorder
	Rotation    *rotation.Controller
	Webhooks    *webhook.Delivery
	Scheduler   *scheduler.Scheduler
}

// New wires the full component graph from cfg: persistent and fast
// stores first, then C4-C10 over narrow adapters (adapters.go) so no
// package outside process depends on postgres/redis concretely.
func New(ctx context.Context, cfg *config.Config) (*Context, error) {
	store, err := postgres.NewStore(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("process: init store: %w", err)
	}
	fast, err := fstore.New(ctx, &cfg.Redis)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("process: init fast store: %w", err)
	}

	box, err := vault.NewBox(
		[]byte(cfg.Vault.MasterKey.Reveal()),
		[]byte(cfg.Vault.KDFSalt.Reveal()),
		cfg.Vault.KDFIterations,
	)
	if err != nil {
		store.Close()
		_ = fast.Close()
		return nil, fmt.Errorf("process: init vault box: %w", err)
	}

	queue := newWebhookQueue(fast)
	audit := newAuditWriter(store.AuditLogs)
	rotationCtl := rotation.New(fast, store.SharedTokens, audit, queue, box, cfg.Vault.PersistPlaintextToken)

	lookup := newSharedTokenLookup(store.SharedTokens, store.APIKeys)
	nonces := newNonceStore(fast)
	policyEval := policy.New(box, lookup, rotationCtl, nonces)

	rateLimiter := ratelimit.New(fast)
	guardCfg := ratelimit.DefaultGuardConfig()
	guardCfg.Limit = int64(cfg.RateLimit.GlobalPerMinute)
	guard, err := ratelimit.NewGuard(guardCfg, fast.UniversalClient())
	if err != nil {
		store.Close()
		_ = fast.Close()
		return nil, fmt.Errorf("process: init rate guard: %w", err)
	}

	latency := newLatencyCache(fast)
	registry := router.NewRegistry(&cfg.Providers)
	rt := router.New(router.DefaultModelTable(), registry, latency)

	keys := newVaultKeys(store.APIKeys, box)
	tp := transport.New(keys, cfg.Server.BaseURL)

	writer := newUsageWriter(store.UsageLogs, store.APIKeys, store.SharedTokens)
	usageRecorder := usage.New(writer, queue, cfg.Usage.Workers, cfg.Usage.BufferSize)

	webhookDelivery := webhook.New(store.Webhooks, audit)

	sched := scheduler.New(
		store.APIKeys, NewProber(registry, box), latency,
		store.SharedTokens, store.AuditLogs, retentionDuration(cfg.Retention.AuditLogDays),
		queue, webhookDelivery,
	)

	return &Context{
		Config:      cfg,
		Store:       store,
		Fast:        fast,
		Box:         box,
		Policy:      policyEval,
		RateLimiter: rateLimiter,
		Guard:       guard,
		Router:      rt,
		Transport:   tp,
		Usage:       usageRecorder,
		Rotation:    rotationCtl,
		Webhooks:    webhookDelivery,
		Scheduler:   sched,
	}, nil
}

// Start launches the usage worker pool and the four background loops.
// Call from cli serve after New succeeds; loops stop when ctx is
// cancelled.
func (c *Context) Start(ctx context.Context) {
	c.Usage.Start(ctx)
	go c.Scheduler.RunLatencyProbe(ctx)
	go c.Scheduler.RunExpirySweep(ctx)
	go c.Scheduler.RunAuditPruning(ctx)
	go c.Scheduler.RunWebhookDelivery(ctx)
}

// Close drains the usage queue and releases store connections. Call after
// the HTTP server has stopped accepting new requests.
func (c *Context) Close(ctx context.Context) {
	c.Usage.Stop()
	if err := c.Fast.Close(); err != nil {
		logging.FromContext(ctx).Warn("failed to close fast store", "error", err)
	}
	c.Store.Close()
}

// RecordAudit writes an audit log entry, assigning ID/CreatedAt when the
// caller left them zero. HTTP handlers use this instead of reaching into
// the unexported audit adapter directly.
func (c *Context) RecordAudit(ctx context.Context, log *model.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	return c.Store.AuditLogs.Insert(ctx, log)
}

func retentionDuration(days int) time.Duration {
	if days <= 0 {
		days = 90
	}
	return time.Duration(days) * 24 * time.Hour
}
