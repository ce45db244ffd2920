// Package scheduler runs the background loops (C10): a latency probe, an
// expiry sweep and audit pruning, each on its own ticker, plus webhook
// delivery polling its queue, all with graceful shutdown via context
// cancellation.
package scheduler

import (
	"context"
	"strconv"
	"time"

	"github.com/feen-dev/feen-gateway/internal/logging"
	"github.com/feen-dev/feen-gateway/internal/model"
	"github.com/feen-dev/feen-gateway/internal/webhook"
)

const (
	latencyProbeInterval = 60 * time.Second
	expirySweepInterval  = 24 * time.Hour
	auditPruneInterval   = 7 * 24 * time.Hour
)

// LatencyStore is the fast-store surface the probe writes cached samples to.
type LatencyStore interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// APIKeys resolves, per provider, the most recently used active key.
type APIKeys interface {
	MostRecentlyUsedByProvider(ctx context.Context, provider model.Provider) (*model.APIKey, error)
	ActiveProviders(ctx context.Context) ([]model.Provider, error)
}

// Prober issues the minimal upstream request used to sample latency.
type Prober interface {
	Probe(ctx context.Context, apiKey *model.APIKey) (latencyMS int64, ok bool)
}

// SharedTokens is the subset of C2 needed for the expiry sweep.
type SharedTokens interface {
	ListExpiredActive(ctx context.Context, now time.Time) ([]*model.SharedToken, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// AuditLogs is the subset of C2 needed for pruning.
type AuditLogs interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// WebhookQueue pops queued events for delivery.
type WebhookQueue interface {
	Pop(ctx context.Context) (*model.WebhookEvent, bool, error)
}

// Scheduler owns the four independent loops. Each Run* method blocks until
// ctx is cancelled and is intended to run in its own goroutine.
type Scheduler struct {
	keys        APIKeys
	prober      Prober
	latency     LatencyStore
	tokens      SharedTokens
	audit       AuditLogs
	auditRetain time.Duration
	queue       WebhookQueue
	delivery    *webhook.Delivery
}

func New(
	keys APIKeys, prober Prober, latency LatencyStore,
	tokens SharedTokens, audit AuditLogs, auditRetain time.Duration,
	queue WebhookQueue, delivery *webhook.Delivery,
) *Scheduler {
	return &Scheduler{
		keys: keys, prober: prober, latency: latency,
		tokens: tokens, audit: audit, auditRetain: auditRetain,
		queue: queue, delivery: delivery,
	}
}

// RunLatencyProbe samples upstream latency for each provider with an
// active key, every 60 seconds. Failures are silent per spec.md §4.9.
func (s *Scheduler) RunLatencyProbe(ctx context.Context) {
	ticker := time.NewTicker(latencyProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probeOnce(ctx)
		}
	}
}

func (s *Scheduler) probeOnce(ctx context.Context) {
	log := logging.FromContext(ctx)
	providers, err := s.keys.ActiveProviders(ctx)
	if err != nil {
		log.Warn("latency probe: failed to list active providers", "error", err)
		return
	}
	for _, provider := range providers {
		key, err := s.keys.MostRecentlyUsedByProvider(ctx, provider)
		if err != nil || key == nil {
			continue
		}
		ms, ok := s.prober.Probe(ctx, key)
		if !ok {
			continue
		}
		cacheKey := "latency:" + string(provider)
		if err := s.latency.Set(ctx, cacheKey, strconv.FormatInt(ms, 10), latencyProbeInterval); err != nil {
			log.Warn("latency probe: failed to cache sample", "provider", provider, "error", err)
		}
	}
}

// RunExpirySweep marks expired shared tokens inactive once a day.
func (s *Scheduler) RunExpirySweep(ctx context.Context) {
	ticker := time.NewTicker(expirySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Scheduler) sweepOnce(ctx context.Context) {
	log := logging.FromContext(ctx)
	expired, err := s.tokens.ListExpiredActive(ctx, time.Now())
	if err != nil {
		log.Warn("expiry sweep: failed to list expired tokens", "error", err)
		return
	}
	for _, tok := range expired {
		if err := s.tokens.SetActive(ctx, tok.ID, false); err != nil {
			log.Warn("expiry sweep: failed to deactivate token", "token_id", tok.ID, "error", err)
			continue
		}
		if s.delivery != nil {
			_ = s.delivery.Dispatch(ctx, &model.WebhookEvent{
				Event:     "token.expired",
				Payload:   map[string]any{"token_id": tok.ID},
				CreatedAt: time.Now(),
			})
		}
	}
}

// RunAuditPruning deletes audit rows older than the retention threshold
// once a week.
func (s *Scheduler) RunAuditPruning(ctx context.Context) {
	ticker := time.NewTicker(auditPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pruneOnce(ctx)
		}
	}
}

func (s *Scheduler) pruneOnce(ctx context.Context) {
	log := logging.FromContext(ctx)
	cutoff := time.Now().Add(-s.auditRetain)
	n, err := s.audit.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		log.Warn("audit pruning failed", "error", err)
		return
	}
	log.Info("audit pruning complete", "rows_deleted", n, "cutoff", cutoff)
}

// RunWebhookDelivery drains the delivery queue continuously, blocking
// briefly between empty polls.
func (s *Scheduler) RunWebhookDelivery(ctx context.Context) {
	const idleBackoff = 500 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		event, ok, err := s.queue.Pop(ctx)
		if err != nil {
			logging.FromContext(ctx).Warn("webhook delivery: failed to pop queue", "error", err)
			sleepOrDone(ctx, idleBackoff)
			continue
		}
		if !ok {
			sleepOrDone(ctx, idleBackoff)
			continue
		}
		if err := s.delivery.Dispatch(ctx, event); err != nil {
			logging.FromContext(ctx).Warn("webhook delivery: dispatch failed", "event", event.Event, "error", err)
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
