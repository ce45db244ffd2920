// Package usage implements the async usage recorder (C8): a bounded
// worker pool that persists one usage record per completed proxy attempt
// without blocking the client response.
package usage

import (
	"context"
	"sync"
	"time"

	"github.com/feen-dev/feen-gateway/internal/logging"
	"github.com/feen-dev/feen-gateway/internal/model"
)

// Record is the unit of work the recorder persists. DailyCap carries the
// shared token's cap (nil if unset) so the recorder can evaluate it
// without a second store round trip back to the token itself.
type Record struct {
	UsageLog      *model.UsageLog
	SharedTokenID string
	APIKeyID      string
	DailyCap      *int
	OccurredAt    time.Time
}

// Writer persists a usage log and the associated counter updates. Each
// method is a separate call, not one transaction; the interface keeps the
// recorder store-agnostic.
type Writer interface {
	InsertUsageLog(ctx context.Context, log *model.UsageLog) error
	TouchAPIKeyLastUsed(ctx context.Context, apiKeyID string, at time.Time) error
	IncrementSharedTokenUsage(ctx context.Context, tokenID string, at time.Time) error
	// SumTotalTokensForDay backs the default lazy daily-cap enforcement
	// path (spec.md §4.4/§4.8): the recorder compares this against a
	// record's DailyCap after every increment.
	SumTotalTokensForDay(ctx context.Context, sharedTokenID string, day time.Time) (int64, error)
	DeactivateSharedToken(ctx context.Context, tokenID string) error
}

// WebhookEnqueuer pushes a daily-cap breach onto the delivery queue (C10),
// mirroring rotation.WebhookEnqueuer.
type WebhookEnqueuer interface {
	Enqueue(ctx context.Context, event *model.WebhookEvent) error
}

// Recorder owns the bounded channel and worker pool. Grounded on the
// teacher's AsyncTokenCounterWorkers/AsyncTokenCounterBufferSize runtime
// knobs, repurposed here for usage-log persistence instead of in-memory
// token counting.
type Recorder struct {
	writer   Writer
	webhooks WebhookEnqueuer
	queue    chan Record
	workers  int
	wg       sync.WaitGroup
}

func New(writer Writer, webhooks WebhookEnqueuer, workers, bufferSize int) *Recorder {
	if workers < 1 {
		workers = 1
	}
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Recorder{
		writer:   writer,
		webhooks: webhooks,
		queue:    make(chan Record, bufferSize),
		workers:  workers,
	}
}

// Start launches the worker pool. Call Stop to drain and shut down.
func (r *Recorder) Start(ctx context.Context) {
	r.wg.Add(r.workers)
	for i := 0; i < r.workers; i++ {
		go r.worker(ctx)
	}
}

// Stop closes the queue and waits for every worker to drain in-flight
// work. It does not accept new records after being called.
func (r *Recorder) Stop() {
	close(r.queue)
	r.wg.Wait()
}

// Enqueue submits a record without blocking the client response. On
// overflow, the oldest queued record is dropped and an operator alert is
// logged, per spec.md §5's back-pressure policy.
func (r *Recorder) Enqueue(ctx context.Context, rec Record) {
	select {
	case r.queue <- rec:
		return
	default:
	}
	select {
	case dropped := <-r.queue:
		logging.FromContext(ctx).Warn("USAGE_BACKPRESSURE: dropping oldest queued usage record",
			"dropped_token_id", dropped.SharedTokenID)
	default:
	}
	select {
	case r.queue <- rec:
	default:
		logging.FromContext(ctx).Warn("USAGE_BACKPRESSURE: usage queue still full after eviction, dropping incoming record",
			"token_id", rec.SharedTokenID)
	}
}

func (r *Recorder) worker(ctx context.Context) {
	defer r.wg.Done()
	for rec := range r.queue {
		r.persist(ctx, rec)
	}
}

// persist writes the record with a single at-most-once retry. Permanent
// failure is logged for operators only; it never surfaces to the client,
// which has already received its response by the time this runs.
func (r *Recorder) persist(ctx context.Context, rec Record) {
	if err := r.writeOnce(ctx, rec); err != nil {
		logging.FromContext(ctx).Warn("usage record write failed, retrying once", "error", err)
		if err := r.writeOnce(ctx, rec); err != nil {
			logging.FromContext(ctx).Error("usage record permanently dropped", "error", err, "token_id", rec.SharedTokenID)
		}
	}
}

func (r *Recorder) writeOnce(ctx context.Context, rec Record) error {
	if err := r.writer.InsertUsageLog(ctx, rec.UsageLog); err != nil {
		return err
	}
	if err := r.writer.TouchAPIKeyLastUsed(ctx, rec.APIKeyID, rec.OccurredAt); err != nil {
		return err
	}
	if err := r.writer.IncrementSharedTokenUsage(ctx, rec.SharedTokenID, rec.OccurredAt); err != nil {
		return err
	}
	r.enforceDailyCap(ctx, rec)
	return nil
}

// enforceDailyCap is the default lazy daily-cap enforcement path: once the
// day's total for the token crosses DailyCap, the token is deactivated and
// a webhook is enqueued, so the next proxy call sees it as inactive.
// Failures here are logged only — a cap check must never turn an already
// successful usage write into a retry.
func (r *Recorder) enforceDailyCap(ctx context.Context, rec Record) {
	if rec.DailyCap == nil {
		return
	}
	total, err := r.writer.SumTotalTokensForDay(ctx, rec.SharedTokenID, rec.OccurredAt)
	if err != nil {
		logging.FromContext(ctx).Warn("daily cap check failed", "token_id", rec.SharedTokenID, "error", err)
		return
	}
	if total <= int64(*rec.DailyCap) {
		return
	}
	if err := r.writer.DeactivateSharedToken(ctx, rec.SharedTokenID); err != nil {
		logging.FromContext(ctx).Warn("failed to deactivate token over daily cap", "token_id", rec.SharedTokenID, "error", err)
		return
	}
	if r.webhooks == nil {
		return
	}
	event := &model.WebhookEvent{
		Event:     "token.daily_cap_exceeded",
		Payload:   map[string]any{"token_id": rec.SharedTokenID, "daily_cap": *rec.DailyCap, "total_tokens": total},
		CreatedAt: rec.OccurredAt,
	}
	if err := r.webhooks.Enqueue(ctx, event); err != nil {
		logging.FromContext(ctx).Warn("failed to enqueue daily cap webhook", "token_id", rec.SharedTokenID, "error", err)
	}
}
