package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feen-dev/feen-gateway/internal/model"
	"github.com/feen-dev/feen-gateway/internal/webhook"
)

type fakeAPIKeys struct {
	providers []model.Provider
	mostRecent map[model.Provider]*model.APIKey
}

func (f *fakeAPIKeys) ActiveProviders(_ context.Context) ([]model.Provider, error) {
	return f.providers, nil
}

func (f *fakeAPIKeys) MostRecentlyUsedByProvider(_ context.Context, p model.Provider) (*model.APIKey, error) {
	return f.mostRecent[p], nil
}

type fakeProber struct{ latencyMS int64 }

func (f *fakeProber) Probe(_ context.Context, _ *model.APIKey) (int64, bool) {
	return f.latencyMS, true
}

type fakeLatencyStore struct {
	mu  sync.Mutex
	set map[string]string
}

func (f *fakeLatencyStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set == nil {
		f.set = map[string]string{}
	}
	f.set[key] = value
	return nil
}

type fakeSharedTokens struct {
	expired      []*model.SharedToken
	deactivated  []string
}

func (f *fakeSharedTokens) ListExpiredActive(_ context.Context, _ time.Time) ([]*model.SharedToken, error) {
	return f.expired, nil
}

func (f *fakeSharedTokens) SetActive(_ context.Context, id string, active bool) error {
	if !active {
		f.deactivated = append(f.deactivated, id)
	}
	return nil
}

type fakeAuditLogs struct{ deletedCutoff time.Time }

func (f *fakeAuditLogs) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.deletedCutoff = cutoff
	return 3, nil
}

type fakeWebhookQueue struct {
	events []*model.WebhookEvent
	idx    int
}

func (f *fakeWebhookQueue) Pop(_ context.Context) (*model.WebhookEvent, bool, error) {
	if f.idx >= len(f.events) {
		return nil, false, nil
	}
	e := f.events[f.idx]
	f.idx++
	return e, true, nil
}

func TestProbeOnceCachesLatencyPerProvider(t *testing.T) {
	keys := &fakeAPIKeys{
		providers:  []model.Provider{model.ProviderOpenAI},
		mostRecent: map[model.Provider]*model.APIKey{model.ProviderOpenAI: {ID: "key-1"}},
	}
	latency := &fakeLatencyStore{}
	s := New(keys, &fakeProber{latencyMS: 120}, latency, nil, nil, 0, nil, nil)

	s.probeOnce(context.Background())

	assert.Equal(t, "120", latency.set["latency:OPENAI"])
}

func TestSweepOnceDeactivatesExpiredTokens(t *testing.T) {
	tokens := &fakeSharedTokens{expired: []*model.SharedToken{{ID: "tok-1"}, {ID: "tok-2"}}}
	s := New(nil, nil, nil, tokens, nil, 0, nil, nil)

	s.sweepOnce(context.Background())

	assert.ElementsMatch(t, []string{"tok-1", "tok-2"}, tokens.deactivated)
}

func TestPruneOnceUsesRetentionWindow(t *testing.T) {
	audit := &fakeAuditLogs{}
	retain := 90 * 24 * time.Hour
	s := New(nil, nil, nil, nil, audit, retain, nil, nil)

	before := time.Now().Add(-retain)
	s.pruneOnce(context.Background())
	after := time.Now().Add(-retain)

	assert.True(t, !audit.deletedCutoff.Before(before) && !audit.deletedCutoff.After(after.Add(time.Second)))
}

type emptyRegistry struct{}

func (emptyRegistry) ListActiveForEvent(_ context.Context, _ string) ([]*model.Webhook, error) {
	return nil, nil
}

type noopAuditWriter struct{}

func (noopAuditWriter) Create(_ context.Context, _ *model.AuditLog) error { return nil }

func TestRunWebhookDeliveryDrainsQueueThenStopsOnCancel(t *testing.T) {
	queue := &fakeWebhookQueue{events: []*model.WebhookEvent{
		{ID: "evt-1", Event: "token.rotated"},
	}}
	delivery := webhook.New(emptyRegistry{}, noopAuditWriter{})
	s := New(nil, nil, nil, nil, nil, 0, queue, delivery)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.RunWebhookDelivery(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunWebhookDelivery did not stop after context cancellation")
	}
	require.GreaterOrEqual(t, queue.idx, 1)
}
