package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feen-dev/feen-gateway/internal/model"
)

type fakeWriter struct {
	mu          sync.Mutex
	logs        []*model.UsageLog
	touched     []string
	incrIDs     []string
	failNext    bool
	dailyTotal  int64
	deactivated []string
}

func (f *fakeWriter) InsertUsageLog(_ context.Context, log *model.UsageLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return context.DeadlineExceeded
	}
	f.logs = append(f.logs, log)
	return nil
}

func (f *fakeWriter) TouchAPIKeyLastUsed(_ context.Context, apiKeyID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, apiKeyID)
	return nil
}

func (f *fakeWriter) IncrementSharedTokenUsage(_ context.Context, tokenID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incrIDs = append(f.incrIDs, tokenID)
	return nil
}

func (f *fakeWriter) SumTotalTokensForDay(_ context.Context, _ string, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dailyTotal, nil
}

func (f *fakeWriter) DeactivateSharedToken(_ context.Context, tokenID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated = append(f.deactivated, tokenID)
	return nil
}

type fakeWebhookEnqueuer struct {
	mu     sync.Mutex
	events []*model.WebhookEvent
}

func (f *fakeWebhookEnqueuer) Enqueue(_ context.Context, event *model.WebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func TestRecorder_EnqueueAndDrainOnStop(t *testing.T) {
	writer := &fakeWriter{}
	rec := New(writer, nil, 2, 8)
	rec.Start(context.Background())

	for i := 0; i < 5; i++ {
		rec.Enqueue(context.Background(), Record{
			UsageLog:      &model.UsageLog{ID: "log", SharedTokenID: "tok_1"},
			SharedTokenID: "tok_1",
			APIKeyID:      "key_1",
			OccurredAt:    time.Now(),
		})
	}
	rec.Stop()

	writer.mu.Lock()
	defer writer.mu.Unlock()
	assert.Len(t, writer.logs, 5)
	assert.Len(t, writer.incrIDs, 5)
}

func TestRecorder_RetriesOnceAfterWriteFailure(t *testing.T) {
	writer := &fakeWriter{failNext: true}
	rec := New(writer, nil, 1, 4)
	rec.Start(context.Background())

	rec.Enqueue(context.Background(), Record{
		UsageLog:      &model.UsageLog{ID: "log", SharedTokenID: "tok_2"},
		SharedTokenID: "tok_2",
		APIKeyID:      "key_2",
		OccurredAt:    time.Now(),
	})
	rec.Stop()

	writer.mu.Lock()
	defer writer.mu.Unlock()
	require.Len(t, writer.logs, 1, "retry should have succeeded on second attempt")
}

func TestRecorder_Enqueue_DropsOldestOnOverflow(t *testing.T) {
	writer := &fakeWriter{}
	rec := New(writer, nil, 0, 1) // workers not started, queue capacity 1
	rec.Enqueue(context.Background(), Record{SharedTokenID: "first", UsageLog: &model.UsageLog{}})
	rec.Enqueue(context.Background(), Record{SharedTokenID: "second", UsageLog: &model.UsageLog{}})

	select {
	case r := <-rec.queue:
		assert.Equal(t, "second", r.SharedTokenID, "oldest queued record should have been evicted")
	default:
		t.Fatal("expected one record remaining in queue")
	}
}

func TestRecorder_DeactivatesTokenAndFiresWebhookOverDailyCap(t *testing.T) {
	writer := &fakeWriter{dailyTotal: 5_000}
	webhooks := &fakeWebhookEnqueuer{}
	dailyCap := 1_000
	rec := New(writer, webhooks, 1, 4)
	rec.Start(context.Background())

	rec.Enqueue(context.Background(), Record{
		UsageLog:      &model.UsageLog{ID: "log", SharedTokenID: "tok_capped"},
		SharedTokenID: "tok_capped",
		APIKeyID:      "key_1",
		DailyCap:      &dailyCap,
		OccurredAt:    time.Now(),
	})
	rec.Stop()

	writer.mu.Lock()
	defer writer.mu.Unlock()
	require.Len(t, writer.deactivated, 1)
	assert.Equal(t, "tok_capped", writer.deactivated[0])

	webhooks.mu.Lock()
	defer webhooks.mu.Unlock()
	require.Len(t, webhooks.events, 1)
	assert.Equal(t, "token.daily_cap_exceeded", webhooks.events[0].Event)
}

func TestRecorder_LeavesTokenActiveUnderDailyCap(t *testing.T) {
	writer := &fakeWriter{dailyTotal: 10}
	webhooks := &fakeWebhookEnqueuer{}
	dailyCap := 1_000
	rec := New(writer, webhooks, 1, 4)
	rec.Start(context.Background())

	rec.Enqueue(context.Background(), Record{
		UsageLog:      &model.UsageLog{ID: "log", SharedTokenID: "tok_ok"},
		SharedTokenID: "tok_ok",
		APIKeyID:      "key_1",
		DailyCap:      &dailyCap,
		OccurredAt:    time.Now(),
	})
	rec.Stop()

	writer.mu.Lock()
	defer writer.mu.Unlock()
	assert.Empty(t, writer.deactivated)

	webhooks.mu.Lock()
	defer webhooks.mu.Unlock()
	assert.Empty(t, webhooks.events)
}
