package process

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feen-dev/feen-gateway/internal/model"
	"github.com/feen-dev/feen-gateway/internal/store/postgres"
)

func TestRetentionDurationConvertsDaysToDuration(t *testing.T) {
	assert.Equal(t, 30*24*time.Hour, retentionDuration(30))
}

func TestRetentionDurationDefaultsWhenNonPositive(t *testing.T) {
	assert.Equal(t, 90*24*time.Hour, retentionDuration(0))
	assert.Equal(t, 90*24*time.Hour, retentionDuration(-5))
}

type fakeAuditLogs struct{ inserted []*model.AuditLog }

func (f *fakeAuditLogs) Insert(_ context.Context, l *model.AuditLog) error {
	f.inserted = append(f.inserted, l)
	return nil
}

func (f *fakeAuditLogs) DeleteOlderThan(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeAuditLogs) ListByUser(_ context.Context, _ string, _ int) ([]*model.AuditLog, error) {
	return nil, nil
}

func TestRecordAuditAssignsIDAndTimestampWhenMissing(t *testing.T) {
	audit := &fakeAuditLogs{}
	c := &Context{Store: &postgres.Store{AuditLogs: audit}}

	log := &model.AuditLog{Action: model.AuditAPIKeyCreated}
	require.NoError(t, c.RecordAudit(context.Background(), log))

	require.Len(t, audit.inserted, 1)
	assert.NotEmpty(t, audit.inserted[0].ID)
	assert.False(t, audit.inserted[0].CreatedAt.IsZero())
}

func TestRecordAuditPreservesCallerSuppliedFields(t *testing.T) {
	audit := &fakeAuditLogs{}
	c := &Context{Store: &postgres.Store{AuditLogs: audit}}

	fixedTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	log := &model.AuditLog{ID: "audit-1", Action: model.AuditWebhookCreated, CreatedAt: fixedTime}
	require.NoError(t, c.RecordAudit(context.Background(), log))

	assert.Equal(t, "audit-1", audit.inserted[0].ID)
	assert.Equal(t, fixedTime, audit.inserted[0].CreatedAt)
}
